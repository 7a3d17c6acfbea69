// Package routing decides which channels hear about an event. Route has no side
// effects; the dedup gate and delivery happen in the pipeline.
package routing

import (
	"github.com/defnot001/biomebot/common"
	"github.com/defnot001/biomebot/internal/dedup"
	"github.com/defnot001/biomebot/internal/domain"
)

const (
	DefaultTargetLabel = "good first issue"

	// AlertAction is the dedup action recorded for good-first-issue alerts.
	AlertAction = "good-first-issue-alert"
)

type Rule string

const (
	RuleActivity       Rule = "activity"
	RuleGoodFirstIssue Rule = "good_first_issue"
)

// Delivery is one (channel, message) pair. DedupKey is set when the delivery may
// only go out once per logical event within the dedup window.
type Delivery struct {
	ChannelID string
	Message   string
	Rule      Rule
	DedupKey  *dedup.Key
}

// Decision is the union of every rule's outcome. An empty decision means the
// event was filtered out.
type Decision struct {
	Deliveries []Delivery
}

func (d Decision) Empty() bool {
	return len(d.Deliveries) == 0
}

type Config struct {
	ActivityChannelID       string
	GoodFirstIssueChannelID string
	TargetLabel             string
}

type Router struct {
	cfg Config
}

func New(cfg Config) *Router {
	if common.Slug(cfg.TargetLabel) == "" {
		cfg.TargetLabel = DefaultTargetLabel
	}
	return &Router{cfg: cfg}
}

// Route evaluates both rule families and unions their outcomes. The result only
// depends on its arguments and the router's configuration.
func (r *Router) Route(ev domain.Event, class domain.Classification) Decision {
	var decision Decision
	if ev.Kind == domain.KindOther {
		return decision
	}

	if d, ok := r.activity(ev, class); ok {
		decision.Deliveries = append(decision.Deliveries, d)
	}
	if d, ok := r.goodFirstIssue(ev); ok {
		decision.Deliveries = append(decision.Deliveries, d)
	}
	return decision
}

// activity forwards human-authored events. Automation and Unknown actors are
// dropped (fail-closed).
func (r *Router) activity(ev domain.Event, class domain.Classification) (Delivery, bool) {
	if r.cfg.ActivityChannelID == "" || class != domain.ClassificationHuman {
		return Delivery{}, false
	}
	msg, ok := renderActivity(ev)
	if !ok {
		return Delivery{}, false
	}
	return Delivery{
		ChannelID: r.cfg.ActivityChannelID,
		Message:   msg,
		Rule:      RuleActivity,
	}, true
}

// goodFirstIssue alerts on the target label being added, whoever added it.
// Removing the label never produces a message and never clears the dedup entry.
func (r *Router) goodFirstIssue(ev domain.Event) (Delivery, bool) {
	if r.cfg.GoodFirstIssueChannelID == "" || ev.Kind != domain.KindIssueLabeled || ev.Issue == nil {
		return Delivery{}, false
	}
	if !common.SameSlug(ev.Issue.Label, r.cfg.TargetLabel) {
		return Delivery{}, false
	}
	return Delivery{
		ChannelID: r.cfg.GoodFirstIssueChannelID,
		Message:   renderGoodFirstIssue(ev),
		Rule:      RuleGoodFirstIssue,
		DedupKey: &dedup.Key{
			Repository: ev.Repository,
			EntityID:   ev.EntityID(),
			Action:     AlertAction,
		},
	}, true
}

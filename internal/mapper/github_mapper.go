package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/defnot001/biomebot/internal/domain"
	"github.com/defnot001/biomebot/internal/webhook"
)

const (
	eventIssues      = "issues"
	eventPullRequest = "pull_request"
	eventPush        = "push"
)

type GitHubEventMapper struct {
	now func() time.Time
}

func NewGitHubEventMapper() *GitHubEventMapper {
	return &GitHubEventMapper{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the receipt clock used when a payload carries no timestamp.
func (m *GitHubEventMapper) WithClock(now func() time.Time) *GitHubEventMapper {
	m.now = now
	return m
}

func (m *GitHubEventMapper) Map(ctx context.Context, req webhook.InboundRequest) (domain.Event, error) {
	eventType := strings.ToLower(strings.TrimSpace(req.EventType))
	base := domain.Event{
		DeliveryID: req.DeliveryID,
		EventType:  eventType,
		Kind:       domain.KindOther,
		Timestamp:  m.now(),
	}

	switch eventType {
	case eventIssues, eventPullRequest, eventPush:
	default:
		return m.mapOther(base, req.Body), nil
	}

	payload, err := github.ParseWebHook(eventType, req.Body)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: decoding %s: %v", ErrMalformedPayload, eventType, err)
	}

	switch e := payload.(type) {
	case *github.IssuesEvent:
		return m.mapIssues(base, e)
	case *github.PullRequestEvent:
		return m.mapPullRequest(base, e)
	case *github.PushEvent:
		return m.mapPush(base, e)
	}

	return domain.Event{}, fmt.Errorf("%w: unexpected payload type %T for %s", ErrMalformedPayload, payload, eventType)
}

func (m *GitHubEventMapper) mapIssues(ev domain.Event, e *github.IssuesEvent) (domain.Event, error) {
	if err := fillEnvelope(&ev, e.GetRepo().GetFullName(), e.GetSender()); err != nil {
		return domain.Event{}, err
	}

	issue := e.GetIssue()
	if issue.GetID() == 0 || issue.GetNumber() == 0 {
		return domain.Event{}, fmt.Errorf("%w: issue id and number are required", ErrMalformedPayload)
	}

	ev.Action = e.GetAction()
	switch ev.Action {
	case "opened":
		ev.Kind = domain.KindIssueOpened
	case "labeled":
		ev.Kind = domain.KindIssueLabeled
	case "unlabeled":
		ev.Kind = domain.KindIssueUnlabeled
	default:
		return ev, nil
	}

	payload := &domain.Issue{
		ID:     issue.GetID(),
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		URL:    issue.GetHTMLURL(),
	}
	for _, label := range issue.Labels {
		payload.Labels = append(payload.Labels, label.GetName())
	}
	if ev.Kind != domain.KindIssueOpened {
		payload.Label = e.GetLabel().GetName()
		if payload.Label == "" {
			return domain.Event{}, fmt.Errorf("%w: label name is required for %s", ErrMalformedPayload, ev.Action)
		}
	}

	ev.Issue = payload
	if ts := issue.GetUpdatedAt(); !ts.IsZero() {
		ev.Timestamp = ts.UTC()
	}
	return ev, nil
}

func (m *GitHubEventMapper) mapPullRequest(ev domain.Event, e *github.PullRequestEvent) (domain.Event, error) {
	if err := fillEnvelope(&ev, e.GetRepo().GetFullName(), e.GetSender()); err != nil {
		return domain.Event{}, err
	}

	pr := e.GetPullRequest()
	if pr.GetID() == 0 || pr.GetNumber() == 0 {
		return domain.Event{}, fmt.Errorf("%w: pull request id and number are required", ErrMalformedPayload)
	}

	ev.Action = e.GetAction()
	if ev.Action != "opened" {
		return ev, nil
	}

	ev.Kind = domain.KindPullRequestOpened
	ev.PullRequest = &domain.PullRequest{
		ID:     pr.GetID(),
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		URL:    pr.GetHTMLURL(),
		Draft:  pr.GetDraft(),
	}
	if ts := pr.GetUpdatedAt(); !ts.IsZero() {
		ev.Timestamp = ts.UTC()
	}
	return ev, nil
}

func (m *GitHubEventMapper) mapPush(ev domain.Event, e *github.PushEvent) (domain.Event, error) {
	if err := fillEnvelope(&ev, e.GetRepo().GetFullName(), e.GetSender()); err != nil {
		return domain.Event{}, err
	}
	if e.GetRef() == "" {
		return domain.Event{}, fmt.Errorf("%w: push ref is required", ErrMalformedPayload)
	}
	// A deleted branch or tag carries no commits to report.
	if e.GetDeleted() {
		ev.Kind = domain.KindOther
		return ev, nil
	}

	head := e.GetHeadCommit()
	title, _, _ := strings.Cut(head.GetMessage(), "\n")

	ev.Kind = domain.KindPush
	ev.Push = &domain.Push{
		Ref:        e.GetRef(),
		Commits:    len(e.Commits),
		CompareURL: e.GetCompare(),
		HeadSHA:    e.GetAfter(),
		HeadTitle:  title,
	}
	if ts := head.GetTimestamp(); !ts.IsZero() {
		ev.Timestamp = ts.UTC()
	}
	return ev, nil
}

// mapOther keeps whatever envelope information an unsupported payload offers.
// Decoding failures are ignored: Other events are never routed.
func (m *GitHubEventMapper) mapOther(ev domain.Event, body []byte) domain.Event {
	var envelope struct {
		Action     string `json:"action"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Sender *github.User `json:"sender"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ev
	}

	ev.Action = envelope.Action
	ev.Repository = envelope.Repository.FullName
	if envelope.Sender != nil {
		ev.Actor = toActor(envelope.Sender)
	}
	return ev
}

func fillEnvelope(ev *domain.Event, repository string, sender *github.User) error {
	if repository == "" {
		return fmt.Errorf("%w: repository full_name is required", ErrMalformedPayload)
	}
	if sender.GetLogin() == "" {
		return fmt.Errorf("%w: sender login is required", ErrMalformedPayload)
	}
	ev.Repository = repository
	ev.Actor = toActor(sender)
	return nil
}

func toActor(u *github.User) domain.Actor {
	return domain.Actor{
		ID:           u.GetID(),
		Login:        u.GetLogin(),
		DeclaredType: domain.AccountType(u.GetType()),
	}
}

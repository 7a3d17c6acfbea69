package domain

import "time"

// Kind is the variant tag of a parsed webhook event. Every Event carries exactly one.
type Kind string

const (
	KindIssueOpened       Kind = "issue_opened"
	KindIssueLabeled      Kind = "issue_labeled"
	KindIssueUnlabeled    Kind = "issue_unlabeled"
	KindPullRequestOpened Kind = "pull_request_opened"
	KindPush              Kind = "push"
	// KindOther covers every event type or action outside the handled vocabulary.
	// Other events are parsed successfully but never routed.
	KindOther Kind = "other"
)

// IsIssue reports whether the kind carries an Issue payload.
func (k Kind) IsIssue() bool {
	switch k {
	case KindIssueOpened, KindIssueLabeled, KindIssueUnlabeled:
		return true
	}
	return false
}

// Event is the typed form of a verified webhook delivery.
type Event struct {
	ID         int64     // internal snowflake id, assigned on acceptance
	DeliveryID string    // X-GitHub-Delivery, unique per delivery attempt
	EventType  string    // X-GitHub-Event header as received
	Action     string    // payload action, empty for push
	Kind       Kind      // variant tag
	Repository string    // owner/name
	Actor      Actor     // sender
	Timestamp  time.Time // entity update time, falls back to receipt time

	// Exactly one of the variant payloads is set for routed kinds.
	// KindOther events carry none.
	Issue       *Issue
	PullRequest *PullRequest
	Push        *Push
}

type Issue struct {
	ID     int64
	Number int
	Title  string
	URL    string
	Label  string // label added/removed, set for labeled/unlabeled only
	Labels []string
}

type PullRequest struct {
	ID     int64
	Number int
	Title  string
	URL    string
	Draft  bool
}

type Push struct {
	Ref        string
	Commits    int
	CompareURL string
	HeadSHA    string
	HeadTitle  string
}

// EntityID returns the stable identifier of the entity the event is about.
// Push events are keyed by ref since they carry no entity id.
func (e Event) EntityID() string {
	switch {
	case e.Issue != nil:
		return itoa64(e.Issue.ID)
	case e.PullRequest != nil:
		return itoa64(e.PullRequest.ID)
	case e.Push != nil:
		return e.Push.Ref
	}
	return ""
}

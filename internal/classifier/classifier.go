// Package classifier decides whether the identity behind an event is a human.
package classifier

import (
	"strings"

	"github.com/defnot001/biomebot/internal/domain"
)

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// New builds a classifier from the configured identity lists. Logins are matched
// case-insensitively, the way GitHub treats them.
func New(allow, deny []string) *Classifier {
	return &Classifier{
		allow: toSet(allow),
		deny:  toSet(deny),
	}
}

// Classify applies the rules in order, first match wins:
// deny-list, allow-list, declared Bot, declared User/Organization.
func (c *Classifier) Classify(actor domain.Actor) domain.Classification {
	login := normalize(actor.Login)

	if _, ok := c.deny[login]; ok && login != "" {
		return domain.ClassificationAutomation
	}
	if _, ok := c.allow[login]; ok && login != "" {
		return domain.ClassificationHuman
	}

	switch actor.DeclaredType {
	case domain.AccountTypeBot:
		return domain.ClassificationAutomation
	case domain.AccountTypeUser, domain.AccountTypeOrganization:
		return domain.ClassificationHuman
	}
	return domain.ClassificationUnknown
}

func toSet(logins []string) map[string]struct{} {
	set := make(map[string]struct{}, len(logins))
	for _, login := range logins {
		if l := normalize(login); l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

func normalize(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

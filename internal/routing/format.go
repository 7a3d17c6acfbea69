package routing

import (
	"fmt"
	"strings"

	"github.com/defnot001/biomebot/internal/domain"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`, "[", `\[`, "]", `\]`, ">", `\>`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// link renders a masked link; <> around the url keeps Discord from unfurling it.
func link(text, url string) string {
	if url == "" {
		return text
	}
	return fmt.Sprintf("[%s](<%s>)", text, url)
}

func renderActivity(ev domain.Event) (string, bool) {
	actor := escape(ev.Actor.Login)
	repo := escape(ev.Repository)

	switch ev.Kind {
	case domain.KindIssueOpened:
		return fmt.Sprintf("**%s** opened issue %s in %s", actor, issueLink(ev.Issue), repo), true
	case domain.KindIssueLabeled:
		return fmt.Sprintf("**%s** added label `%s` to issue %s in %s", actor, code(ev.Issue.Label), issueLink(ev.Issue), repo), true
	case domain.KindIssueUnlabeled:
		return fmt.Sprintf("**%s** removed label `%s` from issue %s in %s", actor, code(ev.Issue.Label), issueLink(ev.Issue), repo), true
	case domain.KindPullRequestOpened:
		pr := ev.PullRequest
		kind := "pull request"
		if pr.Draft {
			kind = "draft pull request"
		}
		text := escape(fmt.Sprintf("#%d %s", pr.Number, pr.Title))
		return fmt.Sprintf("**%s** opened %s %s in %s", actor, kind, link(text, pr.URL), repo), true
	case domain.KindPush:
		p := ev.Push
		commits := "commits"
		if p.Commits == 1 {
			commits = "commit"
		}
		msg := fmt.Sprintf("**%s** pushed %d %s to `%s` in %s", actor, p.Commits, commits, code(branch(p.Ref)), repo)
		if p.HeadTitle != "" {
			msg += ": " + link(escape(p.HeadTitle), p.CompareURL)
		}
		return msg, true
	}
	return "", false
}

func renderGoodFirstIssue(ev domain.Event) string {
	return fmt.Sprintf("New good first issue in %s: %s\n%s",
		escape(ev.Repository),
		escape(fmt.Sprintf("#%d %s", ev.Issue.Number, ev.Issue.Title)),
		ev.Issue.URL,
	)
}

func issueLink(issue *domain.Issue) string {
	return link(escape(fmt.Sprintf("#%d %s", issue.Number, issue.Title)), issue.URL)
}

// code strips backticks, which cannot be escaped inside an inline code span.
func code(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

func branch(ref string) string {
	if b, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		return b
	}
	if t, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		return t
	}
	return ref
}

package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"

	"release-orchestrator/core/vcs"
)

// ChangelogSource produces the raw release notes of a run
type ChangelogSource interface {
	Changelog(ctx context.Context) (string, error)
}

// ChangelogFunc adapts a function to ChangelogSource
type ChangelogFunc func(ctx context.Context) (string, error)

func (f ChangelogFunc) Changelog(ctx context.Context) (string, error) { return f(ctx) }

// GitChangelog builds notes from the commits since the previous release tag
type GitChangelog struct {
	history   History
	ref       string
	tagPrefix string
}

// NewGitChangelog creates a changelog source for ref. Release tags are the
// tags starting with "v".
func NewGitChangelog(history History, ref string) *GitChangelog {
	return &GitChangelog{history: history, ref: ref, tagPrefix: "v"}
}

// Changelog implements ChangelogSource
func (g *GitChangelog) Changelog(ctx context.Context) (string, error) {
	head, err := g.history.Resolve(ctx, g.ref)
	if err != nil {
		return "", err
	}

	previous, err := g.previousTag(ctx, head)
	if err != nil {
		return "", err
	}

	commits, err := g.history.CommitsSince(ctx, head, previous)
	if err != nil {
		return "", fmt.Errorf("failed to read commits since %q: %w", previous, err)
	}
	return RenderChangelog(commits), nil
}

// previousTag returns the newest release tag not pointing at head, or "" when
// there is none.
func (g *GitChangelog) previousTag(ctx context.Context, head string) (string, error) {
	tags, err := g.history.Tags(ctx)
	if err != nil {
		return "", err
	}
	for i := len(tags) - 1; i >= 0; i-- {
		t := tags[i]
		if !strings.HasPrefix(t.Name, g.tagPrefix) || t.Commit == head {
			continue
		}
		return t.Name, nil
	}
	return "", nil
}

type section struct {
	title string
	lines []string
}

// RenderChangelog groups commit subjects by conventional commit type
func RenderChangelog(commits []vcs.Commit) string {
	machine := parser.NewMachine(
		conventionalcommits.WithTypes(conventionalcommits.TypesConventional),
		conventionalcommits.WithBestEffort(),
	)

	features := &section{title: "Features"}
	fixes := &section{title: "Fixes"}
	other := &section{title: "Other"}

	for _, c := range commits {
		if c.Subject == "" || strings.HasPrefix(c.Subject, "Merge ") {
			continue
		}
		short := c.Hash
		if len(short) > 7 {
			short = short[:7]
		}

		target, line := other, c.Subject
		msg, err := machine.Parse([]byte(c.Subject))
		if cc, ok := msg.(*conventionalcommits.ConventionalCommit); err == nil && ok && cc.Ok() {
			line = cc.Description
			if cc.Scope != nil && *cc.Scope != "" {
				line = fmt.Sprintf("**%s:** %s", *cc.Scope, line)
			}
			if cc.IsBreakingChange() {
				line = "BREAKING: " + line
			}
			switch cc.Type {
			case "feat":
				target = features
			case "fix":
				target = fixes
			}
		}
		target.lines = append(target.lines, fmt.Sprintf("- %s (%s)", line, short))
	}

	var b strings.Builder
	for _, s := range []*section{features, fixes, other} {
		if len(s.lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + s.title + "\n")
		for _, l := range s.lines {
			b.WriteString(l + "\n")
		}
	}
	return b.String()
}

var sanitizer = strings.NewReplacer("`", "'", `"`, "'", "\r", "")

// Sanitize makes release notes safe for downstream markup: backticks and
// double quotes become single quotes and carriage returns are dropped.
func Sanitize(s string) string {
	return sanitizer.Replace(s)
}

// Package export renders a conversation as a Markdown document.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Options controls rendering.
type Options struct {
	// IncludeAffect appends each entry's affect vector and trust score.
	IncludeAffect bool
	// Now stamps the document and the filename; zero means time.Now.
	Now time.Time
	// Location renders entry times; nil means time.Local.
	Location *time.Location
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

func (o Options) loc() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Markdown renders entries, ordered as given, under title.
func Markdown(title string, entries []types.LogEntry, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Exported:** %s\n\n", opts.now().In(opts.loc()).Format("January 2, 2006"))
	b.WriteString("---\n\n")
	b.WriteString("## Conversation\n\n")

	for i, e := range entries {
		at := e.CreatedAt.In(opts.loc()).Format("3:04 PM")
		if e.UserText != nil && *e.UserText != "" {
			fmt.Fprintf(&b, "**User** (%s)\n", at)
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(*e.UserText, "\n", "\n> "))
		}
		if e.AIResponse != nil && *e.AIResponse != "" {
			fmt.Fprintf(&b, "**Solace** (%s)\n", at)
			fmt.Fprintf(&b, "%s\n\n", *e.AIResponse)
		}
		if opts.IncludeAffect {
			b.WriteString("📊 **Emotion State:**\n")
			for _, c := range e.Affect.Components() {
				fmt.Fprintf(&b, "- %s: %.3f\n", c.Label, c.Value)
			}
			b.WriteString("\n")
			if e.TrustScore != nil {
				fmt.Fprintf(&b, "🎯 **Trust Score:** %.3f\n\n", *e.TrustScore)
			}
		}
		if i < len(entries)-1 {
			b.WriteString("---\n\n")
		}
	}
	return b.String()
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_\s]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// Filename derives "<sanitized-lower-title>-<YYYY-MM-DD>.md" from title.
func Filename(title string, now time.Time) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = strings.ToLower(spaceRuns.ReplaceAllString(s, "-"))
	return fmt.Sprintf("%s-%s.md", s, now.UTC().Format("2006-01-02"))
}

// WriteFile renders the document into dir and returns the path written.
func WriteFile(dir, title string, entries []types.LogEntry, opts Options) (string, error) {
	if dir == "" {
		dir = "."
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, Filename(title, opts.Now))
	if err := os.WriteFile(path, []byte(Markdown(title, entries, opts)), 0o644); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return path, nil
}

package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/contextgraph/internal/store"
)

const (
	maxTranscriptChars = 50000
	maxNotesChars      = 10000
)

// CallAdapter handles call folders: metadata.json (or .yaml),
// transcript.txt (required) and notes.md (optional).
type CallAdapter struct{}

func (c *CallAdapter) Kind() string { return KindCall }

// CanHandle returns true for a folder holding a transcript.
func (c *CallAdapter) CanHandle(path string) bool {
	return isDir(path) && fileExists(filepath.Join(path, "transcript.txt"))
}

func (c *CallAdapter) BuildPrompt(ctx context.Context, in *store.Interaction, who Persona) (Prompt, error) {
	dir := in.SourcePath
	md, err := loadMetadata(dir)
	if err != nil {
		return Prompt{}, err
	}
	transcript, err := readLimited(filepath.Join(dir, "transcript.txt"), maxTranscriptChars)
	if err != nil {
		return Prompt{}, err
	}
	notes, err := readOptional(filepath.Join(dir, "notes.md"), maxNotesChars)
	if err != nil {
		return Prompt{}, err
	}

	title := firstNonEmpty(md.Title, in.Title, "Untitled Call")
	date := firstNonEmpty(md.Date, formatTimestamp(in))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract items and entities from this call.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", title)
	if date != "" {
		fmt.Fprintf(&sb, "Date: %s\n", date)
	}
	if attendees := callAttendees(md); len(attendees) > 0 {
		fmt.Fprintf(&sb, "Attendees: %s\n", strings.Join(attendees, ", "))
	}
	sb.WriteString("\n")
	section(&sb, "Notes", notes)
	section(&sb, "Transcript (line-numbered)", numberLines(transcript))

	return Prompt{System: SystemPrompt("a call transcript", who), User: sb.String()}, nil
}

func callAttendees(md *Metadata) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, a := range md.Attendees {
		add(a.Label())
	}
	add(strings.TrimSpace(md.InferredSpeakers.Other))
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func formatTimestamp(in *store.Interaction) string {
	if in.Timestamp.IsZero() {
		return ""
	}
	return in.Timestamp.UTC().Format("2006-01-02 15:04")
}

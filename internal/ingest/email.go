package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/contextgraph/internal/store"
)

const maxEmailBodyChars = 30000

// EmailAdapter handles email folders: metadata.json (or .yaml) and body.md.
type EmailAdapter struct{}

func (e *EmailAdapter) Kind() string { return KindEmail }

// CanHandle returns true for a folder holding body.md.
func (e *EmailAdapter) CanHandle(path string) bool {
	return isDir(path) && fileExists(filepath.Join(path, "body.md"))
}

func (e *EmailAdapter) BuildPrompt(ctx context.Context, in *store.Interaction, who Persona) (Prompt, error) {
	dir := in.SourcePath
	md, err := loadMetadata(dir)
	if err != nil {
		return Prompt{}, err
	}
	body, err := readLimited(filepath.Join(dir, "body.md"), maxEmailBodyChars)
	if err != nil {
		return Prompt{}, err
	}

	var to []string
	for _, a := range md.To {
		if l := a.Label(); l != "" {
			to = append(to, l)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract items and entities from this email.\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n", firstNonEmpty(md.Subject, in.Title, "No Subject"))
	if date := firstNonEmpty(md.Date, formatTimestamp(in)); date != "" {
		fmt.Fprintf(&sb, "Date: %s\n", date)
	}
	fmt.Fprintf(&sb, "From: %s\n", firstNonEmpty(md.From.Label(), "Unknown"))
	if md.From.Email != "" && md.From.Name != "" {
		fmt.Fprintf(&sb, "From email: %s\n", md.From.Email)
	}
	if len(to) > 0 {
		fmt.Fprintf(&sb, "To: %s\n", strings.Join(to, ", "))
	}
	sb.WriteString("\n")
	section(&sb, "Body", body)

	return Prompt{System: SystemPrompt("an email", who), User: sb.String()}, nil
}

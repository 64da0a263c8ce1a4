package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hurttlocker/contextgraph/internal/store"
)

const (
	maxChatChars     = 40000
	minChatBodyChars = 50
)

var (
	chatUsernameRe = regexp.MustCompile(`^\*\*Username:\*\*\s*@?(.+)$`)
	chatTypeRe     = regexp.MustCompile(`^\*\*Type:\*\*\s*(.+)$`)
)

// ChatAdapter handles markdown chat logs: a header ("# Title",
// "**Username:** @handle", "**Type:** private") ended by "---", then messages.
type ChatAdapter struct{}

func (c *ChatAdapter) Kind() string { return KindChat }

// CanHandle returns true for markdown files.
func (c *ChatAdapter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return fileExists(path) && (ext == ".md" || ext == ".markdown")
}

// ChatHeader is the parsed header of a chat log.
type ChatHeader struct {
	Title    string
	Username string
	Type     string
}

// ParseChat splits a chat log into its header and message body.
func ParseChat(content string) (ChatHeader, string) {
	h := ChatHeader{Type: "private"}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") && h.Title == "" {
			h.Title = strings.TrimSpace(line[2:])
		}
		if m := chatUsernameRe.FindStringSubmatch(trimmed); m != nil {
			h.Username = strings.TrimSpace(m[1])
		}
		if m := chatTypeRe.FindStringSubmatch(trimmed); m != nil {
			h.Type = strings.ToLower(strings.TrimSpace(m[1]))
		}
		if trimmed == "---" {
			break
		}
	}

	body := content
	if idx := strings.Index(content, "---"); idx > 0 {
		body = content[idx+3:]
	}
	return h, strings.TrimSpace(body)
}

func (c *ChatAdapter) BuildPrompt(ctx context.Context, in *store.Interaction, who Persona) (Prompt, error) {
	content, err := readLimited(in.SourcePath, 0)
	if err != nil {
		return Prompt{}, err
	}
	h, body := ParseChat(content)
	if len([]rune(body)) < minChatBodyChars {
		return Prompt{}, fmt.Errorf("%w: %s has fewer than %d characters of messages", ErrSourceMissing, in.SourcePath, minChatBodyChars)
	}
	body = truncateRunes(body, maxChatChars)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract items and entities from this chat.\n\n")
	fmt.Fprintf(&sb, "Chat: %s\n", firstNonEmpty(h.Title, in.Title, "Unknown"))
	if h.Username != "" {
		fmt.Fprintf(&sb, "Counterpart handle: @%s\n", h.Username)
	}
	fmt.Fprintf(&sb, "Type: %s\n\n", h.Type)
	section(&sb, "Messages", body)

	return Prompt{System: SystemPrompt("a chat conversation", who), User: sb.String()}, nil
}

// Package ingest turns interaction sources into prompt material.
//
// Each interaction type (call folder, email folder, chat log) has its own
// adapter implementing the Adapter interface. Adapters only read and format
// source files; they never call the model or touch the store.
//
// ImportInteraction registers a source path as an interaction so extraction
// has something to select.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/contextgraph/internal/store"
)

// Interaction types.
const (
	KindCall  = "call"
	KindEmail = "email"
	KindChat  = "chat"
)

// ErrSourceMissing is returned when a required source file is absent or empty.
var ErrSourceMissing = errors.New("source missing")

// Prompt is the model input for one interaction.
type Prompt struct {
	System string
	User   string
}

// Persona describes the user so prompts can tell the model who "Me" is.
type Persona struct {
	Names     []string // every label that refers to the user
	OwnerName string   // the label the model should use as owner/target
}

// Adapter builds prompts for one interaction type.
type Adapter interface {
	// Kind returns the interaction type this adapter serves.
	Kind() string

	// CanHandle reports whether path looks like a source of this kind.
	CanHandle(path string) bool

	// BuildPrompt reads the interaction's source and formats the prompt.
	BuildPrompt(ctx context.Context, in *store.Interaction, who Persona) (Prompt, error)
}

// DefaultAdapters returns the call, email and chat adapters.
func DefaultAdapters() []Adapter {
	return []Adapter{&CallAdapter{}, &EmailAdapter{}, &ChatAdapter{}}
}

// AdapterFor returns the adapter serving kind, or nil.
func AdapterFor(adapters []Adapter, kind string) Adapter {
	for _, a := range adapters {
		if a.Kind() == kind {
			return a
		}
	}
	return nil
}

// DetectKind returns the kind of the first adapter that can handle path.
func DetectKind(adapters []Adapter, path string) (string, error) {
	for _, a := range adapters {
		if a.CanHandle(path) {
			return a.Kind(), nil
		}
	}
	return "", fmt.Errorf("cannot detect interaction type of %s", path)
}

// readLimited reads a file and truncates it to limit runes.
// A missing or blank file yields ErrSourceMissing.
func readLimited(path string, limit int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSourceMissing, path)
	}
	return truncateRunes(text, limit), nil
}

// readOptional is readLimited that treats a missing file as empty.
func readOptional(path string, limit int) (string, error) {
	text, err := readLimited(path, limit)
	if errors.Is(err, ErrSourceMissing) {
		return "", nil
	}
	return text, err
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

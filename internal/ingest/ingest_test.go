package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/contextgraph/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

var testPersona = Persona{Names: []string{"Me", "Alex", "Alex Kim"}, OwnerName: "Alex"}

// ==================== Call Adapter ====================

func makeCallDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "call-acme")
	writeFile(t, filepath.Join(dir, "metadata.json"), `{
		"title": "Acme pricing sync",
		"date": "2025-03-04T15:00:00Z",
		"attendees": [
			{"email": "jane@acme.com", "details": {"person": {"name": {"fullName": "Jane Doe"}}}},
			{"email": "bob@acme.com"}
		],
		"inferred_speakers": {"other": "Jane Doe"}
	}`)
	writeFile(t, filepath.Join(dir, "transcript.txt"), "Jane: I'll send pricing by Friday.\nAlex: Great, thanks.\n")
	writeFile(t, filepath.Join(dir, "notes.md"), "- pricing follow-up")
	return dir
}

func TestCallAdapter_BuildPrompt(t *testing.T) {
	dir := makeCallDir(t)
	a := &CallAdapter{}
	if !a.CanHandle(dir) {
		t.Fatal("expected call adapter to handle folder with transcript.txt")
	}

	p, err := a.BuildPrompt(context.Background(), &store.Interaction{ID: "call-1", SourcePath: dir}, testPersona)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}

	for _, want := range []string{
		"Title: Acme pricing sync",
		"Attendees: Jane Doe, bob@acme.com",
		"1: Jane: I'll send pricing by Friday.",
		"2: Alex: Great, thanks.",
		"## Notes",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, p.User)
		}
	}
	if strings.Count(p.User, "Jane Doe") != 1 {
		t.Errorf("inferred speaker duplicated in attendees:\n%s", p.User)
	}
	if !strings.Contains(p.System, `"Me", "Alex", "Alex Kim"`) || !strings.Contains(p.System, `Use "Alex" as owner`) {
		t.Errorf("system prompt missing identity:\n%s", p.System)
	}
	if !strings.Contains(p.System, `"entities"`) {
		t.Error("system prompt missing response format")
	}
}

func TestCallAdapter_YAMLMetadata(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "call")
	writeFile(t, filepath.Join(dir, "metadata.yaml"), "title: Board prep\ndate: 2025-01-02\n")
	writeFile(t, filepath.Join(dir, "transcript.txt"), "hello there")

	p, err := (&CallAdapter{}).BuildPrompt(context.Background(), &store.Interaction{SourcePath: dir}, testPersona)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.Contains(p.User, "Title: Board prep") || !strings.Contains(p.User, "Date: 2025-01-02") {
		t.Errorf("yaml metadata not used:\n%s", p.User)
	}
}

func TestCallAdapter_MissingSources(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"no metadata", map[string]string{"transcript.txt": "hi"}},
		{"no transcript", map[string]string{"metadata.json": `{"title":"x"}`}},
		{"blank transcript", map[string]string{"metadata.json": `{}`, "transcript.txt": "  \n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, filepath.Join(dir, name), content)
			}
			_, err := (&CallAdapter{}).BuildPrompt(context.Background(), &store.Interaction{SourcePath: dir}, testPersona)
			if !errors.Is(err, ErrSourceMissing) {
				t.Fatalf("expected ErrSourceMissing, got %v", err)
			}
		})
	}
}

func TestCallAdapter_TruncatesTranscript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "metadata.json"), `{}`)
	writeFile(t, filepath.Join(dir, "transcript.txt"), strings.Repeat("x", maxTranscriptChars+500))

	p, err := (&CallAdapter{}).BuildPrompt(context.Background(), &store.Interaction{SourcePath: dir}, testPersona)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(p.User, strings.Repeat("x", maxTranscriptChars+1)) {
		t.Error("transcript was not truncated")
	}
}

// ==================== Email Adapter ====================

func TestEmailAdapter_BuildPrompt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "email-1")
	writeFile(t, filepath.Join(dir, "metadata.json"), `{
		"subject": "Term sheet",
		"date": "2025-02-01",
		"from": {"name": "Jane Doe", "email": "jane@acme.com"},
		"to": [{"name": "Alex Kim", "email": "alex@example.com"}, {"email": "legal@acme.com"}]
	}`)
	writeFile(t, filepath.Join(dir, "body.md"), "Please review the attached term sheet.")

	a := &EmailAdapter{}
	if !a.CanHandle(dir) {
		t.Fatal("expected email adapter to handle folder with body.md")
	}
	p, err := a.BuildPrompt(context.Background(), &store.Interaction{SourcePath: dir}, testPersona)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	for _, want := range []string{
		"Subject: Term sheet",
		"From: Jane Doe",
		"From email: jane@acme.com",
		"To: Alex Kim, legal@acme.com",
		"Please review the attached term sheet.",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, p.User)
		}
	}
}

func TestEmailAdapter_MissingBody(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "metadata.json"), `{"subject":"x"}`)
	_, err := (&EmailAdapter{}).BuildPrompt(context.Background(), &store.Interaction{SourcePath: dir}, testPersona)
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
}

// ==================== Chat Adapter ====================

const sampleChat = `# Jane Doe
**Username:** @janed
**Type:** Private

---

[15:40] Jane: Hey, following up on the pricing discussion from Tuesday.
[15:42] Me: Thanks, I will review it tonight and get back to you.
`

func TestParseChat(t *testing.T) {
	h, body := ParseChat(sampleChat)
	if h.Title != "Jane Doe" || h.Username != "janed" || h.Type != "private" {
		t.Errorf("unexpected header: %+v", h)
	}
	if !strings.HasPrefix(body, "[15:40] Jane:") {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestChatAdapter_BuildPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jane.md")
	writeFile(t, path, sampleChat)

	a := &ChatAdapter{}
	if !a.CanHandle(path) {
		t.Fatal("expected chat adapter to handle .md file")
	}
	p, err := a.BuildPrompt(context.Background(), &store.Interaction{SourcePath: path}, testPersona)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	for _, want := range []string{"Chat: Jane Doe", "Counterpart handle: @janed", "Type: private", "[15:42] Me:"} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, p.User)
		}
	}
}

func TestChatAdapter_TooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.md")
	writeFile(t, path, "# Bob\n---\nhi")
	_, err := (&ChatAdapter{}).BuildPrompt(context.Background(), &store.Interaction{SourcePath: path}, testPersona)
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
}

func TestChatAdapter_MissingFile(t *testing.T) {
	_, err := (&ChatAdapter{}).BuildPrompt(context.Background(),
		&store.Interaction{SourcePath: filepath.Join(t.TempDir(), "gone.md")}, testPersona)
	if !errors.Is(err, ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
}

// ==================== Helpers ====================

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("abc", 0); got != "abc" {
		t.Errorf("limit 0 should not truncate, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-03-04T15:00:00Z", time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC), true},
		{"2025-03-04T17:00:00+02:00", time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC), true},
		{"2025-03-04", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), true},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

// ==================== Import ====================

func TestImportInteraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := makeCallDir(t)

	in, err := ImportInteraction(ctx, s, DefaultAdapters(), dir, "")
	if err != nil {
		t.Fatalf("ImportInteraction: %v", err)
	}
	if in.Type != KindCall {
		t.Errorf("type = %q, want call", in.Type)
	}
	if !strings.HasPrefix(in.ID, "call-") || len(in.ID) != len("call-")+12 {
		t.Errorf("unexpected id %q", in.ID)
	}
	if in.Title != "Acme pricing sync" {
		t.Errorf("title = %q", in.Title)
	}
	if !in.Timestamp.Equal(time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", in.Timestamp)
	}

	again, err := ImportInteraction(ctx, s, DefaultAdapters(), dir, "call")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != in.ID {
		t.Errorf("re-import changed id: %s -> %s", in.ID, again.ID)
	}

	got, err := s.GetInteraction(ctx, in.ID)
	if err != nil || got == nil {
		t.Fatalf("interaction not stored: %v", err)
	}
	if got.SourcePath != dir {
		t.Errorf("source path = %q, want %q", got.SourcePath, dir)
	}
}

func TestImportInteraction_ChatUsesHeaderTitle(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "jane.md")
	writeFile(t, path, sampleChat)

	in, err := ImportInteraction(context.Background(), s, DefaultAdapters(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if in.Type != KindChat || in.Title != "Jane Doe" {
		t.Errorf("unexpected interaction: %+v", in)
	}
	if in.Timestamp.IsZero() {
		t.Error("expected file mtime as timestamp")
	}
}

func TestImportInteraction_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := ImportInteraction(ctx, s, DefaultAdapters(), filepath.Join(t.TempDir(), "missing"), "")
	if !errors.Is(err, ErrSourceMissing) {
		t.Errorf("expected ErrSourceMissing, got %v", err)
	}

	plain := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, plain, "hello")
	if _, err := ImportInteraction(ctx, s, DefaultAdapters(), plain, ""); err == nil {
		t.Error("expected detection error for unsupported file")
	}
	if _, err := ImportInteraction(ctx, s, DefaultAdapters(), plain, "fax"); err == nil {
		t.Error("expected error for unknown type")
	}
}

package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hurttlocker/contextgraph/internal/store"
)

// InteractionWriter is the store surface the importer needs.
type InteractionWriter interface {
	UpsertInteraction(ctx context.Context, in *store.Interaction) error
}

// InteractionID derives a stable id from the kind and absolute source path.
func InteractionID(kind, absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return kind + "-" + hex.EncodeToString(sum[:])[:12]
}

// ImportInteraction registers path as an interaction. An empty kind is
// detected from the path. Re-importing the same path refreshes the title and
// timestamp and keeps the id.
func ImportInteraction(ctx context.Context, w InteractionWriter, adapters []Adapter, path, kind string) (*store.Interaction, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, absPath)
		}
		return nil, fmt.Errorf("stat %s: %w", absPath, err)
	}

	if kind == "" {
		kind, err = DetectKind(adapters, absPath)
		if err != nil {
			return nil, err
		}
	} else if AdapterFor(adapters, kind) == nil {
		return nil, fmt.Errorf("unknown interaction type %q", kind)
	}

	title, ts := describeSource(kind, absPath)
	if ts.IsZero() {
		ts = info.ModTime().UTC()
	}
	if title == "" {
		title = filepath.Base(absPath)
	}

	in := &store.Interaction{
		ID:         InteractionID(kind, absPath),
		Type:       kind,
		SourcePath: absPath,
		Title:      title,
		Timestamp:  ts,
	}
	if err := w.UpsertInteraction(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// describeSource pulls a title and date from the source when it has them.
func describeSource(kind, absPath string) (string, time.Time) {
	switch kind {
	case KindCall, KindEmail:
		md, err := loadMetadata(absPath)
		if err != nil {
			return "", time.Time{}
		}
		ts, _ := ParseDate(md.Date)
		return firstNonEmpty(md.Title, md.Subject), ts
	case KindChat:
		data, err := os.ReadFile(absPath)
		if err != nil {
			return "", time.Time{}
		}
		h, _ := ParseChat(string(data))
		return h.Title, time.Time{}
	}
	return "", time.Time{}
}

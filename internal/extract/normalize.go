package extract

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownItemType marks an item whose type has no canonical mapping.
var ErrUnknownItemType = errors.New("unknown item type")

var itemTypeSynonyms = map[string]ItemType{
	"promise":        ItemPromise,
	"action_item":    ItemActionItem,
	"decision":       ItemDecision,
	"question":       ItemQuestion,
	"metric":         ItemMetric,
	"deal_mention":   ItemDealMention,
	"entity_context": ItemEntityContext,

	"info":       ItemEntityContext,
	"context":    ItemEntityContext,
	"note":       ItemEntityContext,
	"task":       ItemActionItem,
	"todo":       ItemActionItem,
	"commitment": ItemPromise,
}

var entityTypeSynonyms = map[string]EntityType{
	"person":  EntityPerson,
	"company": EntityCompany,
	"product": EntityProduct,

	"people":     EntityPerson,
	"individual": EntityPerson,
	"contact":    EntityPerson,

	"organization": EntityCompany,
	"organisation": EntityCompany,
	"org":          EntityCompany,
	"fund":         EntityCompany,
	"startup":      EntityCompany,
	"firm":         EntityCompany,

	"project":    EntityProduct,
	"technology": EntityProduct,
	"tool":       EntityProduct,
	"service":    EntityProduct,
}

// canonicalKey lowercases and folds spaces and dashes to underscores,
// so "Action Item" and "action-item" both read as "action_item".
func canonicalKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// NormalizeItemType maps any string onto the item vocabulary.
// The second result is false when no mapping exists.
func NormalizeItemType(s string) (ItemType, bool) {
	t, ok := itemTypeSynonyms[canonicalKey(s)]
	return t, ok
}

// NormalizeEntityType maps any string onto the entity vocabulary.
// The second result is false when no mapping exists.
func NormalizeEntityType(s string) (EntityType, bool) {
	t, ok := entityTypeSynonyms[canonicalKey(s)]
	return t, ok
}

// NormalizeStatus maps any string onto the status vocabulary.
// Unknown and empty values default to pending.
func NormalizeStatus(s string) Status {
	switch Status(canonicalKey(s)) {
	case StatusCompleted:
		return StatusCompleted
	case StatusCancelled, "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// NormalizedItem is a RawItem that passed validation.
type NormalizedItem struct {
	Type          ItemType
	Content       string
	Owner         string
	Target        string
	DueDate       string
	Status        Status
	Confidence    float64
	EvidenceQuote string
	LineRange     string
	Timestamp     string
}

// HasEvidence reports whether the item carries a provenance quote.
func (n NormalizedItem) HasEvidence() bool {
	return strings.TrimSpace(n.EvidenceQuote) != ""
}

// NormalizeItem validates a raw item. Items whose type cannot be mapped are
// rejected with ErrUnknownItemType; every other field is coerced.
func NormalizeItem(raw RawItem) (NormalizedItem, error) {
	t, ok := NormalizeItemType(raw.Type.String())
	if !ok {
		return NormalizedItem{}, fmt.Errorf("%w: %q", ErrUnknownItemType, raw.Type.String())
	}

	return NormalizedItem{
		Type:          t,
		Content:       raw.Content.String(),
		Owner:         raw.Owner.String(),
		Target:        raw.Target.String(),
		DueDate:       raw.DueDate.String(),
		Status:        NormalizeStatus(raw.Status.String()),
		Confidence:    clampConfidence(float64(raw.Confidence)),
		EvidenceQuote: raw.EvidenceQuote.String(),
		LineRange:     raw.LineRange.String(),
		Timestamp:     raw.Timestamp.String(),
	}, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

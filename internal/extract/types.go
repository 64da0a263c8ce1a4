// Package extract turns model responses about an interaction into stored
// knowledge: items with provenance and trust, and a deduplicated entity
// registry.
//
// The pipeline for one interaction is:
//
//	ParseResponse -> NormalizeItem / Resolver -> ScoreTrust -> store
//
// Runner drives it over every interaction that still needs extraction.
package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ItemType is the canonical vocabulary of extracted items.
type ItemType string

const (
	ItemPromise       ItemType = "promise"
	ItemActionItem    ItemType = "action_item"
	ItemDecision      ItemType = "decision"
	ItemQuestion      ItemType = "question"
	ItemMetric        ItemType = "metric"
	ItemDealMention   ItemType = "deal_mention"
	ItemEntityContext ItemType = "entity_context"
)

// EntityType is the canonical vocabulary of registry entities.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityCompany EntityType = "company"
	EntityProduct EntityType = "product"
)

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// TrustLevel is the coarse confidence tier stored with every item.
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// Response is the JSON object the model is asked to return. Array elements
// that do not decode are left out of Items and Entities and listed in
// Rejected.
type Response struct {
	Items    []RawItem   `json:"items"`
	Entities []RawEntity `json:"entities"`
	Summary  Text        `json:"summary"`

	Rejected []RejectedElement `json:"-"`
}

// RejectedElement is one items or entities element skipped while parsing.
type RejectedElement struct {
	Field string
	Index int
	Err   error
}

// RawItem is one item as the model produced it. Every field tolerates any
// JSON value; NormalizeItem decides what is acceptable.
type RawItem struct {
	Type          Text  `json:"type"`
	Content       Text  `json:"content"`
	Owner         Text  `json:"owner"`
	Target        Text  `json:"target"`
	DueDate       Text  `json:"due_date"`
	Status        Text  `json:"status"`
	Confidence    Score `json:"confidence"`
	EvidenceQuote Text  `json:"evidence_quote"`
	LineRange     Text  `json:"line_range"`
	Timestamp     Text  `json:"timestamp"`
}

// RawEntity is one entity mention as the model produced it.
type RawEntity struct {
	Name       Text  `json:"name"`
	Type       Text  `json:"type"`
	Email      Text  `json:"email"`
	Telegram   Text  `json:"telegram"`
	Company    Text  `json:"company"`
	Role       Text  `json:"role"`
	Building   Text  `json:"building"`
	Sector     Text  `json:"sector"`
	Confidence Score `json:"confidence"`
}

// Text is a string field that accepts any JSON value. Strings are kept as-is,
// null becomes empty, and numbers, booleans, objects and arrays keep their
// compact JSON text.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*t = Text(buf.String())
	}
	return nil
}

// String returns the plain text value.
func (t Text) String() string { return string(t) }

// Score is a numeric field that accepts numbers, numeric strings and null.
// Anything unparseable reads as zero.
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			*s = Score(v)
			return nil
		}
	}
	*s = 0
	return nil
}

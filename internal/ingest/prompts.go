package ingest

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are an AI assistant that extracts structured information from %s.

Identify:
1. Promises: commitments someone made to do something
2. Action items: tasks that need to be completed
3. Decisions: conclusions or agreements reached
4. Questions: open questions that need answers
5. Metrics: business numbers mentioned (ARR, users, funding, etc.)
6. Deal mentions: companies or startups discussed as deals

Also extract entities mentioned, except the user:
- People: anyone mentioned by name (with company, role and what they are building, if stated)
- Companies: organizations, startups, funds
- Products: specific products, projects, technologies

Rules:
1. Every item needs an evidence_quote: the exact verbatim source text (10-50 words).
2. %s all refer to the USER of this system. Use "%s" as owner or target when the user is involved. Never emit an entity for the user.
3. Use names exactly as they appear in the source. Do not guess surnames or expand initials.
4. Do not emit generic labels such as "Speaker", "Unknown" or "Participant" as entities.
5. Only set company or role when this conversation states it explicitly.

Confidence:
- 0.9-1.0: explicitly stated, with an exact quote
- 0.7-0.8: implied or partially clear
- 0.5-0.6: inferred, needs verification

Return valid JSON only, in this format:
` + responseFormat

const responseFormat = `{
  "items": [
    {
      "type": "promise|action_item|decision|question|metric|deal_mention",
      "content": "Description of the item",
      "owner": "Person name (if applicable)",
      "target": "Person this is about or for (if different from owner)",
      "evidence_quote": "EXACT verbatim quote from source (10-50 words)",
      "line_range": "Line numbers for transcripts, e.g. 245-247",
      "timestamp": "Message time for chats, e.g. 15:42",
      "due_date": "YYYY-MM-DD (if mentioned)",
      "status": "pending|completed",
      "confidence": 0.8
    }
  ],
  "entities": [
    {
      "name": "Full Name",
      "type": "person|company|product",
      "email": "email@example.com (if mentioned)",
      "telegram": "@handle (if mentioned)",
      "company": "Company name (for persons)",
      "role": "Their role (for persons)",
      "building": "What they are working on",
      "sector": "Sector (for companies)",
      "confidence": 0.8
    }
  ],
  "summary": "One sentence summary"
}`

// SystemPrompt builds the shared system prompt for a source description
// such as "a call transcript".
func SystemPrompt(source string, who Persona) string {
	quoted := make([]string, 0, len(who.Names))
	for _, n := range who.Names {
		quoted = append(quoted, fmt.Sprintf("%q", n))
	}
	names := strings.Join(quoted, ", ")
	if names == "" {
		names = `"Me"`
	}
	owner := who.OwnerName
	if owner == "" {
		owner = "Me"
	}
	return fmt.Sprintf(systemPromptTemplate, source, names, owner)
}

// section writes a "## title" block when body is not blank.
func section(sb *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n%s\n\n", title, strings.TrimSpace(body))
}

// numberLines prefixes each line with its 1-based number so the model can
// cite line ranges.
func numberLines(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%d: %s\n", i+1, line)
	}
	return sb.String()
}

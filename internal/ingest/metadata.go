package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// metadataFiles are tried in order inside a call or email folder.
var metadataFiles = []string{"metadata.json", "metadata.yaml", "metadata.yml"}

// Address is a sender or recipient.
type Address struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Label returns the name, falling back to the email.
func (a Address) Label() string {
	if s := strings.TrimSpace(a.Name); s != "" {
		return s
	}
	return strings.TrimSpace(a.Email)
}

// Attendee is one calendar attendee of a call.
type Attendee struct {
	Email   string `json:"email" yaml:"email"`
	Details struct {
		Person struct {
			Name struct {
				FullName string `json:"fullName" yaml:"fullName"`
			} `json:"name" yaml:"name"`
		} `json:"person" yaml:"person"`
	} `json:"details" yaml:"details"`
}

// Label returns the attendee's full name, falling back to the email.
func (a Attendee) Label() string {
	if s := strings.TrimSpace(a.Details.Person.Name.FullName); s != "" {
		return s
	}
	return strings.TrimSpace(a.Email)
}

// Metadata is the union of call and email metadata fields.
type Metadata struct {
	Title            string     `json:"title" yaml:"title"`
	Subject          string     `json:"subject" yaml:"subject"`
	Date             string     `json:"date" yaml:"date"`
	Attendees        []Attendee `json:"attendees" yaml:"attendees"`
	InferredSpeakers struct {
		Other string `json:"other" yaml:"other"`
	} `json:"inferred_speakers" yaml:"inferred_speakers"`
	From Address   `json:"from" yaml:"from"`
	To   []Address `json:"to" yaml:"to"`
}

// loadMetadata reads the first metadata file present in dir.
func loadMetadata(dir string) (*Metadata, error) {
	for _, name := range metadataFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		var md Metadata
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(data, &md)
		} else {
			err = yaml.Unmarshal(data, &md)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &md, nil
	}
	return nil, fmt.Errorf("%w: no metadata file in %s", ErrSourceMissing, dir)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate parses the date formats seen in source metadata.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

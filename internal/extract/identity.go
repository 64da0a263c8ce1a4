package extract

import (
	"regexp"
	"strings"
)

// Identity is the single user of the knowledge base. It is never stored
// through candidate creation; mentions of it resolve to Slug.
type Identity struct {
	Slug      string
	Name      string
	ShortName string
	Aliases   []string
}

// NewIdentity applies defaults: name "User", short name = first word of the
// name, slug = Slugify(name) or "user".
func NewIdentity(name, shortName, slug string, aliases []string) Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "User"
	}
	shortName = strings.TrimSpace(shortName)
	if shortName == "" {
		shortName = strings.Fields(name)[0]
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		slug = "user"
	}

	var clean []string
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	return Identity{Slug: slug, Name: name, ShortName: shortName, Aliases: clean}
}

// Names lists every label that refers to the user, starting with "Me".
// Duplicates (case-insensitive) are removed, keeping the first spelling.
func (id Identity) Names() []string {
	all := append([]string{"Me", id.ShortName, id.Name}, id.Aliases...)
	seen := make(map[string]bool, len(all))
	var out []string
	for _, n := range all {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(n))
	}
	return out
}

// Matches reports whether name refers to the user.
func (id Identity) Matches(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return false
	}
	for _, n := range id.Names() {
		if strings.ToLower(n) == key {
			return true
		}
	}
	return false
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces   = regexp.MustCompile(`\s+`)
	slugHyphens  = regexp.MustCompile(`-+`)
	blockedShort = regexp.MustCompile(`^([a-z/]+)(?:[\s_#-]*[0-9]{1,3}|[\s_#-]+[a-z])$`)
)

// Slugify lowercases name, drops everything but letters, digits, spaces and
// hyphens, and joins words with single hyphens.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// blockedNames are placeholder labels that never become entities.
var blockedNames = map[string]bool{
	"speaker":     true,
	"unknown":     true,
	"participant": true,
	"me":          true,
	"user":        true,
	"someone":     true,
	"attendee":    true,
	"host":        true,
	"guest":       true,
	"caller":      true,
	"n/a":         true,
	"unnamed":     true,
	"anonymous":   true,
	"everyone":    true,
	"team":        true,
	"other":       true,
}

// IsBlockedName reports whether name is a generic placeholder. It matches the
// blocked vocabulary exactly (case-insensitive) or as a numbered or lettered
// variant such as "Speaker 1", "Participant B" or "Unknown-2".
func IsBlockedName(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return true
	}
	if blockedNames[key] {
		return true
	}
	if m := blockedShort.FindStringSubmatch(key); m != nil {
		return blockedNames[m[1]]
	}
	return false
}

package services

import (
	"strings"
	"unicode/utf8"
)

// EntryInput is a vocabulary entry as submitted by a client or a CSV row.
type EntryInput struct {
	EntryKey string `json:"entryKey"`
	Front    string `json:"front"`
	Back     string `json:"back"`
	Notes    string `json:"notes"`
	Tags     string `json:"tags"`
}

// ValidateEntry trims and checks an entry, derives the entry key from the front
// when missing, and normalizes tags.
func ValidateEntry(in EntryInput) (EntryInput, error) {
	in.Front = strings.TrimSpace(in.Front)
	in.Back = strings.TrimSpace(in.Back)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Tags = normalizeTags(in.Tags)

	switch {
	case in.Front == "":
		return in, invalid("front", "is required")
	case in.Back == "":
		return in, invalid("back", "is required")
	case utf8.RuneCountInString(in.Front) > maxFieldRunes:
		return in, invalid("front", "exceeds %d characters", maxFieldRunes)
	case utf8.RuneCountInString(in.Back) > maxFieldRunes:
		return in, invalid("back", "exceeds %d characters", maxFieldRunes)
	case utf8.RuneCountInString(in.Notes) > maxNotesRunes:
		return in, invalid("notes", "exceeds %d characters", maxNotesRunes)
	}

	in.EntryKey = normalizeKey(in.EntryKey)
	if in.EntryKey == "" {
		in.EntryKey = normalizeKey(in.Front)
	}
	if utf8.RuneCountInString(in.EntryKey) > maxEntryKeyRunes {
		return in, invalid("entryKey", "exceeds %d characters", maxEntryKeyRunes)
	}
	return in, nil
}

// normalizeTags accepts comma or semicolon separated tags and stores them comma separated.
func normalizeTags(raw string) string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	seen := map[string]bool{}
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return strings.Join(out, ",")
}

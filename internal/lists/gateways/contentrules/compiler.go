package contentrules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

// FromTrackers derives blocker entries from tracker records, keeping order.
func FromTrackers(trackers []domain.TrackerEntry) []domain.ContentBlockerEntry {
	entries := make([]domain.ContentBlockerEntry, 0, len(trackers))
	for _, t := range trackers {
		entries = append(entries, domain.NewContentBlockerEntry(t))
	}
	return entries
}

// Compile produces one third-party block rule per entry, in input order.
// Duplicates are kept; the rule for an entry never fires on its own domain.
func Compile(entries []domain.ContentBlockerEntry) Document {
	doc := make(Document, 0, len(entries))
	for _, e := range entries {
		doc = append(doc, Rule{
			Trigger: Trigger{
				URLFilter:    e.URL,
				LoadType:     []string{LoadTypeThirdParty},
				UnlessDomain: []string{"*" + e.Domain},
			},
			Action: Action{Type: ActionBlock},
		})
	}
	return doc
}

// CompileWithExceptions is Compile followed by a single ignore-previous-rules
// rule scoped to the unprotected domains. Blank domains are skipped and no
// exception rule is emitted when none remain.
func CompileWithExceptions(entries []domain.ContentBlockerEntry, unprotected []string) Document {
	doc := Compile(entries)
	var ifDomain []string
	for _, d := range unprotected {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		ifDomain = append(ifDomain, "*"+d)
	}
	if len(ifDomain) == 0 {
		return doc
	}
	return append(doc, Rule{
		Trigger: Trigger{
			URLFilter: matchAll,
			LoadType:  []string{LoadTypeThirdParty},
			IfDomain:  ifDomain,
		},
		Action: Action{Type: ActionIgnorePreviousRules},
	})
}

// Encode serializes doc. Every url-filter must compile as a regular
// expression; a document that fails to encode must not be installed.
func Encode(doc Document) ([]byte, error) {
	for i, r := range doc {
		if r.Action.Type == "" {
			return nil, fmt.Errorf("rule %d: missing action type", i)
		}
		if _, err := regexp.Compile(r.Trigger.URLFilter); err != nil {
			return nil, fmt.Errorf("rule %d: invalid url-filter: %w", i, err)
		}
	}
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode rule document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode reads back a document produced by Encode.
func Decode(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

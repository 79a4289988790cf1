package parsers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haukened/rr-lists/internal/lists/common/log"
	"github.com/haukened/rr-lists/internal/lists/common/utils"
	"github.com/haukened/rr-lists/internal/lists/domain"
)

// trackerRecord is the wire shape of one tracker record. Pointers tell a
// missing key apart from an empty value.
type trackerRecord struct {
	Domain   *string `json:"domain"`
	Category *string `json:"category"`
}

// trackerResult is the outcome of one decoding pass.
type trackerResult struct {
	entries  []domain.TrackerEntry
	total    int
	rejected int
}

// ParseTrackers decodes a tracker list.
//
// Two containers are accepted:
//   - the canonical array: [{"domain":"a.example","category":"Advertising"}, ...]
//     where "category" is optional
//   - the upstream categorised object: {"Advertising":[{"domain":"a.example"}], ...}
//     walked in document order so category and entry order survive
//
// Category names are matched case-insensitively; unknown names map to
// CategoryNone. Domains are canonicalised; records whose domain is not a
// valid hostname are skipped (and counted as rejected by MeasureTrackers).
// EncodeTrackers followed by ParseTrackers therefore returns the same entries
// only when every domain is already a valid canonical hostname; parsing the
// encoded form of a parse result always does.
// A record without a "domain" key or with non-string fields is a TypeMismatch.
func ParseTrackers(payload []byte) ([]domain.TrackerEntry, error) {
	res, err := decodeTrackers(payload)
	if err != nil {
		return nil, err
	}
	return res.entries, nil
}

// MeasureTrackers computes the integrity spec of a tracker payload.
func MeasureTrackers(payload []byte) (domain.ComputedSpec, error) {
	res, err := decodeTrackers(payload)
	if err != nil {
		return domain.ComputedSpec{}, err
	}
	return domain.NewComputedSpec(payload, res.total, res.rejected), nil
}

// EncodeTrackers returns the canonical array form of entries.
func EncodeTrackers(entries []domain.TrackerEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.TrackerEntry{}
	}
	return json.Marshal(entries)
}

func decodeTrackers(payload []byte) (trackerResult, error) {
	const list = domain.ListTrackers
	if err := validate(list, payload); err != nil {
		return trackerResult{}, err
	}
	switch firstByte(payload) {
	case '[':
		elems, err := decodeArray(list, payload)
		if err != nil {
			return trackerResult{}, err
		}
		res := trackerResult{entries: make([]domain.TrackerEntry, 0, len(elems))}
		for i, raw := range elems {
			var rec trackerRecord
			if err := decodeRecord(list, i, raw, &rec); err != nil {
				return trackerResult{}, err
			}
			category := domain.CategoryNone
			if rec.Category != nil {
				category = domain.ParseCategory(*rec.Category)
			}
			if err := res.add(i, rec, category); err != nil {
				return trackerResult{}, err
			}
		}
		return res, nil
	case '{':
		return decodeCategorised(payload)
	default:
		return trackerResult{}, domain.NewDecodeError(list, domain.InvalidJSON, errors.New("expected a JSON array or object"))
	}
}

// decodeCategorised walks {"Category":[records...], ...} in document order.
func decodeCategorised(payload []byte) (trackerResult, error) {
	const list = domain.ListTrackers
	dec := json.NewDecoder(bytes.NewReader(payload))
	if _, err := dec.Token(); err != nil { // opening '{'
		return trackerResult{}, domain.NewDecodeError(list, domain.InvalidJSON, err)
	}

	res := trackerResult{entries: []domain.TrackerEntry{}}
	index := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return trackerResult{}, domain.NewDecodeError(list, domain.InvalidJSON, err)
		}
		name, _ := tok.(string)
		category := domain.ParseCategory(name)

		var elems []json.RawMessage
		if err := dec.Decode(&elems); err != nil {
			return trackerResult{}, domain.NewDecodeError(list, domain.TypeMismatch, fmt.Errorf("category %q: %w", name, err))
		}
		for _, raw := range elems {
			var rec trackerRecord
			if err := decodeRecord(list, index, raw, &rec); err != nil {
				return trackerResult{}, err
			}
			if err := res.add(index, rec, category); err != nil {
				return trackerResult{}, err
			}
			index++
		}
	}
	return res, nil
}

func (r *trackerResult) add(index int, rec trackerRecord, category domain.Category) error {
	if rec.Domain == nil {
		return schemaError(domain.ListTrackers, "record %d: missing key %q", index, "domain")
	}
	r.total++
	host := utils.CanonicalHost(*rec.Domain)
	if !utils.IsValidHostname(host) {
		r.rejected++
		log.Debug(map[string]any{"record": index, "domain": *rec.Domain}, "skipping invalid tracker domain")
		return nil
	}
	r.entries = append(r.entries, domain.TrackerEntry{Domain: host, Category: category})
	return nil
}

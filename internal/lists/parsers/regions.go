package parsers

import (
	"bytes"
	"encoding/json"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

// ParseRegions decodes an ordered array of single-key objects,
// e.g. [{"us-en":"United States"},{"de-de":"Germany"}].
// For each element the first key is the filter code and its value the
// display name. An element with zero keys, or a non-string name, aborts the
// whole parse with a TypeMismatch.
func ParseRegions(payload []byte) (domain.RegionList, error) {
	const list = domain.ListRegions
	if err := validate(list, payload); err != nil {
		return nil, err
	}
	elems, err := decodeArray(list, payload)
	if err != nil {
		return nil, err
	}
	regions := make(domain.RegionList, 0, len(elems))
	for i, raw := range elems {
		r, err := decodeRegion(i, raw)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// MeasureRegions computes the integrity spec of a region payload.
func MeasureRegions(payload []byte) (domain.ComputedSpec, error) {
	regions, err := ParseRegions(payload)
	if err != nil {
		return domain.ComputedSpec{}, err
	}
	return domain.NewComputedSpec(payload, len(regions), 0), nil
}

// EncodeRegions returns the canonical single-key-object array form.
func EncodeRegions(regions []domain.RegionFilter) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range regions {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := json.Marshal(map[string]string{r.FilterCode: r.DisplayName})
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func decodeRegion(index int, raw json.RawMessage) (domain.RegionFilter, error) {
	const list = domain.ListRegions
	if firstByte(raw) != '{' {
		return domain.RegionFilter{}, schemaError(list, "element %d: expected an object", index)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return domain.RegionFilter{}, domain.NewDecodeError(list, domain.InvalidJSON, err)
	}
	if !dec.More() {
		return domain.RegionFilter{}, schemaError(list, "element %d: object has no keys", index)
	}
	tok, err := dec.Token()
	if err != nil {
		return domain.RegionFilter{}, domain.NewDecodeError(list, domain.InvalidJSON, err)
	}
	code, _ := tok.(string)

	var name *string
	if err := dec.Decode(&name); err != nil {
		return domain.RegionFilter{}, schemaError(list, "element %d: key %q: %v", index, code, err)
	}
	if name == nil {
		return domain.RegionFilter{}, schemaError(list, "element %d: key %q has a null name", index, code)
	}
	return domain.RegionFilter{FilterCode: code, DisplayName: *name}, nil
}

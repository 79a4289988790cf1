package parsers

import (
	"encoding/json"
	"strings"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

type attributionRecord struct {
	Token  *string `json:"token"`
	Domain *string `json:"domain"`
}

// ParseAttribution decodes [{"token":"...","domain":"..."}, ...].
// "token" is required and must be a non-empty string; "domain" is optional.
func ParseAttribution(payload []byte) ([]domain.AttributionToken, error) {
	const list = domain.ListAttribution
	if err := validate(list, payload); err != nil {
		return nil, err
	}
	elems, err := decodeArray(list, payload)
	if err != nil {
		return nil, err
	}
	tokens := make([]domain.AttributionToken, 0, len(elems))
	for i, raw := range elems {
		var rec attributionRecord
		if err := decodeRecord(list, i, raw, &rec); err != nil {
			return nil, err
		}
		if rec.Token == nil || strings.TrimSpace(*rec.Token) == "" {
			return nil, schemaError(list, "record %d: missing key %q", i, "token")
		}
		t := domain.AttributionToken{Token: *rec.Token}
		if rec.Domain != nil {
			t.Domain = strings.ToLower(strings.TrimSpace(*rec.Domain))
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// MeasureAttribution computes the integrity spec of an attribution payload.
func MeasureAttribution(payload []byte) (domain.ComputedSpec, error) {
	tokens, err := ParseAttribution(payload)
	if err != nil {
		return domain.ComputedSpec{}, err
	}
	return domain.NewComputedSpec(payload, len(tokens), 0), nil
}

// EncodeAttribution returns the canonical array form.
func EncodeAttribution(tokens []domain.AttributionToken) ([]byte, error) {
	if tokens == nil {
		tokens = []domain.AttributionToken{}
	}
	return json.Marshal(tokens)
}

package parsers

import "github.com/haukened/rr-lists/internal/lists/domain"

// TrackerCodec adapts the tracker parser to the list store.
type TrackerCodec struct{}

func (TrackerCodec) Parse(b []byte) ([]domain.TrackerEntry, error)  { return ParseTrackers(b) }
func (TrackerCodec) Encode(e []domain.TrackerEntry) ([]byte, error) { return EncodeTrackers(e) }
func (TrackerCodec) Measure(b []byte) (domain.ComputedSpec, error)  { return MeasureTrackers(b) }

// RegionCodec adapts the region parser to the list store.
type RegionCodec struct{}

func (RegionCodec) Parse(b []byte) ([]domain.RegionFilter, error) {
	regions, err := ParseRegions(b)
	return []domain.RegionFilter(regions), err
}
func (RegionCodec) Encode(r []domain.RegionFilter) ([]byte, error) { return EncodeRegions(r) }
func (RegionCodec) Measure(b []byte) (domain.ComputedSpec, error)  { return MeasureRegions(b) }

// AttributionCodec adapts the attribution parser to the list store.
type AttributionCodec struct{}

func (AttributionCodec) Parse(b []byte) ([]domain.AttributionToken, error) {
	return ParseAttribution(b)
}
func (AttributionCodec) Encode(t []domain.AttributionToken) ([]byte, error) {
	return EncodeAttribution(t)
}
func (AttributionCodec) Measure(b []byte) (domain.ComputedSpec, error) { return MeasureAttribution(b) }

package domain

import "strings"

// Category classifies a tracker entry for reporting and filtering.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryAdvertising
	CategoryAnalytics
	CategoryContent
	CategorySocial
)

// Categories lists every category, CategoryNone first.
var Categories = []Category{CategoryNone, CategoryAdvertising, CategoryAnalytics, CategoryContent, CategorySocial}

var categoryNames = [...]string{
	CategoryNone:        "None",
	CategoryAdvertising: "Advertising",
	CategoryAnalytics:   "Analytics",
	CategoryContent:     "Content",
	CategorySocial:      "Social",
}

// String returns the canonical category name. Out-of-range values map to "None".
func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return categoryNames[CategoryNone]
}

// ParseCategory maps a category name to a Category, ignoring case and
// surrounding whitespace. Unknown or empty names map to CategoryNone;
// the lookup never fails.
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	for i, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return Category(i)
		}
	}
	return CategoryNone
}

// MarshalText encodes the category as its canonical name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes any string; unknown names become CategoryNone.
func (c *Category) UnmarshalText(text []byte) error {
	*c = ParseCategory(string(text))
	return nil
}

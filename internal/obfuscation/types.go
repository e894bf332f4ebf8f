package obfuscation

import "fmt"

// Category classifies the kind of sensitive data a mapping entry replaced
type Category string

const (
	CategoryCustom     Category = "custom"
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategorySSN        Category = "ssn"
	CategoryCreditCard Category = "credit_card"
	CategoryAddress    Category = "address"
	CategoryDate       Category = "date"
	CategoryName       Category = "name"
	CategoryNumber     Category = "number"
)

// processingOrder is the fixed order in which categories claim spans.
var processingOrder = []Category{
	CategoryCustom,
	CategoryEmail,
	CategoryPhone,
	CategorySSN,
	CategoryCreditCard,
	CategoryAddress,
	CategoryDate,
	CategoryName,
	CategoryNumber,
}

var categoryTokens = map[Category]string{
	CategoryCustom:     "CUSTOM",
	CategoryEmail:      "EMAIL",
	CategoryPhone:      "PHONE",
	CategorySSN:        "SSN",
	CategoryCreditCard: "CARD",
	CategoryAddress:    "ADDRESS",
	CategoryDate:       "DATE",
	CategoryName:       "NAME",
	CategoryNumber:     "ID",
}

// Categories returns every category in processing order
func Categories() []Category {
	out := make([]Category, len(processingOrder))
	copy(out, processingOrder)
	return out
}

// Token returns the placeholder token for the category, e.g. CARD for credit_card
func (c Category) Token() string {
	return categoryTokens[c]
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	_, ok := categoryTokens[c]
	return ok
}

// ParseCategory converts a configuration or wire value into a Category
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category: %s", s)
	}
	return c, nil
}

// MappingEntry ties a placeholder to the original text it replaced
type MappingEntry struct {
	Placeholder string   `json:"placeholder"`
	Original    string   `json:"original"`
	Category    Category `json:"category"`
}

// Result is the output of a forward transform
type Result struct {
	Obfuscated string         `json:"obfuscated"`
	Mappings   []MappingEntry `json:"mappings"`
}

// Finding summarizes how many spans of one category were masked.
// It never carries original values and is safe to log or broadcast.
type Finding struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}

package domain

import (
	"sort"
	"strings"
)

// CatalogOffer is one vendor's price for one catalog item. Offers are owned
// by the catalog gateway and treated as read-only here.
type CatalogOffer struct {
	VendorID   string
	VendorName string
	ItemName   string
	Category   string
	SpecTags   []string
	UnitPrice  float64
	Currency   string
}

// SpecSignature returns a normalized signature for the offer's specification
// tags, used to group a category's offers into distinct variations. Offers
// with the same signature are the same variation at different vendors.
func (o CatalogOffer) SpecSignature() string {
	if len(o.SpecTags) == 0 {
		return ""
	}
	tags := make([]string, 0, len(o.SpecTags))
	for _, t := range o.SpecTags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return strings.Join(tags, "|")
}

// MatchesSpec reports whether the offer matches a requested specification as
// a case-insensitive substring of the item name or any specification tag.
func (o CatalogOffer) MatchesSpec(spec string) bool {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return true
	}
	if strings.Contains(strings.ToLower(o.ItemName), spec) {
		return true
	}
	for _, tag := range o.SpecTags {
		tag = strings.ToLower(tag)
		if strings.Contains(tag, spec) || strings.Contains(spec, tag) {
			return true
		}
	}
	return false
}

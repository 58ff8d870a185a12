// Package tags classifies OpenStreetMap tag sets for data-center detection.
package tags

import (
	"strings"
	"unicode"
)

// TagSet holds a feature's key/value tags. Keys are stored as mappers wrote
// them; Get folds case so classification rules cannot drift between call sites.
type TagSet map[string]string

// Get returns the value for key, matching the key case-insensitively.
func (t TagSet) Get(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	if v, ok := t[key]; ok {
		return v, true
	}
	key = strings.ToLower(key)
	for k, v := range t {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return "", false
}

// explicitPairs are the only (key, value) markers that denote an
// unambiguous data center.
var explicitPairs = [][2]string{
	{"building", "data_center"},
	{"telecom", "data_center"},
}

// IsExplicitDataCenter reports whether the tag set carries one of the exact
// data-center markers. Key and value comparison is case-insensitive; no
// partial matching.
func IsExplicitDataCenter(t TagSet) bool {
	for _, pair := range explicitPairs {
		if v, ok := t.Get(pair[0]); ok && strings.ToLower(v) == pair[1] {
			return true
		}
	}
	return false
}

// likeKeys are the generalized building/use keys consulted by the loose check.
var likeKeys = []string{"building", "building:use", "telecom", "industrial"}

// likeValues are accepted variant spellings of "data center" after
// normalization (lower-cased, non-alphanumerics stripped).
var likeValues = map[string]bool{
	"datacenter":   true,
	"datacentre":   true,
	"datacentreuk": true,
	"datacentreca": true,
	"datacentreau": true,
}

// IsDataCenterLike reports whether any generalized building/use key holds a
// recognized variant spelling of "data center". This is a low-confidence
// fallback signal only; acceptance of a current match always goes through
// IsExplicitDataCenter.
func IsDataCenterLike(t TagSet) bool {
	for _, key := range likeKeys {
		if v, ok := t.Get(key); ok && likeValues[normalizeValue(v)] {
			return true
		}
	}
	return false
}

// normalizeValue lower-cases and strips every non-alphanumeric rune.
func normalizeValue(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// relevantKeys is the allow-list of structural/classification/operator/date
// keys whose changes count as "relevant" in a feature's edit history.
var relevantKeys = map[string]bool{
	"building":        true,
	"building:use":    true,
	"industrial":      true,
	"amenity":         true,
	"office":          true,
	"landuse":         true,
	"name":            true,
	"operator":        true,
	"brand":           true,
	"telecom":         true,
	"power":           true,
	"start_date":      true,
	"opening_date":    true,
	"opened":          true,
	"start_date:edtf": true,
}

// ignoredPrefixes excludes administrative/metadata keys regardless of the
// allow-list.
var ignoredPrefixes = []string{
	"addr:", "source", "note", "fixme", "wheelchair", "contact:", "phone",
	"email", "website", "wikidata", "wikipedia", "short_name", "alt_name",
}

// FilterRelevant restricts a tag set to the fixed allow-list of semantically
// relevant keys, dropping administrative prefixes. Two filtered sets compare
// equal iff no relevant change happened between them.
func FilterRelevant(t TagSet) TagSet {
	out := TagSet{}
	for k, v := range t {
		if hasIgnoredPrefix(k) {
			continue
		}
		if relevantKeys[k] {
			out[k] = v
		}
	}
	return out
}

func hasIgnoredPrefix(k string) bool {
	for _, pref := range ignoredPrefixes {
		if strings.HasPrefix(k, pref) {
			return true
		}
	}
	return false
}

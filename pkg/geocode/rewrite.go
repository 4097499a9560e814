package geocode

import (
	"regexp"
	"strings"
)

// Variant is one concrete query derived from a row: either a free-text
// address string or, for structured endpoints, the raw sub-fields. Fields is
// always populated so adapters with component support can attach them.
type Variant struct {
	Kind   VariantKind
	Text   string
	Fields Fields
}

// Key returns the canonical cache key for the variant payload. Free-text
// kinds share a namespace so identical query strings collapse to one key;
// place lookups and structured queries key separately because they hit
// different endpoints.
func (v Variant) Key() string {
	switch v.Kind {
	case VariantPlaceLookup:
		return "place:" + v.Text
	case VariantStructured:
		return "s:" + strings.Join([]string{v.Fields.Street, v.Fields.City, v.Fields.PostalCode, v.Fields.Country}, "|")
	default:
		return "q:" + v.Text
	}
}

var (
	leadingZerosRe = regexp.MustCompile(`^0{1,3}`)
	zeroPaddingRe  = regexp.MustCompile(`0\s+(\d+)`)
	immeubleRe     = regexp.MustCompile(`(?i)\b(IMM?|ILL|IMMB)\b`)
	residenceRe    = regexp.MustCompile(`(?i)\b(RES|RS)\b`)
	streetTypeRe   = regexp.MustCompile(`(?i)\b(Rue|Avenue|Av|Boulevard|Blvd|Résidence|Immeuble)\b`)
	leadingNumRe   = regexp.MustCompile(`^(\d{1,4})(\s*)(.*)`)
)

// NormalizeStreet rewrites a raw street line for better provider recognition:
// strips up to three leading zeros, collapses zero-padded numbers ("0 123"
// becomes "123"), expands the common Tunisian abbreviations for "Immeuble"
// and "Résidence", and inserts "Rue" when no street-type word is present.
// The function is idempotent: normalizing an already-normalized street is a
// no-op.
func NormalizeStreet(street string) string {
	if street == "" {
		return ""
	}
	s := leadingZerosRe.ReplaceAllString(street, "")
	s = zeroPaddingRe.ReplaceAllString(s, "$1")
	s = immeubleRe.ReplaceAllString(s, "Immeuble")
	s = residenceRe.ReplaceAllString(s, "Résidence")

	if m := leadingNumRe.FindStringSubmatch(s); m != nil {
		num, space, rest := m[1], m[2], m[3]
		if !streetTypeRe.MatchString(rest) {
			return strings.TrimSpace(num + space + "Rue " + rest)
		}
		return strings.TrimSpace(s)
	}

	if !streetTypeRe.MatchString(s) {
		return "Rue " + strings.TrimSpace(s)
	}
	return strings.TrimSpace(s)
}

// Variants derives the ordered candidate queries for one row's fields. The
// order is fixed: reformatted, no_name, original, place_lookup, structured.
// Empty and duplicate payloads are omitted, so identical inputs always yield
// the identical variant list.
func Variants(f Fields) []Variant {
	// Rows mapped only by full_address use it as the street source so the
	// normalization still applies.
	streetSource := f.Street
	if streetSource == "" {
		streetSource = f.FullAddress
	}
	streetNorm := NormalizeStreet(streetSource)

	tail := []string{f.PostalCode, f.City, f.Governorate, f.Country}

	reformatted := joinNonEmpty(append([]string{f.Name, streetNorm}, tail...)...)
	noName := joinNonEmpty(append([]string{streetNorm}, tail...)...)

	variants := make([]Variant, 0, 5)
	seenText := map[string]bool{}

	addText := func(kind VariantKind, text string) {
		if text == "" || seenText[text] {
			return
		}
		seenText[text] = true
		variants = append(variants, Variant{Kind: kind, Text: text, Fields: f})
	}

	addText(VariantReformatted, reformatted)
	addText(VariantNoName, noName)
	addText(VariantOriginal, f.FullAddress)

	if f.Name != "" {
		locality := f.City
		if locality == "" {
			locality = f.Country
		}
		place := f.Name
		if locality != "" {
			place += ", " + locality
		}
		variants = append(variants, Variant{Kind: VariantPlaceLookup, Text: place, Fields: f})
	}

	if f.Street != "" || f.City != "" || f.PostalCode != "" || f.Country != "" {
		variants = append(variants, Variant{Kind: VariantStructured, Fields: f})
	}

	return variants
}

// joinNonEmpty joins the non-empty parts with ", ".
func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, ", ")
}

package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStreet(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"12 Avenue Habib Bourguiba", "12 Avenue Habib Bourguiba"},
		{"0012 Avenue Habib Bourguiba", "12 Avenue Habib Bourguiba"},
		{"05 Rue de Marseille", "5 Rue de Marseille"},
		{"0 123 Rue de Marseille", "123 Rue de Marseille"},
		{"12 Habib Bourguiba", "12 Rue Habib Bourguiba"},
		{"El Menzah 6", "Rue El Menzah 6"},
		{"IMM 5 El Manar", "Immeuble 5 El Manar"},
		{"IMMB Yasmine", "Immeuble Yasmine"},
		{"ILL Carthage", "Immeuble Carthage"},
		{"RES El Menzah", "Résidence El Menzah"},
		{"RS Jasmin", "Résidence Jasmin"},
		{"Boulevard de l'Environnement", "Boulevard de l'Environnement"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeStreet(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeStreetIdempotent(t *testing.T) {
	inputs := []string{
		"12 Avenue Habib Bourguiba",
		"0012 Habib Bourguiba",
		"IMM 5 RES El Menzah",
		"El Manar II",
		"0 45 Rue de Rome",
	}
	for _, in := range inputs {
		once := NormalizeStreet(in)
		assert.Equal(t, once, NormalizeStreet(once), "input %q", in)
	}
}

func TestVariantsFullRow(t *testing.T) {
	f := Fields{
		Name:        "Pharmacie Centrale",
		Street:      "12 Habib Bourguiba",
		PostalCode:  "1000",
		City:        "Tunis",
		Governorate: "Tunis",
		Country:     "Tunisie",
		FullAddress: "12, rue Habib Bourguiba 1000 TUNIS",
	}

	vs := Variants(f)
	require.Len(t, vs, 5)

	assert.Equal(t, VariantReformatted, vs[0].Kind)
	assert.Equal(t, "Pharmacie Centrale, 12 Rue Habib Bourguiba, 1000, Tunis, Tunis, Tunisie", vs[0].Text)

	assert.Equal(t, VariantNoName, vs[1].Kind)
	assert.Equal(t, "12 Rue Habib Bourguiba, 1000, Tunis, Tunis, Tunisie", vs[1].Text)

	assert.Equal(t, VariantOriginal, vs[2].Kind)
	assert.Equal(t, f.FullAddress, vs[2].Text)

	assert.Equal(t, VariantPlaceLookup, vs[3].Kind)
	assert.Equal(t, "Pharmacie Centrale, Tunis", vs[3].Text)

	assert.Equal(t, VariantStructured, vs[4].Kind)
	assert.Equal(t, f, vs[4].Fields)
}

func TestVariantsDeterministic(t *testing.T) {
	f := Fields{Street: "5 El Manar", City: "Tunis", Country: "Tunisie"}
	first := Variants(f)
	second := Variants(f)
	assert.Equal(t, first, second)
}

func TestVariantsFullAddressOnly(t *testing.T) {
	f := Fields{FullAddress: "12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie"}

	vs := Variants(f)
	// The normalized full address equals the original, so only one free-text
	// variant survives; there is no name and no structured sub-field.
	require.Len(t, vs, 1)
	assert.Equal(t, VariantReformatted, vs[0].Kind)
	assert.Equal(t, f.FullAddress, vs[0].Text)
}

func TestVariantsPlaceFallsBackToCountry(t *testing.T) {
	f := Fields{Name: "Clinique Pasteur", Country: "Tunisie"}
	vs := Variants(f)

	var place *Variant
	for i := range vs {
		if vs[i].Kind == VariantPlaceLookup {
			place = &vs[i]
		}
	}
	require.NotNil(t, place)
	assert.Equal(t, "Clinique Pasteur, Tunisie", place.Text)
}

func TestVariantsEmptyFields(t *testing.T) {
	assert.Empty(t, Variants(Fields{}))
}

func TestVariantKeys(t *testing.T) {
	free := Variant{Kind: VariantReformatted, Text: "Rue X, Tunis"}
	original := Variant{Kind: VariantOriginal, Text: "Rue X, Tunis"}
	// Identical free-text payloads share a key regardless of kind.
	assert.Equal(t, free.Key(), original.Key())

	place := Variant{Kind: VariantPlaceLookup, Text: "Rue X, Tunis"}
	assert.NotEqual(t, free.Key(), place.Key())

	structured := Variant{Kind: VariantStructured, Fields: Fields{Street: "Rue X", City: "Tunis"}}
	assert.NotEqual(t, free.Key(), structured.Key())
}

func TestFieldMappingLookup(t *testing.T) {
	m := FieldMapping{
		Name:       "nom",
		Street:     "rue",
		City:       "ville",
		PostalCode: "cp",
	}
	row := Row{
		"nom":   "  Pharmacie Centrale ",
		"rue":   "12 Rue de Rome",
		"ville": "Tunis",
		"cp":    "1000",
		"extra": "untouched",
	}

	f := m.Lookup(row)
	assert.Equal(t, "Pharmacie Centrale", f.Name)
	assert.Equal(t, "12 Rue de Rome", f.Street)
	assert.Equal(t, "Tunis", f.City)
	assert.Equal(t, "1000", f.PostalCode)
	assert.Empty(t, f.Country)
}

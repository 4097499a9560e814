package ingest

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// LoadMapping reads a field mapping from a YAML file.
func LoadMapping(path string) (geocode.FieldMapping, error) {
	var m geocode.FieldMapping
	data, err := os.ReadFile(path)
	if err != nil {
		return m, eris.Wrapf(err, "ingest: read mapping %s", path)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, eris.Wrapf(err, "ingest: parse mapping %s", path)
	}
	if m.IsZero() {
		return m, eris.Errorf("ingest: mapping %s maps no columns", path)
	}
	return m, nil
}

// fieldSynonyms lists the accepted column spellings per semantic field, in
// English and French. Matching is case-insensitive after accents and
// separators are folded.
var fieldSynonyms = map[string][]string{
	"street":       {"street", "rue", "adresse", "address"},
	"city":         {"city", "ville", "commune"},
	"postal_code":  {"postal_code", "cp", "code_postal", "zip", "zipcode"},
	"governorate":  {"governorate", "gouvernorat", "region", "state"},
	"name":         {"name", "nom", "etablissement"},
	"country":      {"country", "pays"},
	"complement":   {"complement"},
	"full_address": {"full_address", "adresse_complete"},
}

// GuessMapping matches column headers against common en/fr spellings. The
// first matching column per field wins; fields with no match stay empty.
func GuessMapping(columns []string) geocode.FieldMapping {
	assign := func(field, column string) bool {
		folded := foldHeader(column)
		for _, syn := range fieldSynonyms[field] {
			if folded == syn {
				return true
			}
		}
		return false
	}

	var m geocode.FieldMapping
	targets := []struct {
		field string
		dst   *string
	}{
		{"full_address", &m.FullAddress},
		{"street", &m.Street},
		{"city", &m.City},
		{"postal_code", &m.PostalCode},
		{"governorate", &m.Governorate},
		{"name", &m.Name},
		{"country", &m.Country},
		{"complement", &m.Complement},
	}
	for _, t := range targets {
		for _, col := range columns {
			if *t.dst == "" && assign(t.field, col) {
				*t.dst = col
				break
			}
		}
	}
	return m
}

// ResolveMapping merges an explicit mapping with guesses from the header:
// explicit entries win, guessed entries fill the gaps.
func ResolveMapping(explicit geocode.FieldMapping, columns []string) geocode.FieldMapping {
	guessed := GuessMapping(columns)
	fill := func(dst *string, guess string) {
		if *dst == "" {
			*dst = guess
		}
	}
	fill(&explicit.Name, guessed.Name)
	fill(&explicit.Street, guessed.Street)
	fill(&explicit.PostalCode, guessed.PostalCode)
	fill(&explicit.City, guessed.City)
	fill(&explicit.Governorate, guessed.Governorate)
	fill(&explicit.Country, guessed.Country)
	fill(&explicit.Complement, guessed.Complement)
	fill(&explicit.FullAddress, guessed.FullAddress)
	return explicit
}

// headerFolder strips the accents that show up in French headers.
var headerFolder = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a",
	"î", "i", "ï", "i",
	"ô", "o",
	"û", "u", "ù", "u",
	"ç", "c",
	" ", "_", "-", "_",
)

func foldHeader(column string) string {
	return headerFolder.Replace(strings.ToLower(strings.TrimSpace(column)))
}

package geocode

import "strings"

// Row is one input record: an opaque mapping from column name to cell value.
// The engine reads it only through a FieldMapping.
type Row map[string]string

// FieldMapping maps the recognized semantic fields to the caller's column
// names. Every mapping entry is optional; an empty column name means the
// field is not present in the input.
type FieldMapping struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	Street      string `yaml:"street" json:"street,omitempty"`
	PostalCode  string `yaml:"postal_code" json:"postal_code,omitempty"`
	City        string `yaml:"city" json:"city,omitempty"`
	Governorate string `yaml:"governorate" json:"governorate,omitempty"`
	Country     string `yaml:"country" json:"country,omitempty"`
	Complement  string `yaml:"complement" json:"complement,omitempty"`
	FullAddress string `yaml:"full_address" json:"full_address,omitempty"`
}

// Fields holds the semantic field values extracted from one row.
type Fields struct {
	Name        string
	Street      string
	PostalCode  string
	City        string
	Governorate string
	Country     string
	Complement  string
	FullAddress string
}

// Lookup extracts the mapped semantic fields from a row. Values are trimmed;
// unmapped or missing columns yield empty strings.
func (m FieldMapping) Lookup(row Row) Fields {
	get := func(col string) string {
		if col == "" {
			return ""
		}
		return strings.TrimSpace(row[col])
	}
	return Fields{
		Name:        get(m.Name),
		Street:      get(m.Street),
		PostalCode:  get(m.PostalCode),
		City:        get(m.City),
		Governorate: get(m.Governorate),
		Country:     get(m.Country),
		Complement:  get(m.Complement),
		FullAddress: get(m.FullAddress),
	}
}

// IsZero reports whether no column is mapped at all.
func (m FieldMapping) IsZero() bool {
	return m == FieldMapping{}
}

// Empty reports whether every semantic field is blank.
func (f Fields) Empty() bool {
	return f == Fields{}
}

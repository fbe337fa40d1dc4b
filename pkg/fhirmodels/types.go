package fhirmodels

import "strings"

// Resource kinds chased by the relay.
const (
	KindPractitioner = "Practitioner"
	KindPatient      = "Patient"
	KindOrganization = "Organization"
)

// Resource is a loosely structured FHIR resource as returned by the
// clinical-data API. Accessors never panic on an unexpected shape; a field
// of the wrong type is reported as absent.
type Resource map[string]interface{}

// Has reports whether the field is present and non-null.
func (r Resource) Has(field string) bool {
	if r == nil {
		return false
	}
	v, ok := r[field]
	return ok && v != nil
}

// Get returns the raw value of a field, or nil.
func (r Resource) Get(field string) interface{} {
	if r == nil {
		return nil
	}
	return r[field]
}

// String returns a string field and whether it was present as a string.
func (r Resource) String(field string) (string, bool) {
	s, ok := r.Get(field).(string)
	return s, ok
}

// StringOr returns a string field or def when absent or not a string.
func (r Resource) StringOr(field, def string) string {
	if s, ok := r.String(field); ok {
		return s
	}
	return def
}

// Map returns a nested object field as a Resource, or nil.
func (r Resource) Map(field string) Resource {
	return asResource(r.Get(field))
}

// Slice returns an array field, or nil when absent or not an array.
func (r Resource) Slice(field string) []interface{} {
	s, _ := r.Get(field).([]interface{})
	return s
}

// Path walks nested objects and returns the string at the end of the path.
// Array elements are not traversed; use Slice for those.
func (r Resource) Path(fields ...string) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	cur := r
	for _, f := range fields[:len(fields)-1] {
		cur = cur.Map(f)
		if cur == nil {
			return "", false
		}
	}
	return cur.String(fields[len(fields)-1])
}

// ResourceType returns the resourceType discriminator.
func (r Resource) ResourceType() string {
	return r.StringOr("resourceType", "")
}

// AsResource converts a decoded JSON value into a Resource when it is an
// object.
func AsResource(v interface{}) Resource {
	return asResource(v)
}

func asResource(v interface{}) Resource {
	switch m := v.(type) {
	case map[string]interface{}:
		return Resource(m)
	case Resource:
		return m
	default:
		return nil
	}
}

// HasKind reports whether ref starts with "<kind>/".
func HasKind(ref, kind string) bool {
	return strings.HasPrefix(ref, kind+"/")
}

// StripKind removes a leading "<kind>/" from ref. A reference without that
// prefix is returned unchanged.
func StripKind(ref, kind string) string {
	return strings.TrimPrefix(ref, kind+"/")
}

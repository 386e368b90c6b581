package api

import "time"

// FeatureView declares a schema plus a data source for a set of features
// keyed by one or more entities. TTL bounds how old a feature row may be
// relative to a lookup timestamp; zero means no staleness limit.
type FeatureView struct {
	Name            string            `json:"name"`
	Entities        []string          `json:"entities"`
	Fields          []Field           `json:"fields"`
	TTL             time.Duration     `json:"ttl"`
	Online          bool              `json:"online"`
	BatchSourceName string            `json:"batch_source_name"`
	PushSourceName  string            `json:"push_source_name,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func (v *FeatureView) FieldNames() []string {
	names := make([]string, len(v.Fields))
	for i, field := range v.Fields {
		names[i] = field.Name
	}
	return names
}

func (v *FeatureView) HasField(name string) bool {
	for _, field := range v.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

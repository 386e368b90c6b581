package api

// FeatureRef addresses either a whole view, a view restricted to a field
// subset, or a whole on-demand view. Features empty means the whole view;
// subsets are not allowed on on-demand views.
type FeatureRef struct {
	ViewName string   `json:"view_name"`
	Features []string `json:"features,omitempty"`
}

// LoggingConfig configures the async logging of served feature vectors.
// MissingValue, when set, is logged in place of features with no data.
type LoggingConfig struct {
	Path         string      `json:"path"`
	BufferSize   int         `json:"buffer_size,omitempty"`
	MissingValue interface{} `json:"missing_value,omitempty"`
}

// FeatureService is a named, versioned bundle of feature references served
// together. It is immutable once registered; a name change is a new version.
type FeatureService struct {
	Name     string            `json:"name"`
	Features []FeatureRef      `json:"features"`
	Logging  *LoggingConfig    `json:"logging,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

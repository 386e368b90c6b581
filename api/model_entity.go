package api

// Entity is a named join key that features are keyed by. Entities are
// immutable once registered.
type Entity struct {
	Name        string            `json:"name"`
	JoinKeys    []string          `json:"join_keys"`
	Description string            `json:"description,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

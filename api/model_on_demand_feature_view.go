package api

// OnDemandFeatureView derives new features from already resolved inputs and
// request-time fields through a pure transformation. Expressions maps every
// output field of Schema to an expr program evaluated over the input row;
// the same programs run in the online serving path and row-wise in the
// offline join path.
type OnDemandFeatureView struct {
	Name          string            `json:"name"`
	Sources       []string          `json:"sources"`
	RequestFields []Field           `json:"request_fields,omitempty"`
	Schema        []Field           `json:"schema"`
	Expressions   map[string]string `json:"expressions"`
	Tags          map[string]string `json:"tags,omitempty"`
}

func (v *OnDemandFeatureView) FieldNames() []string {
	names := make([]string, len(v.Schema))
	for i, field := range v.Schema {
		names[i] = field.Name
	}
	return names
}

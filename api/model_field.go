package api

import "github.com/featuremesh/featurestore-go/constants"

// Field is one named, typed column of a feature view schema.
type Field struct {
	Name        string           `json:"name"`
	Type        constants.FSType `json:"type"`
	Description string           `json:"description,omitempty"`
}

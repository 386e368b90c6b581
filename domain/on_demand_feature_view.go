package domain

import (
	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/ondemand"
)

// OnDemandFeatureView pairs a declaration with its compiled transform.
type OnDemandFeatureView struct {
	*api.OnDemandFeatureView

	transform ondemand.Transform
	// variables the transform reads, when the transform can report them
	variables []string
}

func NewOnDemandFeatureView(view *api.OnDemandFeatureView, transform ondemand.Transform) *OnDemandFeatureView {
	odView := &OnDemandFeatureView{
		OnDemandFeatureView: view,
		transform:           transform,
	}
	if lister, ok := transform.(interface{ Variables() []string }); ok {
		odView.variables = lister.Variables()
	}
	return odView
}

func (f *OnDemandFeatureView) Transform() ondemand.Transform {
	return f.transform
}

// Variables reports the inputs the transform reads, when known.
func (f *OnDemandFeatureView) Variables() []string {
	return f.variables
}

// Execute runs the transform over one resolved input row and validates the
// output against the declared schema. An absent request-time field fails
// with MissingInputError. A nil base input propagates: every output is nil,
// matching the NULL a historical join emits when no feature row qualifies.
func (f *OnDemandFeatureView) Execute(row map[string]interface{}) (map[string]interface{}, error) {
	for _, field := range f.RequestFields {
		if _, ok := row[field.Name]; !ok {
			return nil, &fserror.MissingInputError{Field: field.Name, View: f.Name}
		}
	}

	for _, variable := range f.variables {
		if value, ok := row[variable]; !ok || value == nil {
			return f.nullOutput(), nil
		}
	}

	output, err := f.transform.Apply(row)
	if err != nil {
		return nil, err
	}

	return ondemand.ValidateOutput(f.Name, f.Schema, output)
}

func (f *OnDemandFeatureView) nullOutput() map[string]interface{} {
	output := make(map[string]interface{}, len(f.Schema))
	for _, field := range f.Schema {
		output[field.Name] = nil
	}
	return output
}

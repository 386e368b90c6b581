package api

// Definitions is the full set of declarations loaded into a registry. The
// declarations are ordinary struct literals built once at startup; the
// registry validates them and they are read-only afterwards.
type Definitions struct {
	Entities             []*Entity
	BatchSources         []*BatchSource
	PushSources          []*PushSource
	FeatureViews         []*FeatureView
	OnDemandFeatureViews []*OnDemandFeatureView
	FeatureServices      []*FeatureService
}

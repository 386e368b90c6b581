// Package registry holds the validated, in-memory catalog of entities,
// feature views, on-demand feature views, push sources and feature services.
// A Registry is immutable after a successful New and safe for unlimited
// concurrent reads.
package registry

import (
	"sort"
	"strings"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/ondemand"
)

type Registry struct {
	entities      map[string]*api.Entity
	batchSources  map[string]*api.BatchSource
	pushSources   map[string]*api.PushSource
	views         map[string]*api.FeatureView
	onDemandViews map[string]*api.OnDemandFeatureView
	services      map[string]*api.FeatureService
	transforms    map[string]*ondemand.ExprTransform

	// global topological order of on-demand view names, sources first
	topoOrder []string
}

func New(defs *api.Definitions) (*Registry, error) {
	r := &Registry{
		entities:      make(map[string]*api.Entity),
		batchSources:  make(map[string]*api.BatchSource),
		pushSources:   make(map[string]*api.PushSource),
		views:         make(map[string]*api.FeatureView),
		onDemandViews: make(map[string]*api.OnDemandFeatureView),
		services:      make(map[string]*api.FeatureService),
		transforms:    make(map[string]*ondemand.ExprTransform),
	}

	for _, entity := range defs.Entities {
		if err := r.registerEntity(entity); err != nil {
			return nil, err
		}
	}
	for _, source := range defs.BatchSources {
		if err := r.registerBatchSource(source); err != nil {
			return nil, err
		}
	}
	for _, source := range defs.PushSources {
		if err := r.registerPushSource(source); err != nil {
			return nil, err
		}
	}
	for _, view := range defs.FeatureViews {
		if err := r.registerFeatureView(view); err != nil {
			return nil, err
		}
	}
	for _, view := range defs.OnDemandFeatureViews {
		if err := r.registerOnDemandFeatureView(view); err != nil {
			return nil, err
		}
	}

	if err := r.sortOnDemandViews(); err != nil {
		return nil, err
	}
	if err := r.compileTransforms(); err != nil {
		return nil, err
	}

	for _, service := range defs.FeatureServices {
		if err := r.registerFeatureService(service); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) registerEntity(entity *api.Entity) error {
	if entity.Name == "" {
		return fserror.Validationf("entity with empty name")
	}
	if _, ok := r.entities[entity.Name]; ok {
		return fserror.Validationf("duplicate entity %q", entity.Name)
	}
	if len(entity.JoinKeys) == 0 {
		return fserror.Validationf("entity %q has no join keys", entity.Name)
	}
	seen := make(map[string]bool)
	for _, key := range entity.JoinKeys {
		if seen[key] {
			return fserror.Validationf("entity %q repeats join key %q", entity.Name, key)
		}
		seen[key] = true
	}
	r.entities[entity.Name] = entity
	return nil
}

func (r *Registry) registerBatchSource(source *api.BatchSource) error {
	if source.Name == "" {
		return fserror.Validationf("batch source with empty name")
	}
	if _, ok := r.batchSources[source.Name]; ok {
		return fserror.Validationf("duplicate batch source %q", source.Name)
	}
	if source.TimestampField == "" {
		return fserror.Validationf("batch source %q has no timestamp field", source.Name)
	}
	r.batchSources[source.Name] = source
	return nil
}

func (r *Registry) registerPushSource(source *api.PushSource) error {
	if source.Name == "" {
		return fserror.Validationf("push source with empty name")
	}
	if _, ok := r.pushSources[source.Name]; ok {
		return fserror.Validationf("duplicate push source %q", source.Name)
	}
	if source.BatchSourceName != "" {
		if _, ok := r.batchSources[source.BatchSourceName]; !ok {
			return fserror.Validationf("push source %q references unknown batch source %q", source.Name, source.BatchSourceName)
		}
	}
	r.pushSources[source.Name] = source
	return nil
}

func (r *Registry) registerFeatureView(view *api.FeatureView) error {
	if view.Name == "" {
		return fserror.Validationf("feature view with empty name")
	}
	if _, ok := r.views[view.Name]; ok {
		return fserror.Validationf("duplicate feature view %q", view.Name)
	}
	if view.TTL < 0 {
		return fserror.Validationf("feature view %q has negative ttl", view.Name)
	}
	if len(view.Entities) == 0 {
		return fserror.Validationf("feature view %q has no entities", view.Name)
	}

	joinKeys := make(map[string]bool)
	for _, entityName := range view.Entities {
		entity, ok := r.entities[entityName]
		if !ok {
			return fserror.Validationf("feature view %q references unknown entity %q", view.Name, entityName)
		}
		for _, key := range entity.JoinKeys {
			joinKeys[key] = true
		}
	}

	seen := make(map[string]bool)
	for _, field := range view.Fields {
		if field.Name == "" {
			return fserror.Validationf("feature view %q has a field with empty name", view.Name)
		}
		if seen[field.Name] {
			return fserror.Validationf("feature view %q repeats field %q", view.Name, field.Name)
		}
		if joinKeys[field.Name] {
			return fserror.Validationf("feature view %q field %q collides with a join key", view.Name, field.Name)
		}
		if field.Name == constants.Online_Key_Field || field.Name == constants.Online_EventTime_Field {
			return fserror.Validationf("feature view %q field %q uses a reserved name", view.Name, field.Name)
		}
		seen[field.Name] = true
	}

	if view.BatchSourceName == "" {
		return fserror.Validationf("feature view %q has no batch source", view.Name)
	}
	if _, ok := r.batchSources[view.BatchSourceName]; !ok {
		return fserror.Validationf("feature view %q references unknown batch source %q", view.Name, view.BatchSourceName)
	}
	if view.PushSourceName != "" {
		if _, ok := r.pushSources[view.PushSourceName]; !ok {
			return fserror.Validationf("feature view %q references unknown push source %q", view.Name, view.PushSourceName)
		}
	}

	r.views[view.Name] = view
	return nil
}

func (r *Registry) registerOnDemandFeatureView(view *api.OnDemandFeatureView) error {
	if view.Name == "" {
		return fserror.Validationf("on demand feature view with empty name")
	}
	if _, ok := r.views[view.Name]; ok {
		return fserror.Validationf("on demand feature view %q collides with a feature view name", view.Name)
	}
	if _, ok := r.onDemandViews[view.Name]; ok {
		return fserror.Validationf("duplicate on demand feature view %q", view.Name)
	}
	if len(view.Schema) == 0 {
		return fserror.Validationf("on demand feature view %q has an empty output schema", view.Name)
	}

	seen := make(map[string]bool)
	for _, field := range view.Schema {
		if seen[field.Name] {
			return fserror.Validationf("on demand feature view %q repeats output field %q", view.Name, field.Name)
		}
		seen[field.Name] = true
	}
	for _, field := range view.RequestFields {
		if seen[field.Name] {
			return fserror.Validationf("on demand feature view %q request field %q collides with an output field", view.Name, field.Name)
		}
		seen[field.Name] = true
	}

	r.onDemandViews[view.Name] = view
	return nil
}

// sortOnDemandViews topologically orders the on-demand views over their
// source dependency graph. Source references are validated here; a cycle
// fails the whole load.
func (r *Registry) sortOnDemandViews() error {
	indegree := make(map[string]int, len(r.onDemandViews))
	dependents := make(map[string][]string)

	for name, view := range r.onDemandViews {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, sourceName := range view.Sources {
			if sourceName == name {
				return &fserror.CycleError{Nodes: []string{name}}
			}
			if _, ok := r.views[sourceName]; ok {
				continue
			}
			if _, ok := r.onDemandViews[sourceName]; !ok {
				return fserror.Validationf("on demand feature view %q references unknown source %q", name, sourceName)
			}
			indegree[name]++
			dependents[sourceName] = append(dependents[sourceName], name)
		}
	}

	var ready []string
	for name, degree := range indegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(indegree) {
		var remaining []string
		done := make(map[string]bool, len(order))
		for _, name := range order {
			done[name] = true
		}
		for name := range indegree {
			if !done[name] {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return &fserror.CycleError{Nodes: remaining}
	}

	r.topoOrder = order
	return nil
}

// compileTransforms builds each on-demand view's expression programs and
// checks that every referenced variable resolves to exactly one source view
// field, source on-demand output or declared request field. A variable
// provided by more than one source is rejected at load time rather than
// resolved by source order.
func (r *Registry) compileTransforms() error {
	for name, view := range r.onDemandViews {
		transform, err := ondemand.NewExprTransform(name, view.Schema, view.Expressions)
		if err != nil {
			return err
		}

		providers := make(map[string][]string)
		for _, sourceName := range view.Sources {
			if source, ok := r.views[sourceName]; ok {
				for _, field := range source.Fields {
					providers[field.Name] = append(providers[field.Name], sourceName)
				}
			} else if source, ok := r.onDemandViews[sourceName]; ok {
				for _, field := range source.Schema {
					providers[field.Name] = append(providers[field.Name], sourceName)
				}
			}
		}
		for _, field := range view.RequestFields {
			providers[field.Name] = append(providers[field.Name], "request")
		}

		for _, variable := range transform.Variables() {
			switch len(providers[variable]) {
			case 1:
			case 0:
				return fserror.Validationf("on demand feature view %q references %q, which is not a source field or request field", name, variable)
			default:
				return fserror.Validationf("on demand feature view %q references %q, which is provided by multiple sources: %s", name, variable, strings.Join(providers[variable], ", "))
			}
		}

		r.transforms[name] = transform
	}
	return nil
}

func (r *Registry) registerFeatureService(service *api.FeatureService) error {
	if service.Name == "" {
		return fserror.Validationf("feature service with empty name")
	}
	if _, ok := r.services[service.Name]; ok {
		return fserror.Validationf("duplicate feature service %q", service.Name)
	}
	if len(service.Features) == 0 {
		return fserror.Validationf("feature service %q has no feature references", service.Name)
	}

	for _, ref := range service.Features {
		if _, _, _, err := r.Resolve(ref); err != nil {
			return err
		}
	}

	r.services[service.Name] = service
	return nil
}

// Resolve returns the concrete view behind a feature reference and the
// applicable field subset. Exactly one of the two returned views is non-nil.
func (r *Registry) Resolve(ref api.FeatureRef) (*api.FeatureView, *api.OnDemandFeatureView, []string, error) {
	if view, ok := r.views[ref.ViewName]; ok {
		if len(ref.Features) == 0 {
			return view, nil, view.FieldNames(), nil
		}
		for _, name := range ref.Features {
			if !view.HasField(name) {
				return nil, nil, nil, fserror.Validationf("feature %q not found in view %q", name, ref.ViewName)
			}
		}
		return view, nil, ref.Features, nil
	}

	if view, ok := r.onDemandViews[ref.ViewName]; ok {
		if len(ref.Features) > 0 {
			return nil, nil, nil, fserror.Validationf("field subsets are not supported on on demand view %q", ref.ViewName)
		}
		return nil, view, view.FieldNames(), nil
	}

	return nil, nil, nil, fserror.Validationf("unknown view %q", ref.ViewName)
}

func (r *Registry) GetEntity(name string) *api.Entity {
	return r.entities[name]
}

func (r *Registry) GetBatchSource(name string) *api.BatchSource {
	return r.batchSources[name]
}

func (r *Registry) GetPushSource(name string) *api.PushSource {
	return r.pushSources[name]
}

func (r *Registry) GetFeatureView(name string) *api.FeatureView {
	return r.views[name]
}

func (r *Registry) GetOnDemandFeatureView(name string) *api.OnDemandFeatureView {
	return r.onDemandViews[name]
}

func (r *Registry) GetFeatureService(name string) *api.FeatureService {
	return r.services[name]
}

func (r *Registry) Transform(name string) *ondemand.ExprTransform {
	return r.transforms[name]
}

func (r *Registry) FeatureViews() []*api.FeatureView {
	views := make([]*api.FeatureView, 0, len(r.views))
	for _, view := range r.views {
		views = append(views, view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

func (r *Registry) FeatureServices() []*api.FeatureService {
	services := make([]*api.FeatureService, 0, len(r.services))
	for _, service := range r.services {
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services
}

// ViewsForPushSource returns every feature view bound to the push source,
// sorted by name.
func (r *Registry) ViewsForPushSource(name string) []*api.FeatureView {
	var views []*api.FeatureView
	for _, view := range r.views {
		if view.PushSourceName == name {
			views = append(views, view)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// OnDemandClosure expands the named on-demand views into their full
// dependency closure in execution order, sources before dependents.
func (r *Registry) OnDemandClosure(names []string) ([]string, error) {
	want := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if want[name] {
			return nil
		}
		view, ok := r.onDemandViews[name]
		if !ok {
			return fserror.Validationf("unknown on demand feature view %q", name)
		}
		want[name] = true
		for _, sourceName := range view.Sources {
			if _, ok := r.onDemandViews[sourceName]; ok {
				if err := visit(sourceName); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	var ordered []string
	for _, name := range r.topoOrder {
		if want[name] {
			ordered = append(ordered, name)
		}
	}
	return ordered, nil
}

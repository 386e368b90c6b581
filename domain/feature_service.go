package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/dao"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/logging"
	"github.com/featuremesh/featurestore-go/offline"
	"github.com/featuremesh/featurestore-go/registry"
)

type projEntry struct {
	viewName string
	field    string
	outName  string
	onDemand bool
}

type plannedView struct {
	view     *FeatureView
	features []string
}

// FeatureService composes feature references into a single execution plan:
// the minimal deduplicated set of base views to fetch, the on-demand views
// in dependency order, and the final column projection. The plan is built
// once at load; serving and historical retrieval both drive off it, which
// is what keeps the two paths consistent.
type FeatureService struct {
	*api.FeatureService

	baseViews     []*plannedView
	onDemand      []*OnDemandFeatureView
	projection    []projEntry
	fieldNames    []string
	requestFields []api.Field

	joinEngine     *offline.JoinEngine
	sink           *logging.Sink
	missingValue   interface{}
	partialResults bool
	fetchTimeout   time.Duration
}

type FeatureServiceConfig struct {
	JoinEngine     *offline.JoinEngine
	Sink           *logging.Sink
	PartialResults bool
	FetchTimeout   time.Duration
}

func NewFeatureService(service *api.FeatureService, reg *registry.Registry,
	views map[string]*FeatureView, odViews map[string]*OnDemandFeatureView,
	config FeatureServiceConfig) (*FeatureService, error) {

	s := &FeatureService{
		FeatureService: service,
		joinEngine:     config.JoinEngine,
		sink:           config.Sink,
		partialResults: config.PartialResults,
		fetchTimeout:   config.FetchTimeout,
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 500 * time.Millisecond
	}
	if service.Logging != nil {
		s.missingValue = service.Logging.MissingValue
	}

	plannedByName := make(map[string]*plannedView)
	fetchSet := make(map[string]map[string]bool)
	addFetch := func(viewName string, fields []string) {
		pv, ok := plannedByName[viewName]
		if !ok {
			pv = &plannedView{view: views[viewName]}
			plannedByName[viewName] = pv
			fetchSet[viewName] = make(map[string]bool)
			s.baseViews = append(s.baseViews, pv)
		}
		for _, field := range fields {
			if !fetchSet[viewName][field] {
				fetchSet[viewName][field] = true
				pv.features = append(pv.features, field)
			}
		}
	}

	var odRequested []string
	for _, ref := range service.Features {
		base, odView, fields, err := reg.Resolve(ref)
		if err != nil {
			return nil, err
		}
		if base != nil {
			addFetch(base.Name, fields)
			for _, field := range fields {
				s.projection = append(s.projection, projEntry{viewName: base.Name, field: field})
			}
		} else {
			odRequested = append(odRequested, odView.Name)
			for _, field := range fields {
				s.projection = append(s.projection, projEntry{viewName: odView.Name, field: field, onDemand: true})
			}
		}
	}

	closure, err := reg.OnDemandClosure(odRequested)
	if err != nil {
		return nil, err
	}

	seenRequest := make(map[string]bool)
	for _, name := range closure {
		odView := odViews[name]
		s.onDemand = append(s.onDemand, odView)

		for _, field := range odView.RequestFields {
			if !seenRequest[field.Name] {
				seenRequest[field.Name] = true
				s.requestFields = append(s.requestFields, field)
			}
		}

		// pull in the base fields the expressions actually reference
		for _, sourceName := range odView.Sources {
			source := reg.GetFeatureView(sourceName)
			if source == nil {
				continue
			}
			var needed []string
			for _, variable := range odView.Variables() {
				if source.HasField(variable) {
					needed = append(needed, variable)
				}
			}
			addFetch(sourceName, needed)
		}
	}

	if err := s.nameProjection(); err != nil {
		return nil, err
	}

	return s, nil
}

// nameProjection assigns final column names in declared order. A field name
// served by more than one view is disambiguated as <view>.<field> instead
// of silently overwritten.
func (s *FeatureService) nameProjection() error {
	counts := make(map[string]int)
	seenPair := make(map[string]bool)
	for _, entry := range s.projection {
		pair := entry.viewName + "\x00" + entry.field
		if seenPair[pair] {
			return fserror.Validationf("feature service %q references %s.%s twice", s.Name, entry.viewName, entry.field)
		}
		seenPair[pair] = true
		counts[entry.field]++
	}

	for i := range s.projection {
		entry := &s.projection[i]
		if counts[entry.field] > 1 {
			entry.outName = entry.viewName + "." + entry.field
		} else {
			entry.outName = entry.field
		}
		s.fieldNames = append(s.fieldNames, entry.outName)
	}
	return nil
}

// FieldNames returns the response columns in declared order.
func (s *FeatureService) FieldNames() []string {
	return append([]string{}, s.fieldNames...)
}

// RequestFields returns the request-time inputs the service needs.
func (s *FeatureService) RequestFields() []api.Field {
	return append([]api.Field{}, s.requestFields...)
}

type viewFetch struct {
	records map[string]dao.OnlineRecord
	err     error
}

// GetOnlineFeatures serves the service for a batch of entity rows. Each row
// carries the join key values and any request-time inputs. Base views are
// fetched in parallel with per-view timeouts; on-demand views then run in
// dependency order.
func (s *FeatureService) GetOnlineFeatures(ctx context.Context, entityRows []map[string]interface{}) (*ServingResponse, error) {
	now := time.Now()

	rowKeys := make([][]string, len(s.baseViews))
	uniqueKeys := make([][]string, len(s.baseViews))
	for v, pv := range s.baseViews {
		rowKeys[v] = make([]string, len(entityRows))
		seen := make(map[string]bool)
		for i, row := range entityRows {
			key, err := pv.view.KeyString(row)
			if err != nil {
				return nil, err
			}
			rowKeys[v][i] = key
			if !seen[key] {
				seen[key] = true
				uniqueKeys[v] = append(uniqueKeys[v], key)
			}
		}
	}

	fetches := make([]viewFetch, len(s.baseViews))
	var wg sync.WaitGroup
	for v, pv := range s.baseViews {
		wg.Add(1)
		go func(v int, pv *plannedView) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			records, err := pv.view.GetOnlineFeatures(fetchCtx, uniqueKeys[v], pv.features)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = &fserror.TimeoutError{View: pv.view.Name}
			}
			fetches[v] = viewFetch{records: records, err: err}
		}(v, pv)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, &fserror.CancelledError{Cause: ctx.Err()}
	}

	viewErrors := make(map[string]error)
	for v, fetch := range fetches {
		if fetch.err != nil {
			if !s.partialResults {
				return nil, fetch.err
			}
			viewErrors[s.baseViews[v].view.Name] = fetch.err
		}
	}

	response := &ServingResponse{
		ServiceName: s.Name,
		RequestID:   uuid.NewString(),
		FieldNames:  s.FieldNames(),
		Vectors:     make([]*FeatureVector, len(entityRows)),
	}
	if len(viewErrors) > 0 {
		response.ViewErrors = viewErrors
	}

	for i, entityRow := range entityRows {
		baseValues := make(map[string]map[string]interface{}, len(s.baseViews))
		baseStatus := make(map[string]map[string]FeatureStatus, len(s.baseViews))
		baseEvent := make(map[string]time.Time, len(s.baseViews))

		for v, pv := range s.baseViews {
			viewName := pv.view.Name
			values := make(map[string]interface{}, len(pv.features))
			statuses := make(map[string]FeatureStatus, len(pv.features))

			record, found := fetches[v].records[rowKeys[v][i]]
			failed := fetches[v].err != nil
			stale := found && pv.view.IsStale(record, now)
			if found {
				baseEvent[viewName] = record.EventTime
			}

			for _, field := range pv.features {
				switch {
				case failed:
					values[field] = nil
					statuses[field] = FEATURE_STATUS_UNAVAILABLE
				case !found:
					values[field] = nil
					statuses[field] = FEATURE_STATUS_MISSING
				default:
					value, ok := record.Fields[field]
					if !ok {
						values[field] = nil
						statuses[field] = FEATURE_STATUS_MISSING
					} else {
						values[field] = value
						if stale {
							statuses[field] = FEATURE_STATUS_STALE
						} else {
							statuses[field] = FEATURE_STATUS_PRESENT
						}
					}
				}
			}

			baseValues[viewName] = values
			baseStatus[viewName] = statuses
		}

		// each transform sees only its declared sources plus the request
		// row, so a field name shared across unrelated views cannot leak in
		odOutputs := make(map[string]map[string]interface{}, len(s.onDemand))
		for _, odView := range s.onDemand {
			input := make(map[string]interface{}, len(entityRow))
			for name, value := range entityRow {
				input[name] = value
			}
			for _, sourceName := range odView.Sources {
				for name, value := range baseValues[sourceName] {
					input[name] = value
				}
				for name, value := range odOutputs[sourceName] {
					input[name] = value
				}
			}
			output, err := odView.Execute(input)
			if err != nil {
				return nil, err
			}
			odOutputs[odView.Name] = output
		}

		vector := &FeatureVector{
			Values:     make(map[string]interface{}, len(s.projection)),
			Statuses:   make(map[string]FeatureStatus, len(s.projection)),
			EventTimes: make(map[string]time.Time),
		}
		for _, entry := range s.projection {
			if entry.onDemand {
				value := odOutputs[entry.viewName][entry.field]
				vector.Values[entry.outName] = value
				if value == nil {
					vector.Statuses[entry.outName] = FEATURE_STATUS_MISSING
				} else {
					vector.Statuses[entry.outName] = FEATURE_STATUS_PRESENT
				}
			} else {
				vector.Values[entry.outName] = baseValues[entry.viewName][entry.field]
				vector.Statuses[entry.outName] = baseStatus[entry.viewName][entry.field]
				if eventTime, ok := baseEvent[entry.viewName]; ok {
					vector.EventTimes[entry.outName] = eventTime
				}
			}
		}
		response.Vectors[i] = vector
	}

	s.logServed(response)

	return response, nil
}

// logServed hands the response to the service's logging sink, if any. The
// enqueue never blocks serving.
func (s *FeatureService) logServed(response *ServingResponse) {
	if s.sink == nil {
		return
	}

	record := &logging.Record{
		ServiceName: s.Name,
		RequestID:   response.RequestID,
		LoggedAt:    time.Now(),
		FieldNames:  response.FieldNames,
		Rows:        make([]map[string]interface{}, len(response.Vectors)),
		Statuses:    make([]map[string]string, len(response.Vectors)),
	}
	for i, vector := range response.Vectors {
		row := make(map[string]interface{}, len(vector.Values))
		statuses := make(map[string]string, len(vector.Statuses))
		for name, value := range vector.Values {
			if value == nil && s.missingValue != nil {
				value = s.missingValue
			}
			row[name] = value
		}
		for name, status := range vector.Statuses {
			statuses[name] = status.String()
		}
		record.Rows[i] = row
		record.Statuses[i] = statuses
	}

	s.sink.Log(record)
}

// GetHistoricalFeatures runs the offline path: point-in-time join of every
// base view against the spine, then the same on-demand transforms applied
// row-wise over the joined table.
func (s *FeatureService) GetHistoricalFeatures(ctx context.Context, spine *offline.Spine) (*offline.Table, error) {
	if s.joinEngine == nil {
		return nil, fmt.Errorf("feature service %q has no batch readers configured", s.Name)
	}

	internal := func(viewName, field string) string {
		return viewName + "\x00" + field
	}

	viewJoins := make([]offline.ViewJoin, len(s.baseViews))
	for v, pv := range s.baseViews {
		rename := make(map[string]string, len(pv.features))
		for _, field := range pv.features {
			rename[field] = internal(pv.view.Name, field)
		}
		viewJoins[v] = pv.view.ViewJoin(pv.features, rename)
	}

	joined, err := s.joinEngine.Join(ctx, spine, viewJoins)
	if err != nil {
		return nil, err
	}

	columns := append([]string{}, spine.Columns...)
	columns = append(columns, s.fieldNames...)
	table := &offline.Table{Columns: columns, Rows: make([]offline.Row, len(joined.Rows))}

	for i, joinedRow := range joined.Rows {
		if err := ctx.Err(); err != nil {
			return nil, &fserror.CancelledError{Cause: err}
		}

		baseValues := make(map[string]map[string]interface{}, len(s.baseViews))
		for _, pv := range s.baseViews {
			values := make(map[string]interface{}, len(pv.features))
			for _, field := range pv.features {
				values[field] = joinedRow[internal(pv.view.Name, field)]
			}
			baseValues[pv.view.Name] = values
		}

		// same sourcing rule as the online path: declared sources plus the
		// spine columns
		odOutputs := make(map[string]map[string]interface{}, len(s.onDemand))
		for _, odView := range s.onDemand {
			input := make(map[string]interface{}, len(spine.Columns))
			for _, column := range spine.Columns {
				input[column] = joinedRow[column]
			}
			for _, sourceName := range odView.Sources {
				for name, value := range baseValues[sourceName] {
					input[name] = value
				}
				for name, value := range odOutputs[sourceName] {
					input[name] = value
				}
			}
			output, err := odView.Execute(input)
			if err != nil {
				return nil, err
			}
			odOutputs[odView.Name] = output
		}

		row := make(offline.Row, len(columns))
		for _, column := range spine.Columns {
			row[column] = joinedRow[column]
		}
		for _, entry := range s.projection {
			if entry.onDemand {
				row[entry.outName] = odOutputs[entry.viewName][entry.field]
			} else {
				row[entry.outName] = joinedRow[internal(entry.viewName, entry.field)]
			}
		}
		table.Rows[i] = row
	}

	return table, nil
}

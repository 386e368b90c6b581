// Package ingest fans pushed rows out to every destination bound to a push
// source: the online store of each feature view reading from it, and the
// batch sink backing its batch source.
package ingest

import (
	"context"
	"sync"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/domain"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/offline"
	"github.com/featuremesh/featurestore-go/registry"
)

// PushResult reports the outcome per destination. Destinations are
// independent: one failing does not stop the others, and the caller can
// retry just the failed ones. Retrying a delivered batch is safe because
// online writes are monotonic by event time and sinks deduplicate.
type PushResult struct {
	SourceName string
	RowCount   int

	// OnlineErrors maps feature view name to its write error, if any.
	OnlineErrors map[string]error
	// OfflineError is the batch sink append error, if any.
	OfflineError error
}

func (r *PushResult) Ok() bool {
	return len(r.OnlineErrors) == 0 && r.OfflineError == nil
}

type Ingestor struct {
	registry *registry.Registry
	views    map[string]*domain.FeatureView
	sinks    map[string]offline.BatchSink
}

func NewIngestor(reg *registry.Registry, views map[string]*domain.FeatureView, sinks map[string]offline.BatchSink) *Ingestor {
	return &Ingestor{
		registry: reg,
		views:    views,
		sinks:    sinks,
	}
}

// Push delivers one batch for the named push source. Every row must carry
// the batch source's timestamp field and the join keys of each bound view;
// validation failures reject the whole batch before anything is written.
func (i *Ingestor) Push(ctx context.Context, sourceName string, rows []offline.Row) (*PushResult, error) {
	pushSource := i.registry.GetPushSource(sourceName)
	if pushSource == nil {
		return nil, fserror.Validationf("push source %q not found", sourceName)
	}

	boundViews := i.registry.ViewsForPushSource(sourceName)

	// a push source without a batch source is online-only; rows then only
	// need each bound view's own timestamp and join keys
	var batchSource *api.BatchSource
	if pushSource.BatchSourceName != "" {
		batchSource = i.registry.GetBatchSource(pushSource.BatchSourceName)
	}

	for _, row := range rows {
		if batchSource != nil {
			if _, ok := row[batchSource.TimestampField]; !ok {
				return nil, &fserror.MissingInputError{Field: batchSource.TimestampField, View: sourceName}
			}
		}
		for _, view := range boundViews {
			featureView := i.views[view.Name]
			if _, ok := row[featureView.BatchSource.TimestampField]; !ok {
				return nil, &fserror.MissingInputError{Field: featureView.BatchSource.TimestampField, View: view.Name}
			}
			for _, joinKey := range featureView.JoinKeys() {
				if _, ok := row[joinKey]; !ok {
					return nil, &fserror.MissingInputError{Field: joinKey, View: view.Name}
				}
			}
		}
	}

	result := &PushResult{SourceName: sourceName, RowCount: len(rows)}

	var wg sync.WaitGroup
	var mutex sync.Mutex
	for _, view := range boundViews {
		if !view.Online {
			continue
		}
		featureView := i.views[view.Name]
		wg.Add(1)
		go func(featureView *domain.FeatureView) {
			defer wg.Done()
			if err := featureView.WriteOnline(ctx, rows); err != nil {
				mutex.Lock()
				if result.OnlineErrors == nil {
					result.OnlineErrors = make(map[string]error)
				}
				result.OnlineErrors[featureView.Name] = err
				mutex.Unlock()
			}
		}(featureView)
	}

	if sink, ok := i.sinks[pushSource.BatchSourceName]; ok && batchSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Append(ctx, rows); err != nil {
				mutex.Lock()
				result.OfflineError = err
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	return result, nil
}

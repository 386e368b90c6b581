package offline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/utils"
)

// ViewJoin describes one feature view's participation in a historical
// retrieval: where its rows come from, how spine rows key into them, and
// which fields land in the output under which column names.
type ViewJoin struct {
	ViewName       string
	SourceName     string
	JoinKeys       []string
	TimestampField string
	CreatedField   string
	TTL            time.Duration
	Fields         []string
	// Rename maps a view field to its output column name.
	Rename map[string]string
}

// JoinEngine produces point-in-time correct wide tables. Sources are read
// once per view, indexed by entity key and sorted by event time, so each
// spine lookup is a binary search rather than a scan.
type JoinEngine struct {
	readers map[string]BatchReader
}

func NewJoinEngine(readers map[string]BatchReader) *JoinEngine {
	return &JoinEngine{readers: readers}
}

type indexedRow struct {
	row     Row
	event   time.Time
	created time.Time
}

// Join returns one output row per spine row, with NULL for every field of a
// view that has no candidate row at or before the spine timestamp (and
// within TTL when the view has one). The spine is scanned once per view but
// never re-read.
func (e *JoinEngine) Join(ctx context.Context, spine *Spine, views []ViewJoin) (*Table, error) {
	spineTimes := make([]time.Time, len(spine.Rows))
	var err error
	for i, row := range spine.Rows {
		value, ok := row[spine.TimestampField]
		if !ok {
			return nil, fserror.Validationf("spine row %d has no timestamp field %q", i, spine.TimestampField)
		}
		spineTimes[i], err = utils.ParseTime(value)
		if err != nil {
			return nil, fserror.Validationf("spine row %d: bad %s value: %v", i, spine.TimestampField, err)
		}
	}

	// independent sources are fetched and matched in parallel; each view
	// produces its own match column set, merged after the barrier
	matches := make([][]Row, len(views))
	errs := make([]error, len(views))
	var wg sync.WaitGroup

	for v := range views {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			matches[v], errs[v] = e.matchView(ctx, spine, spineTimes, views[v])
		}(v)
	}
	wg.Wait()

	for v, err := range errs {
		if err != nil {
			if ctx.Err() != nil {
				return nil, &fserror.CancelledError{Cause: ctx.Err()}
			}
			return nil, fmt.Errorf("join view %q error, err=%w", views[v].ViewName, err)
		}
	}

	columns := append([]string{}, spine.Columns...)
	for _, view := range views {
		for _, field := range view.Fields {
			columns = append(columns, view.Rename[field])
		}
	}

	table := &Table{Columns: columns, Rows: make([]Row, len(spine.Rows))}
	for i, spineRow := range spine.Rows {
		row := spineRow.Clone()
		for v, view := range views {
			match := matches[v][i]
			for _, field := range view.Fields {
				if match == nil {
					row[view.Rename[field]] = nil
				} else {
					row[view.Rename[field]] = match[field]
				}
			}
		}
		table.Rows[i] = row
	}

	return table, nil
}

func (e *JoinEngine) matchView(ctx context.Context, spine *Spine, spineTimes []time.Time, view ViewJoin) ([]Row, error) {
	reader, ok := e.readers[view.SourceName]
	if !ok {
		return nil, fserror.Validationf("no batch reader configured for source %q", view.SourceName)
	}

	rows, err := reader.Read(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string][]indexedRow)
	for _, row := range rows {
		keyValues := make([]interface{}, len(view.JoinKeys))
		for i, joinKey := range view.JoinKeys {
			keyValues[i] = row[joinKey]
		}
		key := utils.JoinKeyString(keyValues)

		event, err := utils.ParseTime(row[view.TimestampField])
		if err != nil {
			return nil, fserror.Validationf("view %q: bad %s value: %v", view.ViewName, view.TimestampField, err)
		}
		created := time.Time{}
		if view.CreatedField != "" && row[view.CreatedField] != nil {
			created, err = utils.ParseTime(row[view.CreatedField])
			if err != nil {
				return nil, fserror.Validationf("view %q: bad %s value: %v", view.ViewName, view.CreatedField, err)
			}
		}
		index[key] = append(index[key], indexedRow{row: row, event: event, created: created})
	}

	// stable: rows tied on both timestamps keep input order, so the
	// physically latest appended row wins the tie
	for _, candidates := range index {
		sort.SliceStable(candidates, func(i, j int) bool {
			if !candidates[i].event.Equal(candidates[j].event) {
				return candidates[i].event.Before(candidates[j].event)
			}
			return candidates[i].created.Before(candidates[j].created)
		})
	}

	matches := make([]Row, len(spine.Rows))
	for i, spineRow := range spine.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		keyValues := make([]interface{}, len(view.JoinKeys))
		for k, joinKey := range view.JoinKeys {
			keyValues[k] = spineRow[joinKey]
		}
		candidates := index[utils.JoinKeyString(keyValues)]
		if len(candidates) == 0 {
			continue
		}

		ts := spineTimes[i]

		// last candidate with event time <= spine time: no look-ahead
		pos := sort.Search(len(candidates), func(j int) bool {
			return candidates[j].event.After(ts)
		})
		if pos == 0 {
			continue
		}
		candidate := candidates[pos-1]

		// staleness cutoff, boundary inclusive
		if view.TTL > 0 && candidate.event.Before(ts.Add(-view.TTL)) {
			continue
		}

		matches[i] = candidate.row
	}

	return matches, nil
}

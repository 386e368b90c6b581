package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/featuremesh/featurestore-go/fserror"
)

func day(d int) time.Time {
	return time.Date(2026, 3, 1+d, 0, 0, 0, 0, time.UTC)
}

func statsRow(driverId int64, event, created time.Time, convRate float64) Row {
	return Row{
		"driver_id":       driverId,
		"event_timestamp": event,
		"created":         created,
		"conv_rate":       convRate,
	}
}

func statsJoin(ttl time.Duration) ViewJoin {
	return ViewJoin{
		ViewName:       "driver_hourly_stats",
		SourceName:     "driver_stats_source",
		JoinKeys:       []string{"driver_id"},
		TimestampField: "event_timestamp",
		CreatedField:   "created",
		TTL:            ttl,
		Fields:         []string{"conv_rate"},
		Rename:         map[string]string{"conv_rate": "conv_rate"},
	}
}

func runJoin(t *testing.T, featureRows []Row, spineRows []Row, ttl time.Duration) *Table {
	t.Helper()
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader(featureRows),
	})
	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           spineRows,
	}
	table, err := engine.Join(context.Background(), spine, []ViewJoin{statsJoin(ttl)})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestJoinNoLookahead(t *testing.T) {
	featureRows := []Row{
		statsRow(1001, day(0), day(0), 0.1),
		statsRow(1001, day(2), day(2), 0.9),
	}
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(0).Add(-time.Hour)},
		{"driver_id": int64(1001), "event_timestamp": day(1)},
		{"driver_id": int64(1001), "event_timestamp": day(2)},
	}

	table := runJoin(t, featureRows, spineRows, 0)

	assert.Equal(t, nil, table.Rows[0]["conv_rate"])
	assert.Equal(t, 0.1, table.Rows[1]["conv_rate"])
	// a row whose event time equals the spine time is visible
	assert.Equal(t, 0.9, table.Rows[2]["conv_rate"])
}

func TestJoinTTLBoundary(t *testing.T) {
	featureRows := []Row{
		statsRow(1001, day(0), day(0), 0.5),
	}
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(1)},
		{"driver_id": int64(1001), "event_timestamp": day(1).Add(time.Second)},
	}

	table := runJoin(t, featureRows, spineRows, 24*time.Hour)

	// age exactly equal to TTL still qualifies
	assert.Equal(t, 0.5, table.Rows[0]["conv_rate"])
	assert.Equal(t, nil, table.Rows[1]["conv_rate"])
}

func TestJoinTieBreakByCreated(t *testing.T) {
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(1)},
	}

	// same event time, different created time: higher created wins,
	// whichever order the rows arrive in
	a := statsRow(1001, day(0), day(0), 0.2)
	b := statsRow(1001, day(0), day(0).Add(time.Hour), 0.8)

	table := runJoin(t, []Row{a, b}, spineRows, 0)
	assert.Equal(t, 0.8, table.Rows[0]["conv_rate"])

	table = runJoin(t, []Row{b, a}, spineRows, 0)
	assert.Equal(t, 0.8, table.Rows[0]["conv_rate"])
}

func TestJoinTieBreakByInputOrder(t *testing.T) {
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(1)},
	}

	// fully tied rows resolve to the physically latest appended one
	table := runJoin(t, []Row{
		statsRow(1001, day(0), day(0), 0.2),
		statsRow(1001, day(0), day(0), 0.8),
	}, spineRows, 0)

	assert.Equal(t, 0.8, table.Rows[0]["conv_rate"])
}

func TestJoinStaleWindowScenario(t *testing.T) {
	// rows at day0 and day2 18:00 with a one day TTL: a spine row at
	// day2 12:00 sees neither (day2's row is in the future, day0's is
	// past the cutoff), a spine row at day3 sees day2's
	featureRows := []Row{
		statsRow(1001, day(0), day(0), 0.5),
		statsRow(1001, day(2).Add(18*time.Hour), day(2).Add(18*time.Hour), 0.8),
	}
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(2).Add(12 * time.Hour)},
		{"driver_id": int64(1001), "event_timestamp": day(3)},
	}

	table := runJoin(t, featureRows, spineRows, 24*time.Hour)

	assert.Equal(t, nil, table.Rows[0]["conv_rate"])
	assert.Equal(t, 0.8, table.Rows[1]["conv_rate"])
}

func TestJoinPerEntityMatching(t *testing.T) {
	featureRows := []Row{
		statsRow(1001, day(0), day(0), 0.1),
		statsRow(1002, day(0), day(0), 0.7),
	}
	spineRows := []Row{
		{"driver_id": int64(1001), "event_timestamp": day(1)},
		{"driver_id": int64(1002), "event_timestamp": day(1)},
		{"driver_id": int64(1003), "event_timestamp": day(1)},
	}

	table := runJoin(t, featureRows, spineRows, 0)

	assert.Equal(t, 0.1, table.Rows[0]["conv_rate"])
	assert.Equal(t, 0.7, table.Rows[1]["conv_rate"])
	assert.Equal(t, nil, table.Rows[2]["conv_rate"])
}

func TestJoinRename(t *testing.T) {
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader([]Row{statsRow(1001, day(0), day(0), 0.1)}),
	})
	view := statsJoin(0)
	view.Rename = map[string]string{"conv_rate": "driver_hourly_stats.conv_rate"}

	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001), "event_timestamp": day(1)}},
	}

	table, err := engine.Join(context.Background(), spine, []ViewJoin{view})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 0.1, table.Rows[0]["driver_hourly_stats.conv_rate"])
	assert.Equal(t, []string{"driver_id", "event_timestamp", "driver_hourly_stats.conv_rate"}, table.Columns)
}

func TestJoinMissingReader(t *testing.T) {
	engine := NewJoinEngine(map[string]BatchReader{})
	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001), "event_timestamp": day(1)}},
	}

	_, err := engine.Join(context.Background(), spine, []ViewJoin{statsJoin(0)})
	if err == nil {
		t.Fatal("expected error for missing reader")
	}
}

func TestJoinSpineMissingTimestamp(t *testing.T) {
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader(nil),
	})
	spine := &Spine{
		Columns:        []string{"driver_id"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001)}},
	}

	_, err := engine.Join(context.Background(), spine, []ViewJoin{statsJoin(0)})
	var validationErr *fserror.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJoinRejectsBadSpineTimestamp(t *testing.T) {
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader(nil),
	})
	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001), "event_timestamp": "yesterday-ish"}},
	}

	_, err := engine.Join(context.Background(), spine, []ViewJoin{statsJoin(0)})
	var validationErr *fserror.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJoinRejectsBadFeatureTimestamp(t *testing.T) {
	bad := statsRow(1001, day(0), day(0), 0.1)
	bad["event_timestamp"] = struct{}{}
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader([]Row{bad}),
	})
	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001), "event_timestamp": day(1)}},
	}

	_, err := engine.Join(context.Background(), spine, []ViewJoin{statsJoin(0)})
	var validationErr *fserror.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJoinCancelledContext(t *testing.T) {
	engine := NewJoinEngine(map[string]BatchReader{
		"driver_stats_source": NewMemoryReader([]Row{statsRow(1001, day(0), day(0), 0.1)}),
	})
	spine := &Spine{
		Columns:        []string{"driver_id", "event_timestamp"},
		TimestampField: "event_timestamp",
		Rows:           []Row{{"driver_id": int64(1001), "event_timestamp": day(1)}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Join(ctx, spine, []ViewJoin{statsJoin(0)})
	var cancelledErr *fserror.CancelledError
	if !errors.As(err, &cancelledErr) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

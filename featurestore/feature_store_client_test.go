package featurestore

import (
	"context"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/domain"
	"github.com/featuremesh/featurestore-go/logging"
	"github.com/featuremesh/featurestore-go/offline"
)

// driverDefs mirrors a ride-hailing feature repo: hourly driver statistics
// with a pushed fresh variant, a request-time transformation, and services
// composing them. The prefix isolates online store state between tests.
func driverDefs(prefix string) *api.Definitions {
	hourly := prefix + "driver_hourly_stats"
	fresh := prefix + "driver_hourly_stats_fresh"

	return &api.Definitions{
		Entities: []*api.Entity{
			{Name: "driver", JoinKeys: []string{"driver_id"}, Description: "driver identifier"},
		},
		BatchSources: []*api.BatchSource{
			{
				Name:                  "driver_stats_source",
				Table:                 "driver_stats",
				TimestampField:        "event_timestamp",
				CreatedTimestampField: "created",
			},
		},
		PushSources: []*api.PushSource{
			{Name: "driver_stats_push_source", BatchSourceName: "driver_stats_source"},
		},
		FeatureViews: []*api.FeatureView{
			{
				Name:     hourly,
				Entities: []string{"driver"},
				Fields: []api.Field{
					{Name: "conv_rate", Type: constants.FS_DOUBLE},
					{Name: "acc_rate", Type: constants.FS_DOUBLE},
					{Name: "avg_daily_trips", Type: constants.FS_INT64},
				},
				TTL:             24 * time.Hour,
				Online:          true,
				BatchSourceName: "driver_stats_source",
			},
			{
				Name:     fresh,
				Entities: []string{"driver"},
				Fields: []api.Field{
					{Name: "conv_rate", Type: constants.FS_DOUBLE},
				},
				Online:          true,
				BatchSourceName: "driver_stats_source",
				PushSourceName:  "driver_stats_push_source",
			},
		},
		OnDemandFeatureViews: []*api.OnDemandFeatureView{
			{
				Name:    "transformed_conv_rate",
				Sources: []string{hourly},
				RequestFields: []api.Field{
					{Name: "val_to_add", Type: constants.FS_INT64},
				},
				Schema: []api.Field{
					{Name: "conv_rate_plus_val1", Type: constants.FS_DOUBLE},
				},
				Expressions: map[string]string{
					"conv_rate_plus_val1": "conv_rate + val_to_add",
				},
			},
		},
		FeatureServices: []*api.FeatureService{
			{
				Name: "driver_activity_v1",
				Features: []api.FeatureRef{
					{ViewName: hourly},
					{ViewName: "transformed_conv_rate"},
				},
				Logging: &api.LoggingConfig{BufferSize: 8, MissingValue: -1.0},
			},
			{
				Name: "driver_activity_v3",
				Features: []api.FeatureRef{
					{ViewName: fresh, Features: []string{"conv_rate"}},
				},
			},
		},
	}
}

func statsRow(driverId int64, eventTime time.Time, convRate float64, trips int64) offline.Row {
	return offline.Row{
		"driver_id":       driverId,
		"event_timestamp": eventTime,
		"created":         eventTime,
		"conv_rate":       convRate,
		"acc_rate":        convRate / 2,
		"avg_daily_trips": trips,
	}
}

func TestClientEndToEnd(t *testing.T) {
	ctx := context.Background()
	prefix := "e2e_"
	now := time.Now()

	historyReader := offline.NewMemoryReader([]offline.Row{
		statsRow(1001, now.Add(-2*time.Hour), 0.3, 100),
		statsRow(1001, now.Add(-30*time.Minute), 0.5, 300),
		statsRow(1002, now.Add(-30*time.Minute), 0.8, 500),
	})
	pushSink := offline.NewMemorySink(historyReader, []string{"driver_id", "event_timestamp"})
	logDestination := logging.NewMemoryDestination()

	client, err := NewFeatureStoreClient(driverDefs(prefix),
		WithBatchReader("driver_stats_source", historyReader),
		WithBatchSink("driver_stats_source", pushSink),
		WithLoggingDestination(logDestination),
	)
	if err != nil {
		t.Fatal(err)
	}

	// load the latest batch values into the online store
	count, err := client.Materialize(ctx, prefix+"driver_hourly_stats", now.Add(-3*time.Hour), now)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, count)

	response, err := client.GetOnlineFeatures(ctx, "driver_activity_v1", []map[string]interface{}{
		{"driver_id": int64(1001), "val_to_add": 1},
		{"driver_id": int64(1002), "val_to_add": 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	// materialization keeps the latest row per driver
	assert.Equal(t, 0.5, response.Vectors[0].Values["conv_rate"])
	assert.Equal(t, int64(300), response.Vectors[0].Values["avg_daily_trips"])
	assert.Equal(t, 1.5, response.Vectors[0].Values["conv_rate_plus_val1"])
	assert.Equal(t, 2.8, response.Vectors[1].Values["conv_rate_plus_val1"])
	assert.Equal(t, domain.FEATURE_STATUS_PRESENT, response.Vectors[0].Statuses["conv_rate"])

	// historical retrieval over the same history derives the same values
	table, err := client.GetHistoricalFeatures(ctx, "driver_activity_v1", &offline.Spine{
		Columns:        []string{"driver_id", "event_timestamp", "val_to_add"},
		TimestampField: "event_timestamp",
		Rows: []offline.Row{
			{"driver_id": int64(1001), "event_timestamp": now, "val_to_add": 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, response.Vectors[0].Values["conv_rate"], table.Rows[0]["conv_rate"])
	assert.Equal(t, response.Vectors[0].Values["conv_rate_plus_val1"], table.Rows[0]["conv_rate_plus_val1"])

	// pushed rows serve immediately through the fresh view
	result, err := client.Push(ctx, "driver_stats_push_source", []offline.Row{
		statsRow(1001, now, 0.95, 310),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ok() {
		t.Fatalf("push failed: %+v", result)
	}

	freshResponse, err := client.GetOnlineFeatures(ctx, "driver_activity_v3", []map[string]interface{}{
		{"driver_id": int64(1001)},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 0.95, freshResponse.Vectors[0].Values["conv_rate"])

	// the push also landed in batch history
	rows, err := historyReader.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 4, len(rows))

	client.Close()

	records := logDestination.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 logged record for the logging service, got %d", len(records))
	}
	assert.Equal(t, "driver_activity_v1", records[0].ServiceName)
	assert.Equal(t, 2, len(records[0].Rows))
}

func TestClientLoggingSubstitutesMissing(t *testing.T) {
	logDestination := logging.NewMemoryDestination()
	client, err := NewFeatureStoreClient(driverDefs("log_"),
		WithLoggingDestination(logDestination))
	if err != nil {
		t.Fatal(err)
	}

	response, err := client.GetOnlineFeatures(context.Background(), "driver_activity_v1", []map[string]interface{}{
		{"driver_id": int64(42424242), "val_to_add": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, nil, response.Vectors[0].Values["conv_rate"])

	client.Close()

	records := logDestination.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 logged record, got %d", len(records))
	}
	assert.Equal(t, -1.0, records[0].Rows[0]["conv_rate"])
	assert.Equal(t, response.RequestID, records[0].RequestID)
}

func TestClientMaterializeWindow(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	reader := offline.NewMemoryReader([]offline.Row{
		statsRow(1001, base.Add(-time.Hour), 0.1, 100), // before window
		statsRow(1002, base, 0.2, 200),                 // start inclusive
		statsRow(1003, base.Add(time.Hour), 0.3, 300),
		statsRow(1004, base.Add(2*time.Hour), 0.4, 400), // end exclusive
	})

	client, err := NewFeatureStoreClient(driverDefs("window_"),
		WithBatchReader("driver_stats_source", reader))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	count, err := client.Materialize(ctx, "window_driver_hourly_stats", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, count)
}

func TestClientMaterializeTieBreak(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// two rows tied on event time; the later-created row is scanned first
	first := statsRow(1001, base, 0.9, 900)
	first["created"] = base.Add(time.Hour)
	second := statsRow(1001, base, 0.1, 100)
	reader := offline.NewMemoryReader([]offline.Row{first, second})

	client, err := NewFeatureStoreClient(driverDefs("tie_"),
		WithBatchReader("driver_stats_source", reader))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	count, err := client.Materialize(ctx, "tie_driver_hourly_stats", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, count)

	response, err := client.GetOnlineFeatures(ctx, "driver_activity_v1", []map[string]interface{}{
		{"driver_id": int64(1001), "val_to_add": 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 0.9, response.Vectors[0].Values["conv_rate"])
}

func TestClientMaterializeWithoutReader(t *testing.T) {
	client, err := NewFeatureStoreClient(driverDefs("noreader_"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.Materialize(context.Background(), "noreader_driver_hourly_stats", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error without a batch reader")
	}
}

func TestClientUnknownNames(t *testing.T) {
	client, err := NewFeatureStoreClient(driverDefs("unknown_"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := client.GetOnlineFeatures(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if _, err := client.GetFeatureView("nope"); err == nil {
		t.Fatal("expected error for unknown view")
	}
	if _, err := client.GetOnDemandFeatureView("nope"); err == nil {
		t.Fatal("expected error for unknown on demand view")
	}
}

func TestClientInvalidDefinitions(t *testing.T) {
	defs := driverDefs("bad_")
	defs.FeatureViews[0].Entities = []string{"rider"}

	if _, err := NewFeatureStoreClient(defs); err == nil {
		t.Fatal("expected load to fail on an unknown entity")
	}
}

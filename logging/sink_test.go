package logging

import (
	"errors"
	"testing"
	"time"

	"fortio.org/assert"
)

func testRecord(requestId string) *Record {
	return &Record{
		ServiceName: "driver_activity_v1",
		RequestID:   requestId,
		LoggedAt:    time.Now(),
		FieldNames:  []string{"conv_rate"},
		Rows:        []map[string]interface{}{{"conv_rate": 0.5}},
	}
}

func TestSinkDelivery(t *testing.T) {
	destination := NewMemoryDestination()
	sink := NewSink(destination, 16)

	sink.Log(testRecord("r1"))
	sink.Log(testRecord("r2"))
	sink.Log(testRecord("r3"))
	sink.Close()

	records := destination.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	assert.Equal(t, "r1", records[0].RequestID)
	assert.Equal(t, "r3", records[2].RequestID)
	assert.Equal(t, uint64(0), sink.DroppedCount())
	assert.Equal(t, uint64(0), sink.WriteFailedCount())
}

type gateDestination struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gateDestination) Write(record *Record) error {
	d.entered <- struct{}{}
	<-d.release
	return nil
}

func TestSinkOverflowRejectsNewest(t *testing.T) {
	destination := &gateDestination{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	sink := NewSink(destination, 1)

	sink.Log(testRecord("r1"))
	// wait until the drain goroutine is parked inside Write, so the
	// buffer slot is free again
	<-destination.entered

	sink.Log(testRecord("r2"))
	sink.Log(testRecord("r3"))

	assert.Equal(t, uint64(1), sink.DroppedCount())

	close(destination.release)
	sink.Close()
}

type failingDestination struct{}

func (d *failingDestination) Write(record *Record) error {
	return errors.New("disk full")
}

func TestSinkCountsWriteFailures(t *testing.T) {
	sink := NewSink(&failingDestination{}, 4)

	sink.Log(testRecord("r1"))
	sink.Log(testRecord("r2"))
	sink.Close()

	assert.Equal(t, uint64(2), sink.WriteFailedCount())
}

func TestSinkLogAfterCloseDrops(t *testing.T) {
	destination := NewMemoryDestination()
	sink := NewSink(destination, 4)
	sink.Close()

	sink.Log(testRecord("r1"))

	assert.Equal(t, uint64(1), sink.DroppedCount())
	if len(destination.Records()) != 0 {
		t.Fatal("record delivered after close")
	}

	// closing twice is a no-op
	sink.Close()
}

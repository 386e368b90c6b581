package dao

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	fields    map[string]interface{}
	eventTime time.Time
}

// OnlineStoreMemoryDao keeps records in process memory. One instance exists
// per table so daos, the ingestor and materialization all see the same
// state, mirroring how the SQL daos share a physical table.
type OnlineStoreMemoryDao struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

var memoryInstances sync.Map

func NewOnlineStoreMemoryDao(config DaoConfig) *OnlineStoreMemoryDao {
	value, _ := memoryInstances.LoadOrStore(config.Table, &OnlineStoreMemoryDao{
		records: make(map[string]*memoryRecord),
	})
	return value.(*OnlineStoreMemoryDao)
}

func (d *OnlineStoreMemoryDao) PutFeatures(ctx context.Context, records []OnlineRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, record := range records {
		stored, ok := d.records[record.Key]
		if ok && stored.eventTime.After(record.EventTime) {
			continue
		}

		fields := make(map[string]interface{}, len(record.Fields))
		for name, value := range record.Fields {
			fields[name] = value
		}
		d.records[record.Key] = &memoryRecord{
			fields:    fields,
			eventTime: record.EventTime,
		}
	}

	return nil
}

func (d *OnlineStoreMemoryDao) GetFeatures(ctx context.Context, keys []string, selectFields []string) (map[string]OnlineRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]OnlineRecord, len(keys))
	for _, key := range keys {
		stored, ok := d.records[key]
		if !ok {
			continue
		}

		fields := make(map[string]interface{}, len(selectFields))
		for _, name := range selectFields {
			if value, ok := stored.fields[name]; ok {
				fields[name] = value
			}
		}
		result[key] = OnlineRecord{
			Key:       key,
			Fields:    fields,
			EventTime: stored.eventTime,
		}
	}

	return result, nil
}

// Package dao implements the online key-value path. Every implementation
// enforces the same write policy: a record is replaced only if the incoming
// event time is greater than or equal to the stored one, so a late-arriving
// batch can never overwrite fresher pushed data. Ties go to whichever write
// physically lands last.
package dao

import (
	"context"
	"time"

	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/utils"
)

// OnlineRecord is the single live record for one entity key of one feature
// view. Key is the serialized join-key tuple.
type OnlineRecord struct {
	Key       string
	Fields    map[string]interface{}
	EventTime time.Time
}

type OnlineStoreDao interface {
	// PutFeatures applies every record through the monotonic event-time
	// check-and-set. Records older than the stored state are skipped, not
	// errors.
	PutFeatures(ctx context.Context, records []OnlineRecord) error

	// GetFeatures returns the live record per requested key, restricted to
	// selectFields. Absent keys are simply absent from the result.
	GetFeatures(ctx context.Context, keys []string, selectFields []string) (map[string]OnlineRecord, error)
}

func NewOnlineStoreDao(config DaoConfig) OnlineStoreDao {
	switch config.DatasourceType {
	case constants.Datasource_Type_Memory:
		return NewOnlineStoreMemoryDao(config)
	case constants.Datasource_Type_Redis:
		return NewOnlineStoreRedisDao(config)
	case constants.Datasource_Type_Mysql:
		return NewOnlineStoreMysqlDao(config)
	case constants.Datasource_Type_TableStore:
		return NewOnlineStoreTableStoreDao(config)
	}

	panic("not found OnlineStoreDao implement")
}

// parseStoredValue converts a value read back from a string-typed backend
// into the Go type declared for the field.
func parseStoredValue(fsType constants.FSType, raw string) interface{} {
	switch fsType {
	case constants.FS_INT32:
		return int32(utils.ToInt64(raw, 0))
	case constants.FS_INT64:
		return utils.ToInt64(raw, 0)
	case constants.FS_FLOAT:
		return float32(utils.ToFloat64(raw, 0))
	case constants.FS_DOUBLE:
		return utils.ToFloat64(raw, 0)
	case constants.FS_BOOLEAN:
		return utils.ToBool(raw, false)
	case constants.FS_TIMESTAMP:
		return utils.ToTime(raw, time.Time{})
	case constants.FS_BYTES:
		return []byte(raw)
	default:
		return raw
	}
}

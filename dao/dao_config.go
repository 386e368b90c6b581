package dao

import (
	"time"

	"github.com/featuremesh/featurestore-go/constants"
)

type DaoConfig struct {
	DatasourceType string

	// Table names the record space for one feature view: a SQL table, a
	// TableStore table, or a redis key prefix segment.
	Table          string
	EventTimeField string
	TTL            time.Duration

	Fields       []string
	FieldTypeMap map[string]constants.FSType

	// redis
	RedisName      string
	RedisKeyPrefix string

	// mysql
	MysqlName string

	// tablestore
	TableStoreName string
}

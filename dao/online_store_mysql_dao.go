package dao

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/datasource/mysqldb"
	"github.com/featuremesh/featurestore-go/utils"
)

// OnlineStoreMysqlDao stores one row per entity key:
// (entity_key VARCHAR PRIMARY KEY, __event_time BIGINT, <one column per field>).
// The monotonic write rule is pushed into the upsert itself so concurrent
// writers need no coordination.
type OnlineStoreMysqlDao struct {
	db           *sql.DB
	table        string
	fields       []string
	fieldTypeMap map[string]constants.FSType
}

func NewOnlineStoreMysqlDao(config DaoConfig) *OnlineStoreMysqlDao {
	dao := OnlineStoreMysqlDao{
		table:        config.Table,
		fields:       config.Fields,
		fieldTypeMap: config.FieldTypeMap,
	}
	instance, err := mysqldb.GetMysql(config.MysqlName)
	if err != nil {
		return nil
	}

	dao.db = instance.DB
	return &dao
}

func (d *OnlineStoreMysqlDao) PutFeatures(ctx context.Context, records []OnlineRecord) error {
	if len(records) == 0 {
		return nil
	}

	cols := make([]string, 0, 2+len(d.fields))
	cols = append(cols, constants.Online_Key_Field, constants.Online_EventTime_Field)
	cols = append(cols, d.fields...)

	ib := sqlbuilder.MySQL.NewInsertBuilder()
	ib.InsertInto(d.table)
	ib.Cols(cols...)
	for _, record := range records {
		values := make([]interface{}, 0, len(cols))
		values = append(values, record.Key, record.EventTime.UnixMilli())
		for _, name := range d.fields {
			values = append(values, toSQLValue(record.Fields[name]))
		}
		ib.Values(values...)
	}

	query, args := ib.Build()

	et := constants.Online_EventTime_Field
	updates := make([]string, 0, len(d.fields)+1)
	for _, name := range d.fields {
		updates = append(updates, fmt.Sprintf("%s = IF(VALUES(%s) >= %s, VALUES(%s), %s)", name, et, et, name, name))
	}
	// event time must be assigned last: MySQL evaluates the assignments in
	// order and the field updates above compare against the stored value
	updates = append(updates, fmt.Sprintf("%s = IF(VALUES(%s) >= %s, VALUES(%s), %s)", et, et, et, et, et))
	query += " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mysql put error, table:%s, err=%w", d.table, err)
	}

	return nil
}

func (d *OnlineStoreMysqlDao) GetFeatures(ctx context.Context, keys []string, selectFields []string) (map[string]OnlineRecord, error) {
	if len(keys) == 0 {
		return map[string]OnlineRecord{}, nil
	}

	cols := make([]string, 0, 2+len(selectFields))
	cols = append(cols, constants.Online_Key_Field, constants.Online_EventTime_Field)
	cols = append(cols, selectFields...)

	keyValues := make([]interface{}, len(keys))
	for i, key := range keys {
		keyValues[i] = key
	}

	sb := sqlbuilder.MySQL.NewSelectBuilder()
	sb.Select(cols...)
	sb.From(d.table)
	sb.Where(sb.In(constants.Online_Key_Field, keyValues...))

	query, args := sb.Build()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql get error, table:%s, err=%w", d.table, err)
	}
	defer rows.Close()

	result := make(map[string]OnlineRecord, len(keys))
	for rows.Next() {
		holders := make([]interface{}, len(cols))
		for i := range holders {
			holders[i] = new(interface{})
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}

		key := utils.ToString(*holders[0].(*interface{}), "")
		record := OnlineRecord{
			Key:       key,
			Fields:    make(map[string]interface{}, len(selectFields)),
			EventTime: time.UnixMilli(utils.ToInt64(sqlRawValue(*holders[1].(*interface{})), 0)),
		}
		for i, name := range selectFields {
			raw := *holders[i+2].(*interface{})
			if raw == nil {
				continue
			}
			record.Fields[name] = fromSQLValue(d.fieldTypeMap[name], raw)
		}
		result[key] = record
	}

	return result, rows.Err()
}

func toSQLValue(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UnixMilli()
	case float32:
		return float64(v)
	case int32:
		return int64(v)
	default:
		return value
	}
}

// sqlRawValue unwraps the []byte the mysql driver returns for text-protocol
// columns.
func sqlRawValue(raw interface{}) interface{} {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}

func fromSQLValue(fsType constants.FSType, raw interface{}) interface{} {
	switch v := sqlRawValue(raw).(type) {
	case string:
		return parseStoredValue(fsType, v)
	case int64:
		switch fsType {
		case constants.FS_INT32:
			return int32(v)
		case constants.FS_FLOAT:
			return float32(v)
		case constants.FS_DOUBLE:
			return float64(v)
		case constants.FS_BOOLEAN:
			return v != 0
		case constants.FS_TIMESTAMP:
			return time.UnixMilli(v)
		default:
			return v
		}
	case float64:
		if fsType == constants.FS_FLOAT {
			return float32(v)
		}
		return v
	default:
		return v
	}
}

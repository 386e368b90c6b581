package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aliyun/aliyun-tablestore-go-sdk/tablestore"

	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/datasource/otsdb"
	"github.com/featuremesh/featurestore-go/utils"
)

type OnlineStoreTableStoreDao struct {
	tablestoreClient *tablestore.TableStoreClient
	table            string
	fieldTypeMap     map[string]constants.FSType
}

func NewOnlineStoreTableStoreDao(config DaoConfig) *OnlineStoreTableStoreDao {
	dao := OnlineStoreTableStoreDao{
		table:        config.Table,
		fieldTypeMap: config.FieldTypeMap,
	}
	client, err := otsdb.GetTableStoreClient(config.TableStoreName)
	if err != nil {
		return nil
	}

	dao.tablestoreClient = client.GetClient()
	return &dao
}

func (d *OnlineStoreTableStoreDao) PutFeatures(ctx context.Context, records []OnlineRecord) error {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		pk := new(tablestore.PrimaryKey)
		pk.AddPrimaryKeyColumn(constants.Online_Key_Field, record.Key)

		change := new(tablestore.PutRowChange)
		change.TableName = d.table
		change.PrimaryKey = pk
		change.AddColumn(constants.Online_EventTime_Field, record.EventTime.UnixMilli())
		for name, value := range record.Fields {
			change.AddColumn(name, toTableStoreValue(value))
		}
		change.SetCondition(tablestore.RowExistenceExpectation_IGNORE)
		// the write goes through only when the stored event time is not
		// fresher; a missing column (new key) passes the filter
		change.SetColumnCondition(tablestore.NewSingleColumnCondition(
			constants.Online_EventTime_Field, tablestore.CT_LESS_EQUAL, record.EventTime.UnixMilli()))

		request := new(tablestore.PutRowRequest)
		request.PutRowChange = change

		if _, err := d.tablestoreClient.PutRow(request); err != nil {
			var otsErr *tablestore.OtsError
			if errors.As(err, &otsErr) && strings.Contains(otsErr.Code, "ConditionCheckFail") {
				continue
			}
			return fmt.Errorf("tablestore put error, key:%s, err=%w", record.Key, err)
		}
	}

	return nil
}

func (d *OnlineStoreTableStoreDao) GetFeatures(ctx context.Context, keys []string, selectFields []string) (map[string]OnlineRecord, error) {
	result := make(map[string]OnlineRecord, len(keys))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	columns := append([]string{constants.Online_EventTime_Field}, selectFields...)

	for i := 0; i < len(keys); i += 100 {
		end := i + 100
		if end > len(keys) {
			end = len(keys)
		}
		ks := keys[i:end]
		wg.Add(1)
		go func(ks []string) {
			defer wg.Done()

			batchGetReq := &tablestore.BatchGetRowRequest{}
			mqCriteria := &tablestore.MultiRowQueryCriteria{}
			for _, key := range ks {
				pkToGet := new(tablestore.PrimaryKey)
				pkToGet.AddPrimaryKeyColumn(constants.Online_Key_Field, key)
				mqCriteria.AddRow(pkToGet)
			}
			mqCriteria.MaxVersion = 1
			mqCriteria.ColumnsToGet = columns
			mqCriteria.TableName = d.table
			batchGetReq.MultiRowQueryCriteria = append(batchGetReq.MultiRowQueryCriteria, mqCriteria)

			batchGetResponse, err := d.tablestoreClient.BatchGetRow(batchGetReq)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			for _, rowResults := range batchGetResponse.TableToRowsResult {
				for _, rowResult := range rowResults {
					if rowResult.Error.Message != "" {
						mu.Lock()
						if firstErr == nil {
							firstErr = errors.New(rowResult.Error.Message)
						}
						mu.Unlock()
						return
					}
					if len(rowResult.PrimaryKey.PrimaryKeys) == 0 {
						continue
					}

					key := utils.ToString(rowResult.PrimaryKey.PrimaryKeys[0].Value, "")
					record := OnlineRecord{
						Key:    key,
						Fields: make(map[string]interface{}, len(selectFields)),
					}
					for _, column := range rowResult.Columns {
						if column.ColumnName == constants.Online_EventTime_Field {
							record.EventTime = time.UnixMilli(utils.ToInt64(column.Value, 0))
							continue
						}
						record.Fields[column.ColumnName] = fromTableStoreValue(d.fieldTypeMap[column.ColumnName], column.Value)
					}

					mu.Lock()
					result[key] = record
					mu.Unlock()
				}
			}
		}(ks)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("tablestore get error, table:%s, err=%w", d.table, firstErr)
	}
	return result, nil
}

// TableStore columns hold int64, float64, string, bool and []byte only.
func toTableStoreValue(value interface{}) interface{} {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UnixMilli()
	default:
		return value
	}
}

func fromTableStoreValue(fsType constants.FSType, raw interface{}) interface{} {
	switch fsType {
	case constants.FS_INT32:
		return int32(utils.ToInt64(raw, 0))
	case constants.FS_FLOAT:
		return float32(utils.ToFloat64(raw, 0))
	case constants.FS_TIMESTAMP:
		return time.UnixMilli(utils.ToInt64(raw, 0))
	case constants.FS_BYTES:
		if s, ok := raw.(string); ok {
			return []byte(s)
		}
		return raw
	default:
		return raw
	}
}

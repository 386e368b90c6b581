package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/dao"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/offline"
	"github.com/featuremesh/featurestore-go/utils"
)

// FeatureView binds a declared view to its online dao and batch source. It
// owns key serialization and the read-time staleness policy; the dao below
// it only knows keys and timestamps.
type FeatureView struct {
	*api.FeatureView
	BatchSource *api.BatchSource

	entities       []*FeatureEntity
	joinKeys       []string
	fieldTypeMap   map[string]constants.FSType
	featureViewDao dao.OnlineStoreDao
}

func NewFeatureView(view *api.FeatureView, entities []*FeatureEntity, source *api.BatchSource, featureViewDao dao.OnlineStoreDao) *FeatureView {
	featureView := &FeatureView{
		FeatureView:    view,
		BatchSource:    source,
		entities:       entities,
		featureViewDao: featureViewDao,
		fieldTypeMap:   make(map[string]constants.FSType, len(view.Fields)),
	}

	for _, entity := range entities {
		featureView.joinKeys = append(featureView.joinKeys, entity.JoinKeys...)
	}
	for _, field := range view.Fields {
		featureView.fieldTypeMap[field.Name] = field.Type
	}

	return featureView
}

func (f *FeatureView) JoinKeys() []string {
	return f.joinKeys
}

func (f *FeatureView) FieldType(name string) constants.FSType {
	return f.fieldTypeMap[name]
}

func (f *FeatureView) Dao() dao.OnlineStoreDao {
	return f.featureViewDao
}

// KeyString serializes the view's entity key tuple out of a row.
func (f *FeatureView) KeyString(row map[string]interface{}) (string, error) {
	values := make([]interface{}, len(f.joinKeys))
	for i, joinKey := range f.joinKeys {
		value, ok := row[joinKey]
		if !ok || value == nil {
			return "", &fserror.MissingInputError{Field: joinKey, View: f.Name}
		}
		values[i] = value
	}
	return utils.JoinKeyString(values), nil
}

// GetOnlineFeatures reads the live record per key, restricted to the given
// features. "*" selects every declared field.
func (f *FeatureView) GetOnlineFeatures(ctx context.Context, keys []string, features []string) (map[string]dao.OnlineRecord, error) {
	if f.featureViewDao == nil {
		return nil, fmt.Errorf("feature view %s is not served online", f.Name)
	}

	var selectFields []string
	seenFields := make(map[string]bool)
	for _, featureName := range features {
		if featureName == "*" {
			for _, field := range f.Fields {
				if !seenFields[field.Name] {
					selectFields = append(selectFields, field.Name)
					seenFields[field.Name] = true
				}
			}
		} else {
			if seenFields[featureName] {
				continue
			}
			if !f.HasField(featureName) {
				return nil, fmt.Errorf("feature name :%s not found in the featureview fields", featureName)
			}
			selectFields = append(selectFields, featureName)
			seenFields[featureName] = true
		}
	}

	return f.featureViewDao.GetFeatures(ctx, keys, selectFields)
}

// WriteOnline converts source rows into online records and applies them
// through the dao's monotonic write policy. Rows must carry every join key
// and the batch source's event timestamp column.
func (f *FeatureView) WriteOnline(ctx context.Context, rows []offline.Row) error {
	if f.featureViewDao == nil {
		return fmt.Errorf("feature view %s is not served online", f.Name)
	}

	records := make([]dao.OnlineRecord, 0, len(rows))
	for _, row := range rows {
		key, err := f.KeyString(row)
		if err != nil {
			return err
		}

		tsValue, ok := row[f.BatchSource.TimestampField]
		if !ok || tsValue == nil {
			return &fserror.MissingInputError{Field: f.BatchSource.TimestampField, View: f.Name}
		}
		eventTime, err := utils.ParseTime(tsValue)
		if err != nil {
			return fserror.Validationf("view %q: bad %s value: %v", f.Name, f.BatchSource.TimestampField, err)
		}

		fields := make(map[string]interface{}, len(f.Fields))
		for _, field := range f.Fields {
			if value, ok := row[field.Name]; ok {
				fields[field.Name] = value
			}
		}

		records = append(records, dao.OnlineRecord{
			Key:       key,
			Fields:    fields,
			EventTime: eventTime,
		})
	}

	return f.featureViewDao.PutFeatures(ctx, records)
}

// IsStale reports whether a record is past the view's TTL at the given
// read time. Staleness is advisory; values are returned either way.
func (f *FeatureView) IsStale(record dao.OnlineRecord, now time.Time) bool {
	if f.TTL <= 0 {
		return false
	}
	return now.Sub(record.EventTime) > f.TTL
}

// ViewJoin describes this view's part in an offline retrieval.
func (f *FeatureView) ViewJoin(fields []string, rename map[string]string) offline.ViewJoin {
	return offline.ViewJoin{
		ViewName:       f.Name,
		SourceName:     f.BatchSourceName,
		JoinKeys:       f.joinKeys,
		TimestampField: f.BatchSource.TimestampField,
		CreatedField:   f.BatchSource.CreatedTimestampField,
		TTL:            f.TTL,
		Fields:         fields,
		Rename:         rename,
	}
}

package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/datasource/redisdb"
	"github.com/featuremesh/featurestore-go/utils"
)

// putScript is the per-key check-and-set: the record is written only when no
// fresher event time is stored under the key. Running it as a script keeps
// the compare and the write atomic without any client-side locking.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

type OnlineStoreRedisDao struct {
	client       *redis.Client
	keyPrefix    string
	fieldTypeMap map[string]constants.FSType
}

func NewOnlineStoreRedisDao(config DaoConfig) *OnlineStoreRedisDao {
	dao := OnlineStoreRedisDao{
		keyPrefix:    config.RedisKeyPrefix + config.Table,
		fieldTypeMap: config.FieldTypeMap,
	}
	client, err := redisdb.GetRedis(config.RedisName)
	if err != nil {
		return nil
	}

	dao.client = client.GetClient()
	return &dao
}

func (d *OnlineStoreRedisDao) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", d.keyPrefix, key)
}

func (d *OnlineStoreRedisDao) PutFeatures(ctx context.Context, records []OnlineRecord) error {
	for _, record := range records {
		args := make([]interface{}, 0, 2+2*len(record.Fields))
		args = append(args, constants.Online_EventTime_Field, record.EventTime.UnixMilli())
		for name, value := range record.Fields {
			args = append(args, name, utils.ToString(value, ""))
		}

		if err := putScript.Run(ctx, d.client, []string{d.redisKey(record.Key)}, args...).Err(); err != nil {
			return fmt.Errorf("redis put error, key:%s, err=%w", record.Key, err)
		}
	}

	return nil
}

func (d *OnlineStoreRedisDao) GetFeatures(ctx context.Context, keys []string, selectFields []string) (map[string]OnlineRecord, error) {
	pipe := d.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, d.redisKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis get error, err=%w", err)
	}

	result := make(map[string]OnlineRecord, len(keys))
	for i, key := range keys {
		values, err := cmds[i].Result()
		if err != nil || len(values) == 0 {
			continue
		}

		record := OnlineRecord{
			Key:       key,
			Fields:    make(map[string]interface{}, len(selectFields)),
			EventTime: utils.ToTime(values[constants.Online_EventTime_Field], time.Time{}),
		}
		for _, name := range selectFields {
			if raw, ok := values[name]; ok {
				record.Fields[name] = parseStoredValue(d.fieldTypeMap[name], raw)
			}
		}
		result[key] = record
	}

	return result, nil
}

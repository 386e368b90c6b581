package redisdb

import (
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	client *redis.Client
	Name   string
}

var redisInstances sync.Map

func RegisterRedis(name string, options *redis.Options) {
	if _, ok := redisInstances.Load(name); ok {
		return
	}

	instance := &Redis{
		Name:   name,
		client: redis.NewClient(options),
	}
	redisInstances.Store(name, instance)
}

func GetRedis(name string) (*Redis, error) {
	value, ok := redisInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("Redis not found, name:%s", name)
	}

	instance, ok := value.(*Redis)
	if !ok {
		return nil, fmt.Errorf("Redis not found, name:%s", name)
	}

	return instance, nil
}

func (r *Redis) GetClient() *redis.Client {
	return r.client
}

package otsdb

import (
	"fmt"
	"sync"

	"github.com/aliyun/aliyun-tablestore-go-sdk/tablestore"
)

type OTSClient struct {
	client *tablestore.TableStoreClient
	Name   string
}

var otsInstances sync.Map

func RegisterTableStoreClient(name string, client *tablestore.TableStoreClient) {
	if _, ok := otsInstances.Load(name); ok {
		return
	}

	otsInstances.Store(name, &OTSClient{Name: name, client: client})
}

func GetTableStoreClient(name string) (*OTSClient, error) {
	value, ok := otsInstances.Load(name)
	if !ok {
		return nil, fmt.Errorf("TableStoreClient not found, name:%s", name)
	}

	instance, ok := value.(*OTSClient)
	if !ok {
		return nil, fmt.Errorf("TableStoreClient not found, name:%s", name)
	}

	return instance, nil
}

func (o *OTSClient) GetClient() *tablestore.TableStoreClient {
	return o.client
}

package featurestore

import (
	"context"
	"fmt"
	"time"

	"github.com/featuremesh/featurestore-go/api"
	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/dao"
	"github.com/featuremesh/featurestore-go/domain"
	"github.com/featuremesh/featurestore-go/fserror"
	"github.com/featuremesh/featurestore-go/ingest"
	"github.com/featuremesh/featurestore-go/logging"
	"github.com/featuremesh/featurestore-go/offline"
	"github.com/featuremesh/featurestore-go/registry"
	"github.com/featuremesh/featurestore-go/utils"
)

type ClientOption func(c *FeatureStoreClient)

func WithLogger(l Logger) ClientOption {
	return func(e *FeatureStoreClient) {
		e.Logger = l
	}
}

func WithErrorLogger(l Logger) ClientOption {
	return func(e *FeatureStoreClient) {
		e.ErrorLogger = l
	}
}

// WithOnlineDatasource selects the online store backend. datasourceName is
// the name the backend client was registered under; the memory backend
// ignores it.
func WithOnlineDatasource(datasourceType, datasourceName string) ClientOption {
	return func(e *FeatureStoreClient) {
		e.datasourceType = datasourceType
		e.datasourceName = datasourceName
	}
}

func WithRedisKeyPrefix(prefix string) ClientOption {
	return func(e *FeatureStoreClient) {
		e.redisKeyPrefix = prefix
	}
}

// WithBatchReader attaches an offline reader for one batch source.
func WithBatchReader(sourceName string, reader offline.BatchReader) ClientOption {
	return func(e *FeatureStoreClient) {
		e.readers[sourceName] = reader
	}
}

// WithBatchSink attaches an offline sink for one batch source. Pushed rows
// for that source are appended to it.
func WithBatchSink(sourceName string, sink offline.BatchSink) ClientOption {
	return func(e *FeatureStoreClient) {
		e.batchSinks[sourceName] = sink
	}
}

// WithPartialResults lets online serving return per-view errors instead of
// failing the whole request when one view's fetch fails.
func WithPartialResults(partial bool) ClientOption {
	return func(e *FeatureStoreClient) {
		e.partialResults = partial
	}
}

func WithFetchTimeout(timeout time.Duration) ClientOption {
	return func(e *FeatureStoreClient) {
		e.fetchTimeout = timeout
	}
}

// WithLoggingDestination overrides the file destination every logging
// feature service would otherwise write to.
func WithLoggingDestination(destination logging.Destination) ClientOption {
	return func(e *FeatureStoreClient) {
		e.loggingDestination = destination
	}
}

type FeatureStoreClient struct {
	registry *registry.Registry

	datasourceType string
	datasourceName string
	redisKeyPrefix string

	readers    map[string]offline.BatchReader
	batchSinks map[string]offline.BatchSink

	loggingDestination logging.Destination
	loggingSinks       []*logging.Sink

	partialResults bool
	fetchTimeout   time.Duration

	featureViewMap    map[string]*domain.FeatureView
	onDemandViewMap   map[string]*domain.OnDemandFeatureView
	featureServiceMap map[string]*domain.FeatureService

	joinEngine *offline.JoinEngine
	ingestor   *ingest.Ingestor

	// Logger specifies a logger used to report internal changes within the client
	Logger Logger

	// ErrorLogger is the logger to report errors
	ErrorLogger Logger
}

func NewFeatureStoreClient(defs *api.Definitions, opts ...ClientOption) (*FeatureStoreClient, error) {
	client := FeatureStoreClient{
		datasourceType:    constants.Datasource_Type_Memory,
		fetchTimeout:      500 * time.Millisecond,
		readers:           make(map[string]offline.BatchReader),
		batchSinks:        make(map[string]offline.BatchSink),
		featureViewMap:    make(map[string]*domain.FeatureView),
		onDemandViewMap:   make(map[string]*domain.OnDemandFeatureView),
		featureServiceMap: make(map[string]*domain.FeatureService),
	}

	for _, opt := range opts {
		opt(&client)
	}

	reg, err := registry.New(defs)
	if err != nil {
		return nil, err
	}
	client.registry = reg

	if len(client.readers) > 0 {
		client.joinEngine = offline.NewJoinEngine(client.readers)
	}

	entityMap := make(map[string]*domain.FeatureEntity, len(defs.Entities))
	for _, entity := range defs.Entities {
		entityMap[entity.Name] = domain.NewFeatureEntity(entity)
	}

	for _, view := range defs.FeatureViews {
		source := reg.GetBatchSource(view.BatchSourceName)

		entities := make([]*domain.FeatureEntity, len(view.Entities))
		for i, entityName := range view.Entities {
			entities[i] = entityMap[entityName]
		}

		var viewDao dao.OnlineStoreDao
		if view.Online {
			fieldTypeMap := make(map[string]constants.FSType, len(view.Fields))
			for _, field := range view.Fields {
				fieldTypeMap[field.Name] = field.Type
			}
			daoConfig := dao.DaoConfig{
				DatasourceType: client.datasourceType,
				Table:          view.Name + "_online",
				EventTimeField: constants.Online_EventTime_Field,
				TTL:            view.TTL,
				Fields:         view.FieldNames(),
				FieldTypeMap:   fieldTypeMap,
				RedisName:      client.datasourceName,
				RedisKeyPrefix: client.redisKeyPrefix,
				MysqlName:      client.datasourceName,
				TableStoreName: client.datasourceName,
			}
			viewDao = dao.NewOnlineStoreDao(daoConfig)
		}

		client.featureViewMap[view.Name] = domain.NewFeatureView(view, entities, source, viewDao)
	}

	for _, view := range defs.OnDemandFeatureViews {
		client.onDemandViewMap[view.Name] = domain.NewOnDemandFeatureView(view, reg.Transform(view.Name))
	}

	client.ingestor = ingest.NewIngestor(reg, client.featureViewMap, client.batchSinks)

	for _, service := range defs.FeatureServices {
		var sink *logging.Sink
		if service.Logging != nil {
			destination := client.loggingDestination
			if destination == nil && service.Logging.Path != "" {
				destination = logging.NewFileDestination(service.Logging.Path)
			}
			if destination != nil {
				sink = logging.NewSink(destination, service.Logging.BufferSize)
				client.loggingSinks = append(client.loggingSinks, sink)
			}
		}

		featureService, err := domain.NewFeatureService(service, reg, client.featureViewMap, client.onDemandViewMap,
			domain.FeatureServiceConfig{
				JoinEngine:     client.joinEngine,
				Sink:           sink,
				PartialResults: client.partialResults,
				FetchTimeout:   client.fetchTimeout,
			})
		if err != nil {
			return nil, err
		}
		client.featureServiceMap[service.Name] = featureService
	}

	return &client, nil
}

func (c *FeatureStoreClient) Registry() *registry.Registry {
	return c.registry
}

func (c *FeatureStoreClient) GetFeatureView(name string) (*domain.FeatureView, error) {
	view, ok := c.featureViewMap[name]
	if ok {
		return view, nil
	}

	return nil, fmt.Errorf("not found feature view, name:%s", name)
}

func (c *FeatureStoreClient) GetOnDemandFeatureView(name string) (*domain.OnDemandFeatureView, error) {
	view, ok := c.onDemandViewMap[name]
	if ok {
		return view, nil
	}

	return nil, fmt.Errorf("not found on demand feature view, name:%s", name)
}

func (c *FeatureStoreClient) GetFeatureService(name string) (*domain.FeatureService, error) {
	service, ok := c.featureServiceMap[name]
	if ok {
		return service, nil
	}

	return nil, fmt.Errorf("not found feature service, name:%s", name)
}

// GetOnlineFeatures serves the named feature service for a batch of entity
// rows.
func (c *FeatureStoreClient) GetOnlineFeatures(ctx context.Context, serviceName string, entityRows []map[string]interface{}) (*domain.ServingResponse, error) {
	service, err := c.GetFeatureService(serviceName)
	if err != nil {
		return nil, err
	}

	response, err := service.GetOnlineFeatures(ctx, entityRows)
	if err != nil {
		c.logError(fmt.Errorf("get online features error, service=%s, err=%v", serviceName, err))
		return nil, err
	}
	return response, nil
}

// GetHistoricalFeatures runs the named service's point-in-time join against
// a training spine.
func (c *FeatureStoreClient) GetHistoricalFeatures(ctx context.Context, serviceName string, spine *offline.Spine) (*offline.Table, error) {
	service, err := c.GetFeatureService(serviceName)
	if err != nil {
		return nil, err
	}

	table, err := service.GetHistoricalFeatures(ctx, spine)
	if err != nil {
		c.logError(fmt.Errorf("get historical features error, service=%s, err=%v", serviceName, err))
		return nil, err
	}
	return table, nil
}

// Push ingests one batch of rows for a push source.
func (c *FeatureStoreClient) Push(ctx context.Context, sourceName string, rows []offline.Row) (*ingest.PushResult, error) {
	result, err := c.ingestor.Push(ctx, sourceName, rows)
	if err != nil {
		c.logError(fmt.Errorf("push error, source=%s, err=%v", sourceName, err))
		return nil, err
	}
	for viewName, viewErr := range result.OnlineErrors {
		c.logError(fmt.Errorf("push online write error, view=%s, err=%v", viewName, viewErr))
	}
	if result.OfflineError != nil {
		c.logError(fmt.Errorf("push sink error, source=%s, err=%v", sourceName, result.OfflineError))
	}
	return result, nil
}

// Materialize copies a view's batch rows with event time in [start, end)
// into its online store, keeping only the latest row per entity key: max
// event time, ties broken by max created time, matching the offline join's
// selection. The monotonic write policy makes re-running a window safe.
// Returns the number of records written.
func (c *FeatureStoreClient) Materialize(ctx context.Context, viewName string, start, end time.Time) (int, error) {
	view, err := c.GetFeatureView(viewName)
	if err != nil {
		return 0, err
	}

	reader, ok := c.readers[view.BatchSourceName]
	if !ok {
		return 0, fmt.Errorf("no batch reader configured for source %s", view.BatchSourceName)
	}

	rows, err := reader.Read(ctx)
	if err != nil {
		return 0, err
	}

	createdField := view.BatchSource.CreatedTimestampField
	latest := make(map[string]offline.Row)
	latestEvent := make(map[string]time.Time)
	latestCreated := make(map[string]time.Time)
	for _, row := range rows {
		eventTime, err := utils.ParseTime(row[view.BatchSource.TimestampField])
		if err != nil {
			return 0, fserror.Validationf("view %q: bad %s value: %v", viewName, view.BatchSource.TimestampField, err)
		}
		if eventTime.Before(start) || !eventTime.Before(end) {
			continue
		}
		key, err := view.KeyString(row)
		if err != nil {
			return 0, err
		}
		created := time.Time{}
		if createdField != "" && row[createdField] != nil {
			created, err = utils.ParseTime(row[createdField])
			if err != nil {
				return 0, fserror.Validationf("view %q: bad %s value: %v", viewName, createdField, err)
			}
		}
		if previous, ok := latestEvent[key]; ok {
			if eventTime.Before(previous) {
				continue
			}
			if eventTime.Equal(previous) && created.Before(latestCreated[key]) {
				continue
			}
		}
		latest[key] = row
		latestEvent[key] = eventTime
		latestCreated[key] = created
	}

	if len(latest) == 0 {
		return 0, nil
	}

	batch := make([]offline.Row, 0, len(latest))
	for _, row := range latest {
		batch = append(batch, row)
	}
	if err := view.WriteOnline(ctx, batch); err != nil {
		c.logError(fmt.Errorf("materialize error, view=%s, err=%v", viewName, err))
		return 0, err
	}

	return len(batch), nil
}

// Close flushes and stops the logging sinks. The client is not usable
// afterwards.
func (c *FeatureStoreClient) Close() {
	for _, sink := range c.loggingSinks {
		sink.Close()
	}
}

func (c *FeatureStoreClient) logError(err error) {
	if c.ErrorLogger != nil {
		c.ErrorLogger.Printf(err.Error())
		return
	}

	if c.Logger != nil {
		c.Logger.Printf(err.Error())
	}
}

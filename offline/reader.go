package offline

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/featuremesh/featurestore-go/constants"
	"github.com/featuremesh/featurestore-go/datasource/postgres"
	"github.com/featuremesh/featurestore-go/utils"
)

// BatchReader exposes a batch source's historical rows. The engine never
// cares about the underlying storage format; readers for columnar files or
// warehouses plug in behind this interface.
type BatchReader interface {
	Read(ctx context.Context) ([]Row, error)
}

// MemoryReader serves rows from memory. It doubles as the reader view of
// MemorySink, so pushed rows become visible to offline retrieval.
type MemoryReader struct {
	mu   sync.RWMutex
	rows []Row
}

func NewMemoryReader(rows []Row) *MemoryReader {
	reader := &MemoryReader{}
	reader.Add(rows)
	return reader
}

func (r *MemoryReader) Add(rows []Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.rows = append(r.rows, row.Clone())
	}
}

func (r *MemoryReader) Read(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]Row, len(r.rows))
	for i, row := range r.rows {
		rows[i] = row.Clone()
	}
	return rows, nil
}

// PostgresReader reads a batch source table through a registered Postgres
// datasource.
type PostgresReader struct {
	db           *sql.DB
	table        string
	columns      []string
	fieldTypeMap map[string]constants.FSType
	timeColumns  map[string]bool
}

func NewPostgresReader(datasourceName, table string, columns []string, fieldTypeMap map[string]constants.FSType, timeColumns []string) (*PostgresReader, error) {
	instance, err := postgres.GetPostgres(datasourceName)
	if err != nil {
		return nil, err
	}

	times := make(map[string]bool, len(timeColumns))
	for _, name := range timeColumns {
		times[name] = true
	}

	return &PostgresReader{
		db:           instance.DB,
		table:        table,
		columns:      columns,
		fieldTypeMap: fieldTypeMap,
		timeColumns:  times,
	}, nil
}

func (r *PostgresReader) Read(ctx context.Context) ([]Row, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(r.columns...)
	sb.From(r.table)

	query, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres read error, table:%s, err=%w", r.table, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		holders := make([]interface{}, len(r.columns))
		for i := range holders {
			holders[i] = new(interface{})
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}

		row := make(Row, len(r.columns))
		for i, name := range r.columns {
			raw := *holders[i].(*interface{})
			if raw == nil {
				row[name] = nil
				continue
			}
			if r.timeColumns[name] {
				row[name] = utils.ToTime(raw, time.Time{})
				continue
			}
			if fsType, ok := r.fieldTypeMap[name]; ok {
				row[name] = fromPostgresValue(fsType, raw)
			} else {
				row[name] = raw
			}
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

func fromPostgresValue(fsType constants.FSType, raw interface{}) interface{} {
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
		if b, ok := raw.([]byte); ok {
			return b
		}
		return []byte(utils.ToString(raw, ""))
	default:
		if b, ok := raw.([]byte); ok {
			return string(b)
		}
		return raw
	}
}

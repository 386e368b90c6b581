package constants

type FSType int

const (
	FS_INT32 FSType = iota + 1 // int32
	FS_INT64                   // int64
	FS_FLOAT
	FS_DOUBLE
	FS_STRING
	FS_BOOLEAN
	FS_TIMESTAMP
	FS_BYTES
)

func (t FSType) String() string {
	switch t {
	case FS_INT32:
		return "int32"
	case FS_INT64:
		return "int64"
	case FS_FLOAT:
		return "float"
	case FS_DOUBLE:
		return "double"
	case FS_STRING:
		return "string"
	case FS_BOOLEAN:
		return "boolean"
	case FS_TIMESTAMP:
		return "timestamp"
	case FS_BYTES:
		return "bytes"
	default:
		return "unknown"
	}
}

const (
	Datasource_Type_Memory     = "memory"
	Datasource_Type_Redis      = "redis"
	Datasource_Type_Mysql      = "mysql"
	Datasource_Type_TableStore = "tablestore"
	Datasource_Type_Postgres   = "postgres"
)

// Reserved column names used by the online store daos. Feature views may not
// declare fields with these names.
const (
	Online_Key_Field       = "entity_key"
	Online_EventTime_Field = "__event_time"
)

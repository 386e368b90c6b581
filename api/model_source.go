package api

// BatchSource identifies where a feature view's historical rows come from.
// Table is the name the configured batch reader resolves; the engine itself
// never interprets it.
type BatchSource struct {
	Name                  string `json:"name"`
	Table                 string `json:"table,omitempty"`
	TimestampField        string `json:"timestamp_field"`
	CreatedTimestampField string `json:"created_timestamp_field,omitempty"`
}

// PushSource is an ingestion channel delivering fresh rows directly to the
// online store. When BatchSourceName is set, pushed rows are also appended
// to that source's durable sink for later offline use.
type PushSource struct {
	Name            string `json:"name"`
	BatchSourceName string `json:"batch_source_name,omitempty"`
}

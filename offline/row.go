// Package offline implements the point-in-time correct join between a label
// spine and feature view history, plus the batch source boundary the engine
// reads from and the durable sinks push ingestion appends to.
package offline

// Row is one tabular record with named columns.
type Row map[string]interface{}

func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for name, value := range r {
		clone[name] = value
	}
	return clone
}

// Spine is the label/event table driving a historical retrieval: one row per
// (entity key tuple, event timestamp).
type Spine struct {
	Columns        []string
	TimestampField string
	Rows           []Row
}

// Table is a wide result table. Column order is significant.
type Table struct {
	Columns []string
	Rows    []Row
}

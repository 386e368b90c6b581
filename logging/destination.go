package logging

import (
	"encoding/json"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileDestination appends records as JSON lines to a size-rotated file.
type FileDestination struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	enc *json.Encoder
}

func NewFileDestination(path string) *FileDestination {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
	}
	return &FileDestination{
		out: out,
		enc: json.NewEncoder(out),
	}
}

func (d *FileDestination) Write(record *Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enc.Encode(record)
}

func (d *FileDestination) Close() error {
	return d.out.Close()
}

// MemoryDestination collects records in memory, for tests and local runs.
type MemoryDestination struct {
	mu      sync.Mutex
	records []*Record
}

func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{}
}

func (d *MemoryDestination) Write(record *Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
	return nil
}

func (d *MemoryDestination) Records() []*Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Record{}, d.records...)
}

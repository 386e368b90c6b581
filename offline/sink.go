package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/featuremesh/featurestore-go/utils"
)

// BatchSink is the durable append destination a push source may be bound
// to. Appended rows become part of the batch source's history.
type BatchSink interface {
	Append(ctx context.Context, rows []Row) error
}

// MemorySink appends into a MemoryReader and dedups on the configured key
// columns plus event timestamp, so re-pushing an identical row leaves no
// duplicate entry.
type MemorySink struct {
	mu        sync.Mutex
	reader    *MemoryReader
	dedupCols []string
	seen      map[string]struct{}
}

func NewMemorySink(reader *MemoryReader, dedupCols []string) *MemorySink {
	return &MemorySink{
		reader:    reader,
		dedupCols: dedupCols,
		seen:      make(map[string]struct{}),
	}
}

func (s *MemorySink) Append(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []Row
	for _, row := range rows {
		key := ""
		for _, col := range s.dedupCols {
			key += utils.ToString(row[col], "") + "\x00"
		}
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		fresh = append(fresh, row)
	}

	s.reader.Add(fresh)
	return nil
}

// FileSink appends rows as JSON lines. It does not dedup; compaction of the
// durable history belongs to the offline store, not this engine.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open batch sink file error, err=%w", err)
	}

	return &FileSink{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

func (s *FileSink) Append(ctx context.Context, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if err := s.enc.Encode(row); err != nil {
			return fmt.Errorf("append batch sink row error, err=%w", err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.file.Close()
}

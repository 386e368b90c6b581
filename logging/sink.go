// Package logging records served feature vectors for offline audit and
// training-skew analysis. Delivery is best effort and never adds serving
// latency beyond a non-blocking enqueue; what it must never do is grow
// without bound or lose records silently.
package logging

import (
	"sync"
	"sync/atomic"
	"time"
)

// Record is one served feature vector batch.
type Record struct {
	ServiceName string                   `json:"service_name"`
	RequestID   string                   `json:"request_id"`
	LoggedAt    time.Time                `json:"logged_at"`
	FieldNames  []string                 `json:"field_names"`
	Rows        []map[string]interface{} `json:"rows"`
	Statuses    []map[string]string      `json:"statuses,omitempty"`
}

// Destination is the physical append-only target: file, stream or table.
type Destination interface {
	Write(record *Record) error
}

const defaultBufferSize = 1024

// Sink buffers records on a bounded channel drained by one background
// goroutine. Overflow policy is reject-newest: a full buffer drops the new
// record and counts it.
type Sink struct {
	destination Destination
	records     chan *Record

	dropped     uint64
	writeFailed uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewSink(destination Destination, bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	s := &Sink{
		destination: destination,
		records:     make(chan *Record, bufferSize),
	}

	s.wg.Add(1)
	go s.drain()

	return s
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for record := range s.records {
		if err := s.destination.Write(record); err != nil {
			atomic.AddUint64(&s.writeFailed, 1)
		}
	}
}

// Log enqueues the record and returns immediately. A full buffer or a
// closed sink drops the record.
func (s *Sink) Log(record *Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		atomic.AddUint64(&s.dropped, 1)
		return
	}

	select {
	case s.records <- record:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// DroppedCount reports how many records were rejected on enqueue.
func (s *Sink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// WriteFailedCount reports how many dequeued records the destination
// refused.
func (s *Sink) WriteFailedCount() uint64 {
	return atomic.LoadUint64(&s.writeFailed)
}

// Close stops accepting records and blocks until the buffer is drained.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	s.wg.Wait()
}

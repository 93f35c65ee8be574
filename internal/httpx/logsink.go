package httpx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one request attempt's observability trail. Records are appended
// to a Sink as newline-delimited JSON; sink failures are swallowed so that
// logging can never break a trading request.
type Record struct {
	ClientType    string            `json:"clientType"`
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	RequestParams map[string]string `json:"requestParams,omitempty"`
	StatusCode    int               `json:"statusCode"`
	ResponseSize  int               `json:"responseSize"`
	DurationMs    int64             `json:"durationMs"`
	Success       bool              `json:"success"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	RetryCount    int               `json:"retryCount"`
	TraceID       string            `json:"traceId"`
	Source        string            `json:"source,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Sink receives request records. Implementations must be safe for
// concurrent appends.
type Sink interface {
	Append(rec Record)
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Append(Record) {}

// ————————————————————————————————————————————————————————————————————————
// Rotating file sink
// ————————————————————————————————————————————————————————————————————————

const (
	maxLogFileSize = 10 << 20 // rotate at 10 MB
	logFileName    = "api-requests.log"
)

// FileSink appends newline-delimited JSON records to logs/api-requests.log,
// rotating the file to api-requests.log.1 when it exceeds 10 MB. One backup
// is kept; older data is overwritten.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	size int64
}

// NewFileSink opens (or creates) the log file under dir.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return &FileSink{path: path, file: f, size: size}, nil
}

// Append writes one record. Errors are dropped by contract.
func (s *FileSink) Append(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	if s.size+int64(len(data)) > maxLogFileSize {
		s.rotateLocked()
	}
	n, err := s.file.Write(data)
	if err == nil {
		s.size += int64(n)
	}
}

func (s *FileSink) rotateLocked() {
	s.file.Close()
	os.Rename(s.path, s.path+".1")
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.file = nil
		return
	}
	s.file = f
	s.size = 0
}

// Close releases the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ————————————————————————————————————————————————————————————————————————
// In-memory ring sink
// ————————————————————————————————————————————————————————————————————————

const memorySinkCap = 1000

// MemorySink keeps the most recent records in a ring for the control
// surface to expose. Oldest entries are evicted past the cap.
type MemorySink struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemorySink creates an empty ring.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append adds a record, evicting the oldest past capacity.
func (s *MemorySink) Append(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	if len(s.recs) > memorySinkCap {
		s.recs = s.recs[len(s.recs)-memorySinkCap:]
	}
}

// Recent returns up to n of the most recent records, newest last.
func (s *MemorySink) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.recs) {
		n = len(s.recs)
	}
	out := make([]Record, n)
	copy(out, s.recs[len(s.recs)-n:])
	return out
}

// TeeSink fans records out to multiple sinks.
type TeeSink []Sink

func (t TeeSink) Append(rec Record) {
	for _, s := range t {
		s.Append(rec)
	}
}

package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Writer outputs JSONL records.
//
// Implementations must be safe for concurrent use. Each Write* method
// emits a complete record as a single line of JSON followed by a newline.
type Writer interface {
	WriteRecord(ctx context.Context, rec *jobstore.Record) error
	WriteStatus(ctx context.Context, st *StatusRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	WriteFetch(ctx context.Context, f *FetchRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error

	// Close marks the writer closed. The underlying io.Writer is left open.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// Writes are serialized so lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	session string
	backend string
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter creates a JSONL writer stamping every line with session
// and backend.
func NewJSONLWriter(w io.Writer, session, backend string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		session: session,
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WriteRecord(ctx context.Context, rec *jobstore.Record) error {
	return jw.writeRecord(ctx, TypeRecord, rec)
}

func (jw *JSONLWriter) WriteStatus(ctx context.Context, st *StatusRecord) error {
	return jw.writeRecord(ctx, TypeStatus, st)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WriteFetch(ctx context.Context, f *FetchRecord) error {
	return jw.writeRecord(ctx, TypeFetch, f)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete line while holding the
// mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recordBytes, err := json.Marshal(Record{
		Type:    recordType,
		TS:      jw.now(),
		Session: jw.session,
		Backend: jw.backend,
		Data:    dataBytes,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll loops over short writes so a line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)

package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/status"
)

func decodeLines(t *testing.T, raw string) []Record {
	t.Helper()
	var out []Record
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestJSONLWriter_WriteRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "grid")

	rec := &jobstore.Record{
		ID:        7,
		JobIDs:    []string{"gsiftp://ce/1", "gsiftp://ce/2"},
		Runcard:   "ZJ.run",
		RunFolder: "r1",
		JobType:   jobstore.JobTypeProduction,
		Status:    jobstore.StatusRunning,
		Seed:      100,
		NoRuns:    2,
		Active:    true,
	}
	require.NoError(t, w.WriteRecord(context.Background(), rec))

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, TypeRecord, lines[0].Type)
	assert.Equal(t, "sess-1", lines[0].Session)
	assert.Equal(t, "grid", lines[0].Backend)
	assert.False(t, lines[0].TS.IsZero())

	var got jobstore.Record
	require.NoError(t, json.Unmarshal(lines[0].Data, &got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, rec.JobIDs, got.JobIDs)
	assert.Equal(t, 100, got.Seed)
}

func TestWriteDashboard(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "local")

	rows := []status.RecordResult{
		{
			Record: jobstore.Record{ID: 1, Runcard: "ZJ.run", RunFolder: "r1", JobType: jobstore.JobTypeWarmup},
			Status: jobstore.StatusDone,
			Breakdown: scheduler.Breakdown{
				Counts: jobstore.Counts{Done: 1},
				Total:  1,
			},
		},
		{
			Record: jobstore.Record{ID: 2, Runcard: "ZJ.run", RunFolder: "r2", JobType: jobstore.JobTypeProduction},
			Status: jobstore.StatusRunning,
			Breakdown: scheduler.Breakdown{
				Counts: jobstore.Counts{Running: 2, Waiting: 1},
				Total:  4,
			},
		},
	}
	d := status.BuildDashboard(rows)
	require.NoError(t, WriteDashboard(context.Background(), w, d, 1500*time.Millisecond))

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 3)
	assert.Equal(t, TypeStatus, lines[0].Type)
	assert.Equal(t, TypeStatus, lines[1].Type)
	assert.Equal(t, TypeSummary, lines[2].Type)

	var st StatusRecord
	require.NoError(t, json.Unmarshal(lines[1].Data, &st))
	assert.Equal(t, int64(2), st.ID)
	assert.Equal(t, "production", st.JobType)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 4, st.Total)

	var sum SummaryRecord
	require.NoError(t, json.Unmarshal(lines[2].Data, &sum))
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 4, sum.Counts.Total())
	assert.False(t, sum.Consistent)
	assert.Equal(t, "1.5s", sum.DurationHuman)
}

func TestFetchFromSeed(t *testing.T) {
	f := FetchFromSeed(pipeline.SeedResult{Seed: 3, Archive: "output-r1-3.tar.gz", Err: errors.New("gfal-copy failed")})
	assert.Equal(t, 3, f.Seed)
	assert.Equal(t, "gfal-copy failed", f.Error)

	f = FetchFromSeed(pipeline.SeedResult{Seed: 4, Missing: true})
	assert.True(t, f.Missing)
	assert.Empty(t, f.Error)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "wms")

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:     ErrCodeUnavailable,
		Message:  "dirac-wms-job-status exited 1",
		RecordID: 12,
	})
	require.NoError(t, err)

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, TypeError, lines[0].Type)

	var got ErrorRecord
	require.NoError(t, json.Unmarshal(lines[0].Data, &got))
	assert.Equal(t, ErrCodeUnavailable, got.Code)
	assert.Equal(t, int64(12), got.RecordID)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "grid")
	require.NoError(t, w.Close())

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "grid")

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.WriteStatus(context.Background(), &StatusRecord{ID: int64(id*perWriter + j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, buf.String()), writers*perWriter)
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-1", "grid")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteStatus(ctx, &StatusRecord{ID: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

type failingWriter struct{ err error }

func (f *failingWriter) Write([]byte) (int, error) { return 0, f.err }

type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (int, error) {
	if len(p) > sw.bytesPerWrite {
		p = p[:sw.bytesPerWrite]
	}
	return sw.buf.Write(p)
}

type zeroWriteWriter struct{}

func (zeroWriteWriter) Write([]byte) (int, error) { return 0, nil }

func TestJSONLWriter_WriteFailures(t *testing.T) {
	ctx := context.Background()

	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "s", "grid")
	err := w.WriteStatus(ctx, &StatusRecord{ID: 1})
	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)

	short := &shortWriteWriter{bytesPerWrite: 10}
	w = NewJSONLWriter(short, "s", "grid")
	require.NoError(t, w.WriteStatus(ctx, &StatusRecord{ID: 1, Runcard: "ZJ.run"}))
	lines := decodeLines(t, short.buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, TypeStatus, lines[0].Type)

	w = NewJSONLWriter(zeroWriteWriter{}, "s", "grid")
	assert.ErrorIs(t, w.WriteStatus(ctx, &StatusRecord{ID: 1}), io.ErrShortWrite)
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

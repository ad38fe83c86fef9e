package api

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"linecount/internal/models"
	"linecount/processing/reconcile"
	"linecount/processing/session"
	"linecount/processing/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounts struct {
	mu  sync.Mutex
	rec *reconcile.Reconciler
}

func newFakeCounts(raw models.Counts) *fakeCounts {
	rec := reconcile.NewReconciler()
	rec.Apply(&raw)
	return &fakeCounts{rec: rec}
}

func (f *fakeCounts) State() reconcile.State { return f.rec.State() }

func (f *fakeCounts) Override(text string) (reconcile.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.Override(text)
}

type fakeProducer struct {
	stats session.Stats
	err   error
}

func (f fakeProducer) Stats() session.Stats { return f.stats }
func (f fakeProducer) Err() error           { return f.err }

type fakeLog struct {
	records []store.CrossingRecord
	limit   int
	err     error
}

func (f *fakeLog) RecentCrossings(limit int) ([]store.CrossingRecord, error) {
	f.limit = limit
	return f.records, f.err
}

func (f *fakeLog) SessionTotals(string, []string) (models.Counts, int, error) {
	return models.Counts{}, 0, f.err
}

func do(t *testing.T, s *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestCounts(t *testing.T) {
	s := NewServer(
		newFakeCounts(models.Counts{In: 5, Out: 2, ClassIn: 1}),
		fakeProducer{stats: session.Stats{FPS: 12, Latency: 40 * time.Millisecond, Frames: 99}},
		nil,
		nil,
	)

	w := do(t, s, http.MethodGet, "/api/counts", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp CountsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, reconcile.State{In: 5, Out: 2, Inside: 3, ClassCount: 1}, resp.State)
	assert.Equal(t, uint(12), resp.FPS)
	assert.Equal(t, int64(40), resp.LatencyMs)
	assert.Equal(t, uint64(99), resp.Frames)
	assert.False(t, resp.Ended)

	assert.Contains(t, w.Body.String(), `"inside":3`)
}

func TestCountsAfterStreamEnd(t *testing.T) {
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{err: session.ErrStreamExhausted}, nil, nil)

	var resp CountsResponse
	w := do(t, s, http.MethodGet, "/api/counts", "", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.True(t, resp.Ended)
	assert.Equal(t, session.ErrStreamExhausted.Error(), resp.Reason)
}

func TestOverride(t *testing.T) {
	counts := newFakeCounts(models.Counts{In: 5, Out: 2})
	s := NewServer(counts, fakeProducer{}, nil, nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		wantIn      int
	}{
		{"plain text", "text/plain", "3", http.StatusOK, 8},
		{"padded text", "", " -1\n", http.StatusOK, 7},
		{"json", "application/json", `{"delta": 2}`, http.StatusOK, 9},
		{"json missing delta", "application/json", `{"n": 2}`, http.StatusBadRequest, 9},
		{"json fractional", "application/json", `{"delta": 1.5}`, http.StatusBadRequest, 9},
		{"not a number", "text/plain", "abc", http.StatusBadRequest, 9},
		{"empty", "text/plain", "", http.StatusBadRequest, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/override", tt.contentType, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.wantIn, counts.State().In)
			assert.Equal(t, 2, counts.State().Out, "override never touches exits")
		})
	}
}

func TestOverrideWrongMethod(t *testing.T) {
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, nil, nil)

	w := do(t, s, http.MethodGet, "/api/override", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCrossings(t *testing.T) {
	log := &fakeLog{records: []store.CrossingRecord{
		{SessionID: "s", TrackID: 7, Label: "person", Direction: models.DirectionIn, Frame: 3},
	}}
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, log, nil)

	w := do(t, s, http.MethodGet, "/api/crossings", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultCrossingLimit, log.limit)

	var got []store.CrossingRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].TrackID)

	do(t, s, http.MethodGet, "/api/crossings?limit=100000", "", "")
	assert.Equal(t, maxCrossingLimit, log.limit)

	w = do(t, s, http.MethodGet, "/api/crossings?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCrossingsEmptyAndFailing(t *testing.T) {
	log := &fakeLog{}
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, log, nil)

	w := do(t, s, http.MethodGet, "/api/crossings", "", "")
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	log.err = errors.New("disk gone")
	w = do(t, s, http.MethodGet, "/api/crossings", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	s = NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, nil, nil)
	w = do(t, s, http.MethodGet, "/api/crossings", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublishFrame(t *testing.T) {
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, nil, nil)
	assert.NoError(t, s.PublishFrame(image.NewRGBA(image.Rect(0, 0, 16, 16))))
}

func TestSessionTotalsFromEventLog(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "counts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now()
	require.NoError(t, db.StartSession("s1", "clip.mp4", now))
	require.NoError(t, db.InsertCrossings("s1", []models.Crossing{
		{TrackID: 1, Label: "car", Direction: models.DirectionIn, Frame: 1, At: now},
		{TrackID: 2, Label: "person", Direction: models.DirectionIn, Frame: 2, At: now},
		{TrackID: 3, Label: "person", Direction: models.DirectionOut, Frame: 3, At: now},
	}))
	require.NoError(t, db.InsertOverride("s1", 4, now))

	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, db, []string{"car"})

	w := do(t, s, http.MethodGet, "/api/sessions/s1/totals", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got TotalsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, TotalsResponse{SessionID: "s1", In: 6, Out: 1, Inside: 5, ClassIn: 1, Overrides: 4}, got)

	w = do(t, s, http.MethodGet, "/api/sessions/unknown/totals", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, TotalsResponse{SessionID: "unknown"}, got)
}

func TestSessionTotalsErrors(t *testing.T) {
	s := NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, nil, nil)
	w := do(t, s, http.MethodGet, "/api/sessions/s1/totals", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s = NewServer(newFakeCounts(models.Counts{}), fakeProducer{}, &fakeLog{err: errors.New("disk gone")}, nil)
	w = do(t, s, http.MethodGet, "/api/sessions/s1/totals", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"linecount/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "counts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestSessionTotals(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	require.NoError(t, db.StartSession("s1", "rtsp://cam", now))
	require.NoError(t, db.InsertCrossings("s1", []models.Crossing{
		{TrackID: 1, Label: "person", Direction: models.DirectionIn, Frame: 3, At: now},
		{TrackID: 2, Label: "car", Direction: models.DirectionIn, Frame: 4, At: now},
		{TrackID: 3, Label: "car", Direction: models.DirectionOut, Frame: 5, At: now},
	}))
	require.NoError(t, db.InsertOverride("s1", 3, now))
	require.NoError(t, db.InsertOverride("s1", -1, now))

	counts, overrides, err := db.SessionTotals("s1", []string{"car"})
	require.NoError(t, err)
	assert.Equal(t, models.Counts{In: 2, Out: 1, ClassIn: 1}, counts)
	assert.Equal(t, 2, overrides)

	counts, overrides, err = db.SessionTotals("other", nil)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{}, counts)
	assert.Zero(t, overrides)
}

func TestRecentCrossingsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.InsertCrossings("s1", []models.Crossing{{
			TrackID:   int64(i),
			Label:     "person",
			Direction: models.DirectionOut,
			Frame:     uint64(i),
			At:        base.Add(time.Duration(i) * time.Second),
		}}))
	}

	recs, err := db.RecentCrossings(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(4), recs[0].TrackID)
	assert.Equal(t, int64(3), recs[1].TrackID)
	assert.Equal(t, models.DirectionOut, recs[0].Direction)
	assert.True(t, recs[0].At.Equal(base.Add(4*time.Second)))
}

func TestRecorderFlushesOnClose(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, 16)

	r.RecordSession("s1", "file.mp4")
	r.RecordCrossings("s1", []models.Crossing{{TrackID: 1, Label: "person", Direction: models.DirectionIn, At: time.Now()}})
	r.RecordCrossings("s1", nil)
	r.RecordOverride("s1", 5)
	r.Close()
	r.Close()

	counts, overrides, err := db.SessionTotals("s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.In)
	assert.Equal(t, 5, overrides)
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "counts.db"))
	assert.Error(t, err)
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, 4)
	r.RecordSession("s1", "file.mp4")
	r.Close()

	assert.NotPanics(t, func() {
		r.RecordCrossings("s1", []models.Crossing{{TrackID: 1, Label: "person", Direction: models.DirectionIn, At: time.Now()}})
		r.RecordOverride("s1", 2)
	})

	counts, overrides, err := db.SessionTotals("s1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.Counts{}, counts)
	assert.Equal(t, 0, overrides)
}

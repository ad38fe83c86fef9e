package store

import (
	"database/sql"
	"time"

	"linecount/internal/models"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DB is the crossing event log.
type DB struct {
	*sql.DB
}

// CrossingRecord is a stored crossing event.
type CrossingRecord struct {
	SessionID string           `json:"session_id"`
	TrackID   int64            `json:"track_id"`
	Label     string           `json:"label"`
	Direction models.Direction `json:"direction"`
	Frame     uint64           `json:"frame"`
	At        time.Time        `json:"at"`
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	// Pragmas are per connection; keep a single one.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, pragma)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			source            TEXT,
			started_at        BIGINT
		);
		CREATE TABLE IF NOT EXISTS crossings (
			session_id        TEXT,
			track_id          BIGINT,
			label             TEXT,
			direction         TEXT,
			frame             BIGINT,
			at                BIGINT,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS crossings_session ON crossings(session_id);
		CREATE TABLE IF NOT EXISTS overrides (
			session_id        TEXT,
			delta             BIGINT,
			at                BIGINT,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	return &DB{db}, nil
}

func (db *DB) StartSession(id, source string, at time.Time) error {
	_, err := db.Exec(`INSERT INTO sessions (session_id, source, started_at) VALUES (?, ?, ?)`,
		id, source, at.UnixNano())
	return errors.Wrap(err, "insert session")
}

func (db *DB) InsertCrossings(sessionID string, crossings []models.Crossing) error {
	if len(crossings) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}

	stmt, err := tx.Prepare(`INSERT INTO crossings (session_id, track_id, label, direction, frame, at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	for _, c := range crossings {
		if _, err := stmt.Exec(sessionID, c.TrackID, c.Label, string(c.Direction), int64(c.Frame), c.At.UnixNano()); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert crossing")
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}

func (db *DB) InsertOverride(sessionID string, delta int, at time.Time) error {
	_, err := db.Exec(`INSERT INTO overrides (session_id, delta, at) VALUES (?, ?, ?)`,
		sessionID, delta, at.UnixNano())
	return errors.Wrap(err, "insert override")
}

// SessionTotals recomputes a session's counts from the log. entryClasses
// selects the labels that make up ClassIn.
func (db *DB) SessionTotals(sessionID string, entryClasses []string) (models.Counts, int, error) {
	var counts models.Counts

	classes := make(map[string]struct{}, len(entryClasses))
	for _, c := range entryClasses {
		classes[c] = struct{}{}
	}

	rows, err := db.Query(`SELECT direction, label, COUNT(*) FROM crossings WHERE session_id = ? GROUP BY direction, label`, sessionID)
	if err != nil {
		return counts, 0, errors.Wrap(err, "query crossings")
	}
	defer rows.Close()

	for rows.Next() {
		var dir, label string
		var n int
		if err := rows.Scan(&dir, &label, &n); err != nil {
			return counts, 0, errors.Wrap(err, "scan")
		}

		switch models.Direction(dir) {
		case models.DirectionIn:
			counts.In += n
			if _, ok := classes[label]; ok {
				counts.ClassIn += n
			}
		case models.DirectionOut:
			counts.Out += n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, 0, errors.Wrap(err, "rows")
	}

	var overrides sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(delta) FROM overrides WHERE session_id = ?`, sessionID).Scan(&overrides); err != nil {
		return counts, 0, errors.Wrap(err, "sum overrides")
	}

	return counts, int(overrides.Int64), nil
}

// RecentCrossings returns the newest events first.
func (db *DB) RecentCrossings(limit int) ([]CrossingRecord, error) {
	rows, err := db.Query(`SELECT session_id, track_id, label, direction, frame, at FROM crossings ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query crossings")
	}
	defer rows.Close()

	var out []CrossingRecord
	for rows.Next() {
		var rec CrossingRecord
		var dir string
		var frame, at int64

		if err := rows.Scan(&rec.SessionID, &rec.TrackID, &rec.Label, &dir, &frame, &at); err != nil {
			return nil, errors.Wrap(err, "scan")
		}

		rec.Direction = models.Direction(dir)
		rec.Frame = uint64(frame)
		rec.At = time.Unix(0, at)
		out = append(out, rec)
	}

	return out, errors.Wrap(rows.Err(), "rows")
}

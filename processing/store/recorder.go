package store

import (
	"sync"
	"time"

	"linecount/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultQueue = 256

// Recorder writes events to the DB from its own goroutine so the producing
// stage never waits on disk. When the queue is full events are dropped and
// logged.
type Recorder struct {
	db    *DB
	queue chan func(*DB) error

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	now       func() time.Time
}

func NewRecorder(db *DB, queue int) *Recorder {
	if queue <= 0 {
		queue = defaultQueue
	}

	r := &Recorder{
		db:    db,
		queue: make(chan func(*DB) error, queue),
		done:  make(chan struct{}),
		now:   time.Now,
	}

	go r.loop()

	return r
}

func (r *Recorder) loop() {
	defer close(r.done)

	for job := range r.queue {
		if err := job(r.db); err != nil {
			logrus.WithError(err).Error("event log write failed")
		}
	}
}

func (r *Recorder) enqueue(kind string, job func(*DB) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		logrus.WithField("kind", kind).Warn("event log closed, dropping event")
		return
	}

	select {
	case r.queue <- job:
	default:
		logrus.WithField("kind", kind).Warn("event log queue full, dropping event")
	}
}

func (r *Recorder) RecordSession(id, source string) {
	at := r.now()
	r.enqueue("session", func(db *DB) error {
		return db.StartSession(id, source, at)
	})
}

func (r *Recorder) RecordCrossings(sessionID string, crossings []models.Crossing) {
	if len(crossings) == 0 {
		return
	}

	batch := append([]models.Crossing(nil), crossings...)
	r.enqueue("crossing", func(db *DB) error {
		return db.InsertCrossings(sessionID, batch)
	})
}

func (r *Recorder) RecordOverride(sessionID string, delta int) {
	at := r.now()
	r.enqueue("override", func(db *DB) error {
		return db.InsertOverride(sessionID, delta, at)
	})
}

// Close flushes queued events. Events recorded after Close are dropped.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		<-r.done
	})
}

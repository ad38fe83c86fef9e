package session

import (
	"context"
	"io"
	"sync"

	"linecount/internal/config"
	"linecount/internal/models"
	"linecount/processing/capture"
	"linecount/processing/counter"
	"linecount/processing/detector"
	"linecount/processing/pipeline"
	"linecount/processing/reconcile"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type sessionRecorder interface {
	RecordSession(id, source string)
}

// Session is one open video source with its producing and consuming stages.
// It is started once and stopped once.
type Session struct {
	ID       string
	Producer *Producer
	Consumer *Consumer

	source  capture.VideoStreamer
	tracker TrackSource

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// stepMu is held for the whole of a cooperative Step so Stop can wait
	// for the frame in flight.
	stepMu   sync.Mutex
	stopOnce sync.Once
}

// Open starts the configured video source and connects the remote detector.
// A source that cannot be opened aborts the session. display carries the
// shown counts across sessions; nil starts a fresh one.
func Open(cfg *config.Config, display *reconcile.Reconciler, sink EventSink) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source, err := capture.NewStreamer(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}

	if err := source.Start(); err != nil {
		return nil, errors.Wrap(err, "start source")
	}

	tracker := detector.NewRemoteDetector(cfg.Detector.URL, cfg.Detector.Classes, cfg.DetectorTimeout())

	s, err := New(cfg, source, tracker, display, sink)
	if err != nil {
		source.Stop()
		tracker.Close()
		return nil, err
	}

	if rec, ok := sink.(sessionRecorder); ok {
		rec.RecordSession(s.ID, string(cfg.GetSource()))
	}

	return s, nil
}

// New wires a session around an already started source.
func New(cfg *config.Config, source capture.VideoStreamer, tracker TrackSource, display *reconcile.Reconciler, sink EventSink) (*Session, error) {
	line, err := counter.NewLine(cfg.LinePoints())
	if err != nil {
		return nil, errors.Wrap(err, "crossing line")
	}

	c := counter.New(line, counter.Options{
		EvictAfterFrames: cfg.Counting.EvictAfterFrames,
		EntryClasses:     cfg.Counting.EntryClasses,
		InvertDirection:  cfg.Line.InvertDirection,
		Bounded:          cfg.Line.Bounded,
		TrailLength:      cfg.Counting.TrailLength,
	})

	id := uuid.NewString()
	slot := pipeline.NewSlot[*models.Snapshot]()

	s := &Session{
		ID:       id,
		Producer: NewProducer(id, source, tracker, c, slot, sink),
		Consumer: NewConsumer(id, slot, display, cfg.Display.ThumbWidth, cfg.Display.ThumbHeight, sink),
		source:   source,
		tracker:  tracker,
	}

	logrus.WithFields(logrus.Fields{
		"session": id,
		"line":    line.Points(),
	}).Info("session created")

	return s, nil
}

// Start runs the producing stage on its own goroutine.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Producer.Run(ctx)
	}()
}

// Step drives the producing stage from the caller's goroutine. After Stop it
// only reports ErrStopped.
func (s *Session) Step(ctx context.Context) (bool, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	return s.Producer.Step(ctx)
}

func (s *Session) Done() <-chan struct{} {
	return s.Producer.Done()
}

// Stop cancels the producer at the next frame boundary, waits for it and
// releases the source and the detector connection. A Step in progress on
// another goroutine is allowed to finish its frame first.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		s.stepMu.Lock()
		s.Producer.finish(ErrStopped)
		s.stepMu.Unlock()

		s.source.Stop()

		if c, ok := s.tracker.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logrus.WithError(err).Debug("detector close")
			}
		}

		logrus.WithFields(logrus.Fields{
			"session": s.ID,
			"stats":   s.Producer.out.Stats(),
		}).Info("session stopped")
	})
}

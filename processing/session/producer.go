package session

import (
	"context"
	"image"
	"sync"
	"time"

	"linecount/internal/models"
	"linecount/processing/capture"
	"linecount/processing/counter"
	"linecount/processing/detector"
	"linecount/processing/pipeline"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrStreamExhausted = errors.New("video stream exhausted")
	ErrStopped         = errors.New("session stopped")
)

// TrackSource returns the tracked objects in one frame.
type TrackSource interface {
	Track(ctx context.Context, seq uint64, frame image.Image) ([]models.Observation, error)
}

// EventSink receives crossing and override events for the event log.
type EventSink interface {
	RecordCrossings(sessionID string, crossings []models.Crossing)
	RecordOverride(sessionID string, delta int)
}

type nopSink struct{}

func (nopSink) RecordCrossings(string, []models.Crossing) {}
func (nopSink) RecordOverride(string, int)                {}

// Stats describe the producing stage's recent throughput.
type Stats struct {
	FPS     uint
	Latency time.Duration
	Frames  uint64
}

// Producer reads frames, tracks, counts and publishes one snapshot per frame.
// Frames are processed strictly one after another.
type Producer struct {
	sessionID string
	source    capture.VideoStreamer
	tracker   TrackSource
	counter   *counter.Counter
	out       *pipeline.Slot[*models.Snapshot]
	sink      EventSink

	seq uint64

	mu          sync.RWMutex
	stats       Stats
	frameCount  uint
	lastFpsTick time.Time

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

func NewProducer(sessionID string, source capture.VideoStreamer, tracker TrackSource, c *counter.Counter, out *pipeline.Slot[*models.Snapshot], sink EventSink) *Producer {
	if sink == nil {
		sink = nopSink{}
	}

	return &Producer{
		sessionID:   sessionID,
		source:      source,
		tracker:     tracker,
		counter:     c,
		out:         out,
		sink:        sink,
		lastFpsTick: time.Now(),
		done:        make(chan struct{}),
	}
}

// Run processes frames until the stream ends or ctx is cancelled. It checks
// for cancellation only between frames. The video source is stopped on return.
func (p *Producer) Run(ctx context.Context) error {
	defer p.source.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.finish(ErrStopped)

		case frame, ok := <-p.source.FrameChan():
			if !ok {
				return p.finish(p.exhausted())
			}
			if frame == nil {
				continue
			}
			if ctx.Err() != nil {
				return p.finish(ErrStopped)
			}

			p.process(ctx, frame)
		}
	}
}

// Step processes at most one frame without waiting for one. It is the
// single-stage alternative to Run. It returns whether a frame was processed,
// and a non-nil error once the stream has ended.
func (p *Producer) Step(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		return false, p.err
	default:
	}

	if ctx.Err() != nil {
		p.source.Stop()
		return false, p.finish(ErrStopped)
	}

	select {
	case frame, ok := <-p.source.FrameChan():
		if !ok {
			p.source.Stop()
			return false, p.finish(p.exhausted())
		}
		if frame == nil {
			return false, nil
		}

		p.process(ctx, frame)
		return true, nil

	default:
		return false, nil
	}
}

// Done is closed when the producer has stopped for good.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Err is the reason the producer stopped. Only valid after Done is closed.
func (p *Producer) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *Producer) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

func (p *Producer) process(ctx context.Context, frame image.Image) {
	start := time.Now()
	p.seq++

	snap := &models.Snapshot{Seq: p.seq, CapturedAt: start}

	observations, err := p.tracker.Track(ctx, p.seq, frame)
	if err != nil {
		entry := logrus.WithError(err).WithField("frame", p.seq)
		if errors.Is(err, detector.ErrDetectorUnavailable) {
			entry.Debug("no detector, frame not counted")
		} else {
			entry.Warn("tracking failed, frame not counted")
		}

		snap.Frame = frame
		snap.Counts = p.counter.Counts()
	} else {
		res := p.counter.Update(frame, observations)
		p.sink.RecordCrossings(p.sessionID, res.Crossings)

		snap.Frame = res.Frame
		snap.Counts = res.Counts
	}

	p.out.Publish(snap)
	p.record(time.Since(start))
}

func (p *Producer) record(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Latency = latency
	p.stats.Frames++
	p.frameCount++

	if time.Since(p.lastFpsTick) >= time.Second {
		p.stats.FPS = p.frameCount
		p.frameCount = 0
		p.lastFpsTick = time.Now()
	}
}

func (p *Producer) exhausted() error {
	select {
	case err, ok := <-p.source.ErrorChan():
		if ok && err != nil {
			return errors.Wrap(ErrStreamExhausted, err.Error())
		}
	default:
	}
	return ErrStreamExhausted
}

func (p *Producer) finish(err error) error {
	p.doneOnce.Do(func() {
		p.err = err
		close(p.done)

		logrus.WithFields(logrus.Fields{
			"session": p.sessionID,
			"frames":  p.seq,
			"reason":  err,
		}).Info("producer stopped")
	})

	return p.err
}

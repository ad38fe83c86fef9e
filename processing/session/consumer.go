package session

import (
	"image"

	"linecount/internal/models"
	"linecount/processing/pipeline"
	"linecount/processing/reconcile"

	"github.com/disintegration/imaging"
)

// Update is the result of one consumer tick.
type Update struct {
	State   reconcile.State
	Changes reconcile.Changes
	// Frame is set only when a new snapshot arrived.
	Frame image.Image
	Seq   uint64
}

// Consumer polls the pipeline and keeps the reconciled display state. Tick is
// driven by a single goroutine; overrides may arrive from the UI thread.
type Consumer struct {
	sessionID string
	in        *pipeline.Slot[*models.Snapshot]
	rec       *reconcile.Reconciler
	sink      EventSink

	thumbW int
	thumbH int
}

// NewConsumer reconciles into display, which may outlive this session so the
// shown counts survive a restart. A nil display starts from zero.
func NewConsumer(sessionID string, in *pipeline.Slot[*models.Snapshot], display *reconcile.Reconciler, thumbW, thumbH int, sink EventSink) *Consumer {
	if sink == nil {
		sink = nopSink{}
	}
	if display == nil {
		display = reconcile.NewReconciler()
	}

	return &Consumer{
		sessionID: sessionID,
		in:        in,
		rec:       display,
		sink:      sink,
		thumbW:    thumbW,
		thumbH:    thumbH,
	}
}

// Tick takes the pending snapshot, if any, and reconciles it. Without a new
// snapshot the state is returned unchanged.
func (c *Consumer) Tick() Update {
	snap, ok := c.in.TryTake()
	if !ok || snap == nil {
		return Update{State: c.rec.State()}
	}

	st, ch := c.rec.Apply(&snap.Counts)

	var frame image.Image
	if snap.Frame != nil {
		frame = c.thumbnail(snap.Frame)
	}

	return Update{State: st, Changes: ch, Frame: frame, Seq: snap.Seq}
}

// Override applies operator text to the entry count; it reports whether the
// text was accepted.
func (c *Consumer) Override(text string) (reconcile.State, bool) {
	st, ok := c.rec.Override(text)
	if ok {
		delta, _ := reconcile.ParseOverride(text)
		c.sink.RecordOverride(c.sessionID, delta)
	}
	return st, ok
}

func (c *Consumer) OverrideBy(delta int) reconcile.State {
	st := c.rec.OverrideBy(delta)
	c.sink.RecordOverride(c.sessionID, delta)
	return st
}

func (c *Consumer) State() reconcile.State {
	return c.rec.State()
}

func (c *Consumer) thumbnail(img image.Image) image.Image {
	if c.thumbW <= 0 || c.thumbH <= 0 {
		return img
	}

	b := img.Bounds()
	if b.Dx() <= c.thumbW && b.Dy() <= c.thumbH {
		return img
	}

	return imaging.Fit(img, c.thumbW, c.thumbH, imaging.Lanczos)
}

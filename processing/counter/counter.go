package counter

import (
	"image"
	"time"

	"linecount/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultEvictAfter = 30

type Options struct {
	// EvictAfterFrames drops an identity's history once it has been missing
	// for this many consecutive updates.
	EvictAfterFrames int
	// EntryClasses are labels whose entries also count towards ClassIn.
	EntryClasses []string
	// InvertDirection makes A->B an entry instead of an exit.
	InvertDirection bool
	// Bounded requires the movement to actually cut the polyline.
	Bounded     bool
	TrailLength int
}

type trackState struct {
	side     Side
	last     models.Point
	lastSeen uint64
	trail    []models.Point
}

// Counter turns per-frame observations into entry/exit tallies. It is owned
// by the producing stage and is not safe for concurrent use.
type Counter struct {
	line  *Line
	opts  Options
	entry map[string]struct{}

	tracks map[int64]*trackState
	frame  uint64
	counts models.Counts

	now func() time.Time
}

// Result is the outcome of one Update call.
type Result struct {
	Frame     *image.RGBA
	Counts    models.Counts
	Crossings []models.Crossing
}

func New(line *Line, opts Options) *Counter {
	if opts.EvictAfterFrames <= 0 {
		opts.EvictAfterFrames = defaultEvictAfter
	}

	entry := make(map[string]struct{}, len(opts.EntryClasses))
	for _, cls := range opts.EntryClasses {
		entry[cls] = struct{}{}
	}

	return &Counter{
		line:   line,
		opts:   opts,
		entry:  entry,
		tracks: make(map[int64]*trackState),
		now:    time.Now,
	}
}

func (c *Counter) Line() *Line {
	return c.line
}

// Counts returns a copy of the current tallies.
func (c *Counter) Counts() models.Counts {
	return c.counts
}

// Active is the number of identities with side history.
func (c *Counter) Active() int {
	return len(c.tracks)
}

// Update processes the observations of one frame. frame may be nil, in which
// case no annotation is produced.
func (c *Counter) Update(frame image.Image, observations []models.Observation) Result {
	c.frame++

	var crossings []models.Crossing

	for _, obs := range observations {
		st, ok := c.tracks[obs.ID]
		if !ok {
			st = &trackState{}
			c.tracks[obs.ID] = st
		}
		st.lastSeen = c.frame

		if !obs.Position.Valid() {
			logrus.WithFields(logrus.Fields{
				"track": obs.ID,
				"frame": c.frame,
			}).Debug("skipping observation without a usable position")
			continue
		}

		st.trail = appendTrail(st.trail, obs.Position, c.opts.TrailLength)

		side := c.line.SideOf(obs.Position)
		if side == SideNone {
			continue
		}

		if st.side != SideNone && st.side != side {
			if !c.opts.Bounded || c.line.Intersects(st.last, obs.Position) {
				crossings = append(crossings, c.cross(obs, st.side, side))
			}
		}

		st.side = side
		st.last = obs.Position
	}

	c.evict()

	res := Result{
		Counts:    c.counts,
		Crossings: crossings,
	}

	if frame != nil {
		res.Frame = c.annotate(frame, observations)
	}

	return res
}

func (c *Counter) cross(obs models.Observation, from, to Side) models.Crossing {
	dir := models.DirectionOut
	if from == SideB && to == SideA {
		dir = models.DirectionIn
	}
	if c.opts.InvertDirection {
		if dir == models.DirectionIn {
			dir = models.DirectionOut
		} else {
			dir = models.DirectionIn
		}
	}

	switch dir {
	case models.DirectionIn:
		c.counts.In++
		if _, ok := c.entry[obs.Label]; ok {
			c.counts.ClassIn++
		}
	case models.DirectionOut:
		c.counts.Out++
	}

	logrus.WithFields(logrus.Fields{
		"track":     obs.ID,
		"label":     obs.Label,
		"direction": dir,
		"in":        c.counts.In,
		"out":       c.counts.Out,
	}).Debug("line crossed")

	return models.Crossing{
		TrackID:   obs.ID,
		Label:     obs.Label,
		Direction: dir,
		Frame:     c.frame,
		At:        c.now(),
	}
}

func (c *Counter) evict() {
	limit := uint64(c.opts.EvictAfterFrames)

	for id, st := range c.tracks {
		if c.frame-st.lastSeen >= limit {
			delete(c.tracks, id)
		}
	}
}

func appendTrail(trail []models.Point, p models.Point, limit int) []models.Point {
	if limit <= 0 {
		return trail[:0]
	}

	trail = append(trail, p)
	if len(trail) > limit {
		trail = trail[len(trail)-limit:]
	}

	return trail
}

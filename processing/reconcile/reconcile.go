package reconcile

import (
	"strconv"
	"strings"

	"linecount/internal/models"

	"github.com/sirupsen/logrus"
)

// State is what the display shows.
type State struct {
	In         int `json:"in"`
	Out        int `json:"out"`
	Inside     int `json:"inside"`
	ClassCount int `json:"class_count"`
}

// Changes tells the display which values moved in the last update.
type Changes struct {
	In         bool
	Out        bool
	Inside     bool
	ClassCount bool
}

func (c Changes) Any() bool {
	return c.In || c.Out || c.Inside || c.ClassCount
}

// Reconcile folds a raw counter snapshot into the displayed state. In and Out
// never decrease; Out never goes below zero. Inside is In-Out and is reported
// even when negative. The class count mirrors the raw value directly.
func Reconcile(cur State, raw models.Counts) (State, Changes) {
	next := cur

	if raw.In > next.In {
		next.In = raw.In
	}
	if raw.Out > next.Out {
		next.Out = raw.Out
	}
	if next.Out < 0 {
		logrus.WithField("out", next.Out).Warn("out count adjusted to 0 to prevent negative value")
		next.Out = 0
	}

	next.Inside = next.In - next.Out

	if raw.ClassIn != next.ClassCount {
		next.ClassCount = raw.ClassIn
	}

	return next, diff(cur, next)
}

// ApplyOverride adds an operator correction to the entry count.
func ApplyOverride(cur State, delta int) (State, Changes) {
	next := cur
	next.In += delta
	next.Inside = next.In - next.Out

	return next, diff(cur, next)
}

// ParseOverride reads a base-10 integer from operator input.
func ParseOverride(text string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}
	return v, true
}

func diff(a, b State) Changes {
	return Changes{
		In:         a.In != b.In,
		Out:        a.Out != b.Out,
		Inside:     a.Inside != b.Inside,
		ClassCount: a.ClassCount != b.ClassCount,
	}
}

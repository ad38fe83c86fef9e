package reconcile

import (
	"sync"

	"linecount/internal/models"

	"github.com/sirupsen/logrus"
)

// Reconciler holds the displayed state for the consuming stage. Only the
// consuming stage mutates it; the mutex lets other readers (HTTP handlers)
// take consistent copies.
type Reconciler struct {
	mu       sync.RWMutex
	state    State
	negative bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Apply reconciles a raw snapshot. A nil snapshot leaves the state untouched.
func (r *Reconciler) Apply(raw *models.Counts) (State, Changes) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if raw == nil {
		return r.state, Changes{}
	}

	var ch Changes
	r.state, ch = Reconcile(r.state, *raw)
	r.checkInside()

	return r.state, ch
}

// Override parses text and applies it to the entry count. Anything that is
// not an integer is ignored.
func (r *Reconciler) Override(text string) (State, bool) {
	delta, ok := ParseOverride(text)
	if !ok {
		return r.State(), false
	}

	return r.OverrideBy(delta), true
}

func (r *Reconciler) OverrideBy(delta int) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state, _ = ApplyOverride(r.state, delta)
	r.checkInside()

	logrus.WithFields(logrus.Fields{
		"delta": delta,
		"in":    r.state.In,
	}).Info("manual entry override")

	return r.state
}

// checkInside logs once each time the occupancy turns negative.
func (r *Reconciler) checkInside() {
	neg := r.state.Inside < 0
	if neg && !r.negative {
		logrus.WithFields(logrus.Fields{
			"in":  r.state.In,
			"out": r.state.Out,
		}).Warn("more exits than entries, occupancy is negative")
	}
	r.negative = neg
}

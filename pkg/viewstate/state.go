// Package viewstate holds the loading state of the catalog's screens.
// A holder fetches data through the Ghibli client and publishes each new state to an optional callback.
package viewstate

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Phase is the stage a load is in.
type Phase int

const (
	// PhaseLoading is the zero value, so a zero State is loading.
	PhaseLoading Phase = iota
	PhaseLoaded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is either loading, loaded with a value, or failed with a message for the user.
type State[T any] struct {
	Phase Phase
	// Only set if Phase is PhaseLoaded
	Value T
	// Only set if Phase is PhaseFailed
	Message string
}

// Loading returns the state of a load that hasn't finished yet.
func Loading[T any]() State[T] {
	return State[T]{Phase: PhaseLoading}
}

// Loaded returns the state of a load that returned v.
func Loaded[T any](v T) State[T] {
	return State[T]{Phase: PhaseLoaded, Value: v}
}

// Failed returns the state of a failed load, with a message for the user.
func Failed[T any](msg string) State[T] {
	return State[T]{Phase: PhaseFailed, Message: msg}
}

// holder contains what FilmList and FilmDetail have in common.
type holder[T any] struct {
	lang   language.Tag
	logger *zap.Logger

	lock     *sync.Mutex
	state    State[T]
	onChange func(State[T])
	// Incremented by every load, so that the result of a superseded load is dropped.
	generation uint64
}

func newHolder[T any](lang language.Tag, logger *zap.Logger) *holder[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &holder[T]{
		lang:   lang,
		logger: logger,
		lock:   &sync.Mutex{},
		state:  Loading[T](),
	}
}

// State returns the current state.
func (h *holder[T]) State() State[T] {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

// OnChange registers a callback that gets every newly published state.
// It can be called from different goroutines, but never while the holder's lock is held.
func (h *holder[T]) OnChange(fn func(State[T])) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.onChange = fn
}

// begin starts a new load and returns its generation.
// With showLoading the loading state is published.
func (h *holder[T]) begin(showLoading bool) uint64 {
	gen, _ := h.start(func(State[T]) bool { return showLoading })
	return gen
}

// beginRefresh starts a new load that only publishes the loading state if no value is shown.
// It returns the generation and whether the loading state was published.
func (h *holder[T]) beginRefresh() (uint64, bool) {
	return h.start(func(current State[T]) bool { return current.Phase != PhaseLoaded })
}

// start checks the current state and increments the generation in one step,
// so that no other load can start in between.
func (h *holder[T]) start(showLoading func(current State[T]) bool) (uint64, bool) {
	h.lock.Lock()
	h.generation++
	gen := h.generation
	if !showLoading(h.state) {
		h.lock.Unlock()
		return gen, false
	}
	h.state = Loading[T]()
	onChange := h.onChange
	h.lock.Unlock()

	if onChange != nil {
		onChange(Loading[T]())
	}
	return gen, true
}

// publish sets the given state, unless a newer load was started in the meantime.
func (h *holder[T]) publish(gen uint64, s State[T]) {
	h.lock.Lock()
	if gen != h.generation {
		h.lock.Unlock()
		h.logger.Debug("Dropping result of superseded load", zap.Stringer("phase", s.Phase))
		return
	}
	h.state = s
	onChange := h.onChange
	h.lock.Unlock()

	if onChange != nil {
		onChange(s)
	}
}

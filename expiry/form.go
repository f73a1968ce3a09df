package expiry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Form holds editable record state with derived days fields kept fresh.
// It is safe for concurrent use; the scheduler and the editing caller
// usually live on different goroutines.
type Form struct {
	mu       sync.Mutex
	state    Fields
	pairs    []Pair
	byValid  map[string]Pair
	derived  map[string]bool
	clock    clockwork.Clock
	onChange func(Fields)
	logger   *slog.Logger
}

// FormOption configures a Form
type FormOption func(*Form)

// WithClock sets the time source, mainly for tests
func WithClock(c clockwork.Clock) FormOption {
	return func(f *Form) {
		f.clock = c
	}
}

// WithOnChange registers a callback invoked with a snapshot after every
// change to the state. It runs outside the form's lock.
func WithOnChange(fn func(Fields)) FormOption {
	return func(f *Form) {
		f.onChange = fn
	}
}

// WithFormLogger sets the structured logger
func WithFormLogger(l *slog.Logger) FormOption {
	return func(f *Form) {
		f.logger = l
	}
}

// NewForm creates an empty form tracking the given pairs
func NewForm(pairs []Pair, opts ...FormOption) *Form {
	f := &Form{
		state:   Fields{},
		pairs:   pairs,
		byValid: make(map[string]Pair, len(pairs)),
		derived: make(map[string]bool, len(pairs)),
	}
	for _, p := range pairs {
		f.byValid[p.Validity] = p
		f.derived[p.Days] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Pairs returns the tracked pairs
func (f *Form) Pairs() []Pair {
	return f.pairs
}

// IsDerived reports whether field is a days field
func (f *Form) IsDerived(field string) bool {
	return f.derived[field]
}

// Load replaces the state with a fetched record and sweeps all pairs
func (f *Form) Load(record Fields) {
	f.mu.Lock()
	state, _ := RecomputeAll(f.pairs, record.Clone(), f.clock.Now())
	f.state = state
	snap := f.state.Clone()
	f.mu.Unlock()

	f.notify(snap)
}

// Set writes a user-edited field. Editing a validity field recomputes only
// its own pair; writing a days field directly fails with ErrDerivedField.
func (f *Form) Set(field, value string) error {
	if f.derived[field] {
		return fmt.Errorf("%s: %w", field, ErrDerivedField)
	}

	f.mu.Lock()
	if cur, ok := f.state[field]; ok && cur == value {
		f.mu.Unlock()
		return nil
	}
	next := f.state.Clone()
	next[field] = value
	if p, ok := f.byValid[field]; ok {
		next[p.Days] = DaysRemaining(value, f.clock.Now())
	}
	f.state = next
	snap := next.Clone()
	f.mu.Unlock()

	f.notify(snap)
	return nil
}

// Recompute sweeps every pair and reports whether anything changed
func (f *Form) Recompute() bool {
	f.mu.Lock()
	next, changed := RecomputeAll(f.pairs, f.state, f.clock.Now())
	if !changed {
		f.mu.Unlock()
		return false
	}
	f.state = next
	snap := next.Clone()
	f.mu.Unlock()

	f.notify(snap)
	return true
}

// Get returns a single field value
func (f *Form) Get(field string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[field]
}

// Snapshot returns a copy of the current state
func (f *Form) Snapshot() Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

// PrepareSubmit sweeps once more and returns the payload to send, so the
// transmitted days values are computed as of now.
func (f *Form) PrepareSubmit() Fields {
	f.Recompute()
	return f.Snapshot()
}

func (f *Form) notify(snap Fields) {
	if f.onChange != nil {
		f.onChange(snap)
	}
}

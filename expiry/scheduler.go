package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the recompute cadence between midnights
const DefaultInterval = time.Hour

// NextFireTime returns when the next scheduled recompute should happen:
// now+interval, or the next local midnight if that comes first.
func NextFireTime(now time.Time, interval time.Duration) time.Time {
	y, m, d := now.Date()
	nextMidnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	next := now.Add(interval)
	if nextMidnight.Before(next) {
		return nextMidnight
	}
	return next
}

// VisibilityNotifier signals hidden-to-visible transitions of the view
// that owns a form.
type VisibilityNotifier interface {
	Visible() <-chan struct{}
}

// ManualVisibility is a VisibilityNotifier driven by explicit Show calls
type ManualVisibility struct {
	ch chan struct{}
}

func NewManualVisibility() *ManualVisibility {
	return &ManualVisibility{ch: make(chan struct{}, 1)}
}

func (m *ManualVisibility) Visible() <-chan struct{} {
	return m.ch
}

// Show records a transition to visible. Transitions that arrive while one
// is still pending collapse into it.
func (m *ManualVisibility) Show() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// Scheduler drives a Form's periodic recomputation
type Scheduler struct {
	form       *Form
	clock      clockwork.Clock
	interval   time.Duration
	visibility VisibilityNotifier
	logger     *slog.Logger
	onTick     func(trigger string, changed bool)
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithInterval overrides DefaultInterval
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithSchedulerClock sets the time source
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithVisibility adds visibility-driven recomputes
func WithVisibility(v VisibilityNotifier) SchedulerOption {
	return func(s *Scheduler) {
		s.visibility = v
	}
}

// WithSchedulerLogger sets the structured logger
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithTickHook is called after every recompute with its trigger
// ("timer" or "visible") and whether it changed the form.
func WithTickHook(fn func(trigger string, changed bool)) SchedulerOption {
	return func(s *Scheduler) {
		s.onTick = fn
	}
}

// NewScheduler creates a scheduler for form. The clock defaults to the
// form's own clock.
func NewScheduler(form *Form, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		form:     form,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = form.clock
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run recomputes on schedule until ctx is done. A visibility signal
// recomputes immediately and restarts the schedule from that moment.
func (s *Scheduler) Run(ctx context.Context) error {
	var visible <-chan struct{}
	if s.visibility != nil {
		visible = s.visibility.Visible()
	}

	for {
		now := s.clock.Now()
		next := NextFireTime(now, s.interval)
		timer := s.clock.NewTimer(next.Sub(now))
		s.logger.Debug("next expiry recompute scheduled", "at", next)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
			s.tick("timer")
		case <-visible:
			timer.Stop()
			s.tick("visible")
		}
	}
}

func (s *Scheduler) tick(trigger string) {
	changed := s.form.Recompute()
	s.logger.Debug("expiry recompute", "trigger", trigger, "changed", changed)
	if s.onTick != nil {
		s.onTick(trigger, changed)
	}
}

package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestNextFireTime(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"hourly during the day", date(2025, 1, 1, 10, 15), date(2025, 1, 1, 11, 15)},
		{"midnight comes first", date(2025, 1, 1, 23, 20), date(2025, 1, 2, 0, 0)},
		{"exactly an hour before midnight", date(2025, 1, 1, 23, 0), date(2025, 1, 2, 0, 0)},
		{"at midnight", date(2025, 1, 2, 0, 0), date(2025, 1, 2, 1, 0)},
		{"month rollover", date(2025, 1, 31, 23, 30), date(2025, 2, 1, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextFireTime(tt.now, time.Hour); !got.Equal(tt.want) {
				t.Errorf("NextFireTime(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

type tick struct {
	trigger string
	changed bool
}

func startScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func waitTick(t *testing.T, ticks <-chan tick) tick {
	t.Helper()
	select {
	case tk := <-ticks:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a recompute")
	}
	return tick{}
}

func TestScheduler_HourlyThenMidnight(t *testing.T) {
	clock := clockwork.NewFakeClockAt(date(2025, 1, 1, 22, 30))
	f := NewForm(PairsFor("oeko_tex"), WithClock(clock))
	f.Load(Fields{"oeko_tex_validity": "2025-01-03"})

	ticks := make(chan tick, 4)
	s := NewScheduler(f, WithTickHook(func(trigger string, changed bool) {
		ticks <- tick{trigger, changed}
	}))
	cancel, done := startScheduler(t, s)
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()

	// 22:30 -> 23:30, same day
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)
	if tk := waitTick(t, ticks); tk.trigger != "timer" || tk.changed {
		t.Errorf("23:30 tick = %+v, want unchanged timer tick", tk)
	}

	// 23:30 -> midnight, not 00:30
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Minute)
	if tk := waitTick(t, ticks); !tk.changed {
		t.Errorf("midnight tick = %+v, want a change", tk)
	}
	if got := f.Get("oeko_tex_days_remaining"); got != "1" {
		t.Errorf("days after midnight = %q, want 1", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestScheduler_VisibilityTriggersRecompute(t *testing.T) {
	formClock := clockwork.NewFakeClockAt(date(2025, 1, 1, 9, 0))
	schedClock := clockwork.NewFakeClockAt(date(2025, 1, 1, 9, 0))
	f := NewForm(PairsFor("grs"), WithClock(formClock))
	f.Load(Fields{"grs_validity": "2025-01-11"})

	vis := NewManualVisibility()
	ticks := make(chan tick, 4)
	s := NewScheduler(f,
		WithSchedulerClock(schedClock),
		WithVisibility(vis),
		WithTickHook(func(trigger string, changed bool) { ticks <- tick{trigger, changed} }),
	)
	cancel, _ := startScheduler(t, s)
	defer cancel()

	// The view was hidden for two days; no timer fired
	formClock.Advance(48 * time.Hour)
	vis.Show()

	tk := waitTick(t, ticks)
	if tk.trigger != "visible" || !tk.changed {
		t.Errorf("tick = %+v, want changed visible tick", tk)
	}
	if got := f.Get("grs_days_remaining"); got != "8" {
		t.Errorf("days = %q, want 8", got)
	}
}

func TestManualVisibility_Collapses(t *testing.T) {
	vis := NewManualVisibility()
	vis.Show()
	vis.Show()
	<-vis.Visible()
	select {
	case <-vis.Visible():
		t.Error("pending transitions should collapse into one")
	default:
	}
}

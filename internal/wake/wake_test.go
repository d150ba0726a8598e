package wake_test

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/waketurn/internal/wake"
	"github.com/MrWong99/waketurn/pkg/audio"
)

// fixedScorer returns scores from a script, one per call.
type fixedScorer struct {
	name   string
	scores []float64
	i      int
}

func (s *fixedScorer) Name() string { return s.name }

func (s *fixedScorer) Score([]float32) (float64, error) {
	if s.i >= len(s.scores) {
		return 0, nil
	}
	v := s.scores[s.i]
	s.i++
	return v, nil
}

type failingScorer struct{}

func (failingScorer) Name() string                     { return "broken" }
func (failingScorer) Score([]float32) (float64, error) { return 0, errors.New("boom") }

// sliceSource yields n empty frames, then io.EOF.
type sliceSource struct {
	n    int
	seq  uint64
	step func()
}

func (s *sliceSource) PullFrame(_ context.Context, size int) (audio.Frame, error) {
	if s.n == 0 {
		return audio.Frame{}, io.EOF
	}
	s.n--
	if s.step != nil {
		s.step()
	}
	f := audio.Frame{Samples: make([]float32, size), SampleRate: 16000, Seq: s.seq}
	s.seq++
	return f, nil
}

func TestDebouncer_FiresOnThirdFrame(t *testing.T) {
	t.Parallel()

	d := wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: 3, Cooldown: 2 * time.Second})
	t0 := time.Unix(1000, 0)

	for i, wantFire := range []bool{false, false, true} {
		dec := d.Step(0.6, t0.Add(time.Duration(i)*80*time.Millisecond))
		if dec.Fired != wantFire {
			t.Fatalf("frame %d: Fired = %v, want %v", i+1, dec.Fired, wantFire)
		}
	}
	if got := d.State().Streak; got != 0 {
		t.Errorf("streak after trigger = %d, want 0", got)
	}
}

func TestDebouncer_OneStepDecay(t *testing.T) {
	t.Parallel()

	d := wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: 3})
	now := time.Unix(0, 0)

	steps := []struct {
		score  float64
		streak int
		fired  bool
	}{
		{0.9, 1, false},
		{0.9, 2, false},
		{0.1, 1, false},
		{0.1, 0, false},
		{0.1, 0, false}, // never negative
		{0.5, 1, false}, // threshold is inclusive
		{0.7, 2, false},
		{0.8, 0, true},
	}
	for i, s := range steps {
		dec := d.Step(s.score, now)
		if dec.Streak != s.streak || dec.Fired != s.fired {
			t.Fatalf("step %d (score %.1f): streak=%d fired=%v, want streak=%d fired=%v",
				i, s.score, dec.Streak, dec.Fired, s.streak, s.fired)
		}
	}
}

func TestDebouncer_CooldownSuppressesAndResetsStreak(t *testing.T) {
	t.Parallel()

	d := wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: 3, Cooldown: 2 * time.Second})
	t0 := time.Unix(5000, 0)

	var fired []time.Duration
	run := func(at time.Duration) (wake.Decision, bool) {
		var last wake.Decision
		for range 3 {
			last = d.Step(0.9, t0.Add(at))
			if last.Fired {
				fired = append(fired, at)
			}
		}
		return last, last.Fired
	}

	if _, ok := run(0); !ok {
		t.Fatal("expected trigger at t=0")
	}
	dec, ok := run(time.Second)
	if ok {
		t.Fatal("trigger fired inside cooldown at t=1s")
	}
	if !dec.Suppressed {
		t.Error("expected the t=1s streak to be reported as suppressed")
	}
	if d.State().Streak != 0 {
		t.Errorf("streak after suppressed trigger = %d, want 0", d.State().Streak)
	}
	if _, ok := run(1999 * time.Millisecond); ok {
		t.Fatal("trigger fired at t=1.999s")
	}
	if _, ok := run(2 * time.Second); !ok {
		t.Fatal("expected trigger at t=2s")
	}
	if len(fired) != 2 {
		t.Errorf("fired %d times (%v), want 2", len(fired), fired)
	}
}

func TestDebouncer_StreakBoundsUnderRandomScores(t *testing.T) {
	t.Parallel()

	const level = 4
	cooldown := 500 * time.Millisecond
	d := wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: level, Cooldown: cooldown})
	rng := rand.New(rand.NewPCG(3, 9))
	now := time.Unix(0, 0)
	var last time.Time

	for i := range 20_000 {
		now = now.Add(time.Duration(rng.IntN(60)) * time.Millisecond)
		dec := d.Step(rng.Float64(), now)
		if dec.Streak < 0 || dec.Streak > level {
			t.Fatalf("step %d: streak %d out of [0, %d]", i, dec.Streak, level)
		}
		if dec.Fired {
			if !last.IsZero() && now.Sub(last) < cooldown {
				t.Fatalf("step %d: fired %v after previous trigger, cooldown %v", i, now.Sub(last), cooldown)
			}
			last = now
		}
	}
}

func TestDebouncer_ObserveTakesMaxAndSkipsFailures(t *testing.T) {
	t.Parallel()

	low := &fixedScorer{name: "low", scores: []float64{0.1, 0.1}}
	high := &fixedScorer{name: "high", scores: []float64{0.2, 0.8}}
	d := wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: 1}, low, failingScorer{}, high)

	now := time.Unix(0, 0)
	if dec := d.Observe(audio.Frame{}, now); dec.Score != 0.2 || dec.Fired {
		t.Fatalf("first frame: %+v, want score 0.2 and no fire", dec)
	}
	if dec := d.Observe(audio.Frame{}, now); dec.Score != 0.8 || !dec.Fired {
		t.Fatalf("second frame: %+v, want score 0.8 and fire", dec)
	}
}

func TestIntervalTrigger(t *testing.T) {
	t.Parallel()

	tr := wake.NewIntervalTrigger(time.Second)
	t0 := time.Unix(0, 0)
	if tr.Observe(audio.Frame{}, t0).Fired {
		t.Fatal("fired on the anchoring frame")
	}
	if tr.Observe(audio.Frame{}, t0.Add(999*time.Millisecond)).Fired {
		t.Fatal("fired before the interval elapsed")
	}
	if !tr.Observe(audio.Frame{}, t0.Add(time.Second)).Fired {
		t.Fatal("did not fire after the interval")
	}

	tr.Reset()
	if tr.Observe(audio.Frame{}, t0.Add(5*time.Second)).Fired {
		t.Fatal("fired right after Reset")
	}
}

func TestManualTrigger(t *testing.T) {
	t.Parallel()

	var m wake.ManualTrigger
	if m.Observe(audio.Frame{}, time.Now()).Fired {
		t.Fatal("fired without a press")
	}
	m.Press()
	m.Press()
	m.Reset()
	if !m.Observe(audio.Frame{}, time.Now()).Fired {
		t.Fatal("press was lost")
	}
	if m.Observe(audio.Frame{}, time.Now()).Fired {
		t.Fatal("two presses before one frame must fire once")
	}
}

func TestNewTrigger_FallsBackWithoutScorers(t *testing.T) {
	t.Parallel()

	tr := wake.NewTrigger(wake.TriggerConfig{DummyInterval: 3 * time.Second}, nil)
	it, ok := tr.(*wake.IntervalTrigger)
	if !ok {
		t.Fatalf("got %T, want *wake.IntervalTrigger", tr)
	}
	if it.Interval != 3*time.Second {
		t.Errorf("interval = %v, want 3s", it.Interval)
	}

	manual := &wake.ManualTrigger{}
	tr = wake.NewTrigger(wake.TriggerConfig{Manual: manual}, []wake.Scorer{&fixedScorer{name: "x"}})
	combo, ok := tr.(wake.AnyTrigger)
	if !ok || len(combo) != 2 {
		t.Fatalf("got %T, want AnyTrigger of 2", tr)
	}
	if _, ok := combo[0].(*wake.Debouncer); !ok {
		t.Errorf("first member is %T, want *wake.Debouncer", combo[0])
	}
}

func TestDetector_RunSignalsWait(t *testing.T) {
	t.Parallel()

	scorer := &fixedScorer{name: "s", scores: []float64{0.9, 0.9, 0.9}}
	det := wake.NewDetector(
		wake.NewDebouncer(wake.DebounceConfig{Threshold: 0.5, TriggerLevel: 3}, scorer),
		1280,
	)

	if err := det.Run(context.Background(), &sliceSource{n: 5}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := det.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if det.Pending() {
		t.Error("event still latched after Wait")
	}
}

func TestDetector_LatchAutoResets(t *testing.T) {
	t.Parallel()

	det := wake.NewDetector(&wake.ManualTrigger{}, 160)
	det.Signal()
	det.Signal() // absorbed by the latch

	if err := det.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := det.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Wait: got %v, want deadline exceeded", err)
	}

	// A signal raised between two waits is not lost.
	det.Signal()
	if err := det.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after re-signal: %v", err)
	}
}

func TestDetector_RunReturnsContextError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceSource{n: 1_000_000}
	calls := 0
	src.step = func() {
		calls++
		if calls == 10 {
			cancel()
		}
	}
	det := wake.NewDetector(wake.NewIntervalTrigger(time.Hour), 160)
	err := det.Run(ctx, ctxSource{src})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

// ctxSource checks ctx before delegating, like a real buffer does.
type ctxSource struct{ *sliceSource }

func (s ctxSource) PullFrame(ctx context.Context, n int) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	return s.sliceSource.PullFrame(ctx, n)
}

func TestDetector_ObserverSeesEveryFrame(t *testing.T) {
	t.Parallel()

	var seen int
	det := wake.NewDetector(wake.NewIntervalTrigger(time.Hour), 160,
		wake.WithObserver(func(wake.Trigger, wake.Decision) { seen++ }),
		wake.WithClock(func() time.Time { return time.Unix(0, 0) }),
	)
	if err := det.Run(context.Background(), &sliceSource{n: 7}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != 7 {
		t.Errorf("observer saw %d frames, want 7", seen)
	}
}

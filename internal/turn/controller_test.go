package turn

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/waketurn/internal/arbiter"
	"github.com/MrWong99/waketurn/internal/dialog"
	"github.com/MrWong99/waketurn/internal/framebuf"
	"github.com/MrWong99/waketurn/internal/history"
	"github.com/MrWong99/waketurn/internal/observe"
	"github.com/MrWong99/waketurn/internal/ui"
	"github.com/MrWong99/waketurn/internal/utterance"
	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
	ttsmock "github.com/MrWong99/waketurn/pkg/provider/tts/mock"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

// journal is an ordered, shared log of everything the collaborators saw.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

func (j *journal) has(e string) bool { return slices.Contains(j.all(), e) }

func (j *journal) index(e string) int { return slices.Index(j.all(), e) }

type fakeListener struct {
	j          *journal
	pauseErr   error
	captureErr error
	wait       func(ctx context.Context) error
}

func (l *fakeListener) Wait(ctx context.Context) error {
	l.j.add("wait")
	if l.wait != nil {
		return l.wait(ctx)
	}
	return nil
}

func (l *fakeListener) Pause(context.Context) error {
	l.j.add("pause")
	return l.pauseErr
}

func (l *fakeListener) Resume(context.Context) error {
	l.j.add("resume")
	return nil
}

func (l *fakeListener) Capture(ctx context.Context, fn arbiter.CaptureFunc) error {
	l.j.add("capture")
	if l.captureErr != nil {
		return l.captureErr
	}
	buf := framebuf.New(4, 16000)
	buf.Close()
	return fn(ctx, framebuf.NewAccumulator(buf))
}

type fakeRecorder struct {
	res utterance.Result
	err error
}

func (r fakeRecorder) Record(context.Context, utterance.Source) (utterance.Result, error) {
	return r.res, r.err
}

type responderFunc func(ctx context.Context, text string) (dialog.Reply, error)

func (f responderFunc) Respond(ctx context.Context, text string) (dialog.Reply, error) {
	return f(ctx, text)
}

type fakePlayer struct {
	j       *journal
	err     error
	samples int
}

func (p *fakePlayer) Play(_ context.Context, seg *audio.Segment) error {
	p.j.add("play")
	for c := range seg.Chunks {
		p.samples += len(c)
	}
	if p.err != nil {
		return p.err
	}
	return seg.Err()
}

type fakeFiller struct{ j *journal }

func (f fakeFiller) Start(context.Context) { f.j.add("filler:start") }
func (f fakeFiller) Stop()                 { f.j.add("filler:stop") }

type sinkRecorder struct{ j *journal }

func (s sinkRecorder) SetState(st ui.State)      { s.j.add("state:" + string(st)) }
func (s sinkRecorder) ShowUser(text string)      { s.j.add("user:" + text) }
func (s sinkRecorder) ShowAssistant(text string) { s.j.add("assistant:" + text) }
func (s sinkRecorder) Toast(msg string)          { s.j.add("toast:" + msg) }
func (s sinkRecorder) Error(msg string)          { s.j.add("error") }
func (s sinkRecorder) Ping()                     { s.j.add("ping") }
func (s sinkRecorder) SetNetwork(ok bool) {
	if ok {
		s.j.add("net:up")
	} else {
		s.j.add("net:down")
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

type fixture struct {
	j        *journal
	listener *fakeListener
	tts      *ttsmock.Provider
	player   *fakePlayer
	store    *history.Memory
	reader   *sdkmetric.ManualReader
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := &journal{}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		j:        j,
		listener: &fakeListener{j: j},
		tts:      &ttsmock.Provider{Chunks: [][]float32{make([]float32, 160), make([]float32, 160)}},
		player:   &fakePlayer{j: j},
		store:    history.NewMemory(8),
		reader:   reader,
	}
	f.deps = Deps{
		Listener: f.listener,
		Recorder: fakeRecorder{res: utterance.Result{Samples: make([]float32, 8000), SampleRate: 16000}},
		STT: stt.Func(func(_ context.Context, samples []float32, rate int) (string, error) {
			j.add("stt")
			return " what time is it ", nil
		}),
		Responder: responderFunc(func(_ context.Context, text string) (dialog.Reply, error) {
			j.add("respond:" + text)
			return dialog.Reply{Text: "It is late."}, nil
		}),
		TTS:     f.tts,
		Player:  f.player,
		Sink:    sinkRecorder{j: j},
		Filler:  fakeFiller{j: j},
		History: f.store,
		Metrics: met,
	}
	return f
}

func (f *fixture) controller(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	c, err := New(f.deps, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func turnCount(t *testing.T, reader *sdkmetric.ManualReader, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "waketurn.turns" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == outcome {
					return dp.Value
				}
			}
		}
	}
	return 0
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{})
	if err == nil {
		t.Fatal("expected error for empty deps")
	}
	for _, want := range []string{"listener", "recorder", "stt", "responder", "tts", "player"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRunTurn_Replied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.controller(t, WithIDGenerator(func() string { return "turn-1" }))

	rec := c.RunTurn(context.Background())

	if rec.Outcome != history.OutcomeReplied {
		t.Fatalf("outcome = %q, want replied (err %q)", rec.Outcome, rec.Error)
	}
	if rec.TurnID != "turn-1" {
		t.Errorf("turn id = %q, want turn-1", rec.TurnID)
	}
	if rec.UserText != "what time is it" || rec.ReplyText != "It is late." {
		t.Errorf("texts = %q / %q", rec.UserText, rec.ReplyText)
	}
	for _, st := range []string{StageCapture, StageSTT, StageLLM, StageTTS} {
		if _, ok := rec.Stages[st]; !ok {
			t.Errorf("missing stage timing %q", st)
		}
	}

	want := []string{
		"state:listening", "pause", "capture",
		"state:transcribing", "stt", "user:what time is it",
		"state:thinking", "filler:start", "respond:what time is it", "filler:stop",
		"state:speaking", "assistant:It is late.", "play",
		"state:idle", "resume",
	}
	if got := f.j.all(); !slices.Equal(got, want) {
		t.Errorf("journal =\n  %v\nwant\n  %v", got, want)
	}
	if f.player.samples != 320 {
		t.Errorf("played %d samples, want 320", f.player.samples)
	}
	if texts := f.tts.Texts(); len(texts) != 1 || texts[0] != "It is late." {
		t.Errorf("tts texts = %v", texts)
	}

	recent, _ := f.store.Recent(context.Background(), 10)
	if len(recent) != 1 || recent[0].TurnID != "turn-1" {
		t.Errorf("history = %+v", recent)
	}
	if got := turnCount(t, f.reader, "replied"); got != 1 {
		t.Errorf("replied turns metric = %d, want 1", got)
	}
}

func TestRunTurn_NoSpeech(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deps.STT = stt.Func(func(context.Context, []float32, int) (string, error) { return "   ", nil })
	responded := false
	f.deps.Responder = responderFunc(func(context.Context, string) (dialog.Reply, error) {
		responded = true
		return dialog.Reply{}, nil
	})
	c := f.controller(t)

	rec := c.RunTurn(context.Background())

	if rec.Outcome != history.OutcomeNoSpeech {
		t.Fatalf("outcome = %q, want no_speech", rec.Outcome)
	}
	if responded {
		t.Error("responder called for empty transcript")
	}
	if !f.j.has("toast:" + NoticeNoSpeech) {
		t.Errorf("missing no-speech toast in %v", f.j.all())
	}
	if f.j.has("error") {
		t.Error("empty transcript reported as error")
	}
	if !f.j.has("state:idle") || !f.j.has("resume") {
		t.Errorf("turn did not return to idle and re-arm: %v", f.j.all())
	}
}

func TestRunTurn_SilentReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deps.Responder = responderFunc(func(context.Context, string) (dialog.Reply, error) {
		return dialog.Reply{Text: "  ", Actions: []dialog.Action{
			{Name: "set_timer", Arguments: json.RawMessage(`{"minutes":5}`)},
		}}, nil
	})
	c := f.controller(t)

	rec := c.RunTurn(context.Background())

	if rec.Outcome != history.OutcomeSilent {
		t.Fatalf("outcome = %q, want silent_reply", rec.Outcome)
	}
	if len(rec.Actions) != 1 || rec.Actions[0].Name != "set_timer" {
		t.Errorf("actions = %+v", rec.Actions)
	}
	if len(f.tts.Calls()) != 0 {
		t.Error("tts called for empty reply")
	}
	if f.j.has("state:speaking") {
		t.Error("speaking state shown for empty reply")
	}
}

func TestRunTurn_FailuresCaughtAtBoundary(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(f *fixture)
		stage string
	}{
		{
			name:  "pause",
			setup: func(f *fixture) { f.listener.pauseErr = boom },
			stage: StagePause,
		},
		{
			name:  "device",
			setup: func(f *fixture) { f.listener.captureErr = boom },
			stage: StageCapture,
		},
		{
			name:  "recorder",
			setup: func(f *fixture) { f.deps.Recorder = fakeRecorder{err: boom} },
			stage: StageCapture,
		},
		{
			name: "stt",
			setup: func(f *fixture) {
				f.deps.STT = stt.Func(func(context.Context, []float32, int) (string, error) { return "", boom })
			},
			stage: StageSTT,
		},
		{
			name: "llm",
			setup: func(f *fixture) {
				f.deps.Responder = responderFunc(func(context.Context, string) (dialog.Reply, error) {
					return dialog.Reply{}, boom
				})
			},
			stage: StageLLM,
		},
		{
			name:  "tts",
			setup: func(f *fixture) { f.tts.Err = boom },
			stage: StageTTS,
		},
		{
			name:  "tts stream",
			setup: func(f *fixture) { f.tts.StreamErr = boom },
			stage: StageTTS,
		},
		{
			name:  "playback",
			setup: func(f *fixture) { f.player.err = boom },
			stage: StageTTS,
		},
		{
			name: "panic",
			setup: func(f *fixture) {
				f.deps.Responder = responderFunc(func(context.Context, string) (dialog.Reply, error) {
					panic("responder exploded")
				})
			},
			stage: StagePanic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tt.setup(f)
			c := f.controller(t)

			rec := c.RunTurn(context.Background())

			if rec.Outcome != history.OutcomeFailed {
				t.Fatalf("outcome = %q, want failed", rec.Outcome)
			}
			if rec.Error == "" {
				t.Error("record has no error text")
			}
			if !f.j.has("error") {
				t.Error("sink did not receive an error")
			}
			entries := f.j.all()
			if entries[len(entries)-2] != "state:idle" || entries[len(entries)-1] != "resume" {
				t.Errorf("turn did not end idle and re-armed: %v", entries)
			}
			if f.j.has("filler:start") && f.j.index("filler:stop") < f.j.index("filler:start") {
				t.Error("filler left running")
			}
			if got := turnCount(t, f.reader, "failed"); got != 1 {
				t.Errorf("failed turns metric = %d, want 1", got)
			}
			recent, _ := f.store.Recent(context.Background(), 1)
			if len(recent) != 1 || recent[0].Outcome != history.OutcomeFailed {
				t.Errorf("history = %+v", recent)
			}
			if prefix := "turn: " + tt.stage + ":"; !strings.HasPrefix(rec.Error, prefix) {
				t.Errorf("error %q not attributed to stage (want prefix %q)", rec.Error, prefix)
			}
		})
	}
}

func TestStageOf(t *testing.T) {
	t.Parallel()
	err := &stageError{stage: StageSTT, err: context.DeadlineExceeded}
	if got := StageOf(err); got != StageSTT {
		t.Errorf("StageOf = %q, want stt", got)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("stage error does not unwrap")
	}
	if got := StageOf(errors.New("plain")); got != "" {
		t.Errorf("StageOf(plain) = %q, want empty", got)
	}
}

func TestRunTurn_FillerStoppedBeforeReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.controller(t)
	c.RunTurn(context.Background())

	stop, play := f.j.index("filler:stop"), f.j.index("play")
	if stop < 0 || play < 0 || stop > play {
		t.Errorf("filler stop at %d, play at %d: %v", stop, play, f.j.all())
	}
}

func TestRunTurn_SetRecorderAndFiller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.controller(t)
	c.SetFiller(nil)
	c.SetRecorder(fakeRecorder{err: errors.New("mic gone")})

	rec := c.RunTurn(context.Background())

	if rec.Outcome != history.OutcomeFailed || !strings.Contains(rec.Error, "mic gone") {
		t.Errorf("record = %+v", rec)
	}
	if f.j.has("filler:start") {
		t.Error("disabled filler was started")
	}
}

type flakyNetwork struct {
	mu      sync.Mutex
	results []bool
}

func (n *flakyNetwork) OK(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.results) == 0 {
		return true
	}
	r := n.results[0]
	n.results = n.results[1:]
	return r
}

func TestRun_NetworkWaitThenTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.deps.Network = &flakyNetwork{results: []bool{false, false, true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := 0
	f.listener.wait = func(ctx context.Context) error {
		waits++
		if waits == 1 {
			return nil
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	c := f.controller(t, WithRetryInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	entries := f.j.all()
	if got := slices.Index(entries, "net:down"); got < 0 {
		t.Fatalf("network down never shown: %v", entries)
	}
	toasts := 0
	for _, e := range entries {
		if e == "toast:"+NoticeNetworkDown {
			toasts++
		}
	}
	if toasts != 2 {
		t.Errorf("network toasts = %d, want 2", toasts)
	}
	downs := 0
	for _, e := range entries {
		if e == "net:down" {
			downs++
		}
	}
	if downs != 1 {
		t.Errorf("net:down shown %d times, want once per change", downs)
	}
	if f.j.index("net:up") > f.j.index("ping") || f.j.index("ping") > f.j.index("state:listening") {
		t.Errorf("unexpected ordering: %v", entries)
	}
	if got := turnCount(t, f.reader, "replied"); got != 1 {
		t.Errorf("replied turns = %d, want 1", got)
	}
}

func TestSession_Stages(t *testing.T) {
	t.Parallel()
	s := newSession("", time.Unix(0, 0))
	if s.ID == "" {
		t.Fatal("session without ID")
	}
	s.Observe(StageSTT, time.Second)
	s.Observe(StageSTT, time.Second)
	got := s.Stages()
	if got[StageSTT] != 2*time.Second {
		t.Errorf("stt = %v, want 2s", got[StageSTT])
	}
	got[StageSTT] = 0
	if s.Stages()[StageSTT] != 2*time.Second {
		t.Error("Stages returned a shared map")
	}
}

func TestController_BusyDuringTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var c *Controller
	var during bool
	f.deps.Responder = responderFunc(func(context.Context, string) (dialog.Reply, error) {
		during = c.Busy()
		return dialog.Reply{Text: "ok"}, nil
	})
	c = f.controller(t)

	if c.Busy() {
		t.Fatal("busy before any turn")
	}
	c.RunTurn(context.Background())
	if !during {
		t.Error("Busy() should be true while the turn runs")
	}
	if c.Busy() {
		t.Error("Busy() should be false after the turn")
	}
}

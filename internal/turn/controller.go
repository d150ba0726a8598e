// Package turn runs the wake → capture → reply loop.
//
// A [Controller] waits for the wake detector, hands the input device to an
// utterance capture, sends the recording through speech recognition, the
// dialog responder and speech synthesis, and plays the reply. Every failure
// inside a turn, panics included, is caught at the turn boundary and shown
// on the presentation sink; the loop itself only stops when its context is
// cancelled.
package turn

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/waketurn/internal/arbiter"
	"github.com/MrWong99/waketurn/internal/dialog"
	"github.com/MrWong99/waketurn/internal/framebuf"
	"github.com/MrWong99/waketurn/internal/history"
	"github.com/MrWong99/waketurn/internal/observe"
	"github.com/MrWong99/waketurn/internal/ui"
	"github.com/MrWong99/waketurn/internal/utterance"
	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// Notices shown on the presentation sink.
const (
	NoticeNoSpeech    = "didn't catch that"
	NoticeNetworkDown = "network down, waiting…"
)

// DefaultRetryInterval is the pause between network checks while offline.
const DefaultRetryInterval = time.Second

// Listener owns the input device. [*arbiter.Arbiter] implements it.
type Listener interface {
	Wait(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Capture(ctx context.Context, fn arbiter.CaptureFunc) error
}

// Recorder records one utterance. [*utterance.Capture] implements it.
type Recorder interface {
	Record(ctx context.Context, src utterance.Source) (utterance.Result, error)
}

// Responder produces the assistant's reply. [*dialog.Responder] implements
// it.
type Responder interface {
	Respond(ctx context.Context, text string) (dialog.Reply, error)
}

// Player plays a segment to completion. [*playback.Pipeline] implements it.
type Player interface {
	Play(ctx context.Context, seg *audio.Segment) error
}

// Filler covers the thinking gap. [*filler.Scheduler] implements it.
type Filler interface {
	Start(ctx context.Context)
	Stop()
}

// Network reports reachability. [*netwatch.Probe] implements it.
type Network interface {
	OK(ctx context.Context) bool
}

// Deps are the collaborators of a [Controller]. Listener, Recorder, STT,
// Responder, TTS and Player are required.
type Deps struct {
	Listener  Listener
	Recorder  Recorder
	STT       stt.Provider
	Responder Responder
	TTS       tts.Provider
	Player    Player

	// Sink defaults to [ui.Discard]. It must not block; wrap slow sinks in
	// [ui.Async].
	Sink ui.Sink

	// Filler, Network and History are optional.
	Filler  Filler
	Network Network
	History history.Store

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	var errs []error
	if d.Listener == nil {
		errs = append(errs, errors.New("listener is required"))
	}
	if d.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if d.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if d.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithRetryInterval sets the pause between network checks and failed
// re-arms. Non-positive values are ignored.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retry = d
		}
	}
}

// WithClock replaces time.Now for turn timings.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator replaces the random UUID used as turn ID.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// Controller drives turns. Run must be called at most once at a time;
// RunTurn may be called directly for a single turn.
type Controller struct {
	listener  Listener
	stt       stt.Provider
	responder Responder
	tts       tts.Provider
	player    Player
	sink      ui.Sink
	network   Network
	history   history.Store
	metrics   *observe.Metrics

	retry time.Duration
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	recorder Recorder
	filler   Filler
	netKnown bool
	netUp    bool

	busy atomic.Bool
}

// New returns a Controller over deps.
func New(deps Deps, opts ...Option) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	c := &Controller{
		listener:  deps.Listener,
		recorder:  deps.Recorder,
		stt:       deps.STT,
		responder: deps.Responder,
		tts:       deps.TTS,
		player:    deps.Player,
		sink:      deps.Sink,
		filler:    deps.Filler,
		network:   deps.Network,
		history:   deps.History,
		metrics:   deps.Metrics,
		retry:     DefaultRetryInterval,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if c.sink == nil {
		c.sink = ui.Discard{}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Busy reports whether a turn is in progress.
func (c *Controller) Busy() bool { return c.busy.Load() }

// SetRecorder swaps the capture parameters used by the next turn.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// SetFiller swaps the filler used by the next turn. nil disables it.
func (c *Controller) SetFiller(f Filler) {
	c.mu.Lock()
	c.filler = f
	c.mu.Unlock()
}

// Run loops until ctx is cancelled: check the network, arm the listener,
// wait for a wake, run one turn. It returns nil on cancellation; no single
// turn can end it.
func (c *Controller) Run(ctx context.Context) error {
	c.sink.SetState(ui.StateIdle)
	for ctx.Err() == nil {
		if !c.checkNetwork(ctx) {
			c.sleep(ctx, c.retry)
			continue
		}
		if err := c.listener.Resume(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			observe.Logger(ctx).Error("turn: arm wake listener", "err", err)
			c.sink.Error(err.Error())
			c.sleep(ctx, c.retry)
			continue
		}
		if err := c.listener.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			observe.Logger(ctx).Warn("turn: wait for wake", "err", err)
			continue
		}
		c.sink.Ping()
		c.RunTurn(ctx)
	}
	return nil
}

// checkNetwork probes reachability and reports changes to the sink.
func (c *Controller) checkNetwork(ctx context.Context) bool {
	if c.network == nil {
		return true
	}
	up := c.network.OK(ctx)
	c.mu.Lock()
	changed := !c.netKnown || up != c.netUp
	c.netKnown, c.netUp = true, up
	c.mu.Unlock()

	if changed {
		c.sink.SetNetwork(up)
		c.metrics.SetNetwork(ctx, up)
		if up {
			observe.Logger(ctx).Info("turn: network up")
		} else {
			observe.Logger(ctx).Warn("turn: network down")
		}
	}
	if !up {
		c.sink.Toast(NoticeNetworkDown)
	}
	return up
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RunTurn runs one turn from capture to playback and returns its summary.
// It never panics and always leaves the sink idle and, unless ctx is done,
// the listener re-armed.
func (c *Controller) RunTurn(ctx context.Context) history.Record {
	c.busy.Store(true)
	defer c.busy.Store(false)

	s := newSession(c.newID(), c.now())
	ctx, span := observe.StartTurn(ctx, s.ID)
	defer span.End()
	log := observe.Logger(ctx)
	log.Info("turn: started")

	rec := history.Record{TurnID: s.ID, StartedAt: s.Start}
	err := c.guard(ctx, s, &rec)

	rec.Duration = c.now().Sub(s.Start)
	rec.Stages = s.Stages()
	var stage string
	if err != nil {
		rec.Outcome = history.OutcomeFailed
		rec.Error = err.Error()
		stage = StageOf(err)
		observe.Fail(span, err)
		log.Error("turn: failed", "stage", stage, "err", err)
		c.sink.Error(err.Error())
	}
	c.sink.SetState(ui.StateIdle)
	c.metrics.RecordTurn(ctx, string(rec.Outcome), stage, rec.Duration.Seconds())
	log.Info("turn: finished", "outcome", rec.Outcome, "duration", rec.Duration)

	if c.history != nil {
		if herr := c.history.Record(context.WithoutCancel(ctx), rec); herr != nil {
			log.Warn("turn: record history", "err", herr)
		}
	}
	if ctx.Err() == nil {
		if rerr := c.listener.Resume(ctx); rerr != nil {
			log.Error("turn: re-arm wake listener", "err", rerr)
		}
	}
	return rec
}

// guard runs the turn and converts a panic into an error.
func (c *Controller) guard(ctx context.Context, s *Session, rec *history.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("turn: panic", "panic", r, "stack", string(debug.Stack()))
			err = &stageError{stage: StagePanic, err: fmt.Errorf("%v", r)}
		}
	}()
	return c.turn(ctx, s, rec)
}

func (c *Controller) turn(ctx context.Context, s *Session, rec *history.Record) error {
	c.mu.Lock()
	recorder, fill := c.recorder, c.filler
	c.mu.Unlock()

	c.sink.SetState(ui.StateListening)
	if err := c.listener.Pause(ctx); err != nil {
		return &stageError{stage: StagePause, err: err}
	}

	var res utterance.Result
	err := c.stage(ctx, s, StageCapture, func(ctx context.Context) error {
		return c.listener.Capture(ctx, func(ctx context.Context, acc *framebuf.Accumulator) error {
			var err error
			res, err = recorder.Record(ctx, acc)
			return err
		})
	})
	if err != nil {
		return err
	}
	c.metrics.CaptureDuration.Record(ctx, res.Duration().Seconds())
	observe.Logger(ctx).Debug("turn: captured", "duration", res.Duration(), "reason", res.Reason)

	c.sink.SetState(ui.StateTranscribing)
	var text string
	err = c.stage(ctx, s, StageSTT, func(ctx context.Context) error {
		var err error
		text, err = c.stt.Transcribe(ctx, res.Samples, res.SampleRate)
		return err
	})
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		rec.Outcome = history.OutcomeNoSpeech
		c.sink.Toast(NoticeNoSpeech)
		return nil
	}
	rec.UserText = text
	c.sink.ShowUser(text)

	c.sink.SetState(ui.StateThinking)
	var reply dialog.Reply
	err = c.stage(ctx, s, StageLLM, func(ctx context.Context) error {
		if fill != nil {
			fill.Start(ctx)
			defer fill.Stop()
		}
		var err error
		reply, err = c.responder.Respond(ctx, text)
		return err
	})
	if err != nil {
		return err
	}
	for _, a := range reply.Actions {
		rec.Actions = append(rec.Actions, history.Action{Name: a.Name, Arguments: a.Arguments})
		observe.Logger(ctx).Info("turn: action requested", "action", a.Name, "args", string(a.Arguments))
	}

	replyText := strings.TrimSpace(reply.Text)
	if replyText == "" {
		rec.Outcome = history.OutcomeSilent
		return nil
	}
	rec.ReplyText = replyText
	if reply.Truncated {
		observe.Logger(ctx).Warn("turn: reply cut at token cap", "chars", len(replyText))
	}

	c.sink.SetState(ui.StateSpeaking)
	c.sink.ShowAssistant(replyText)
	err = c.stage(ctx, s, StageTTS, func(ctx context.Context) error {
		seg, err := c.tts.Synthesize(ctx, replyText)
		if err != nil {
			return err
		}
		return c.player.Play(ctx, seg)
	})
	if err != nil {
		return err
	}
	rec.Outcome = history.OutcomeReplied
	return nil
}

// stage runs fn in a child span, times it into s and the stage histogram,
// and tags any error with the stage name.
func (c *Controller) stage(ctx context.Context, s *Session, name string, fn func(context.Context) error) error {
	ctx, span := observe.StartStage(ctx, name)
	defer span.End()

	start := c.now()
	err := fn(ctx)
	elapsed := c.now().Sub(start)
	s.Observe(name, elapsed)

	switch name {
	case StageSTT:
		c.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	case StageLLM:
		c.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	case StageTTS:
		c.metrics.TTSDuration.Record(ctx, elapsed.Seconds())
	}
	if err != nil {
		observe.Fail(span, err)
		return &stageError{stage: name, err: err}
	}
	return nil
}

// StageOf returns the stage a turn error was attributed to, or "" for
// errors that did not come from a turn.
func StageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return ""
}

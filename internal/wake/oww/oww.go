// Package oww scores wake phrases with openWakeWord ONNX models through
// github.com/yalue/onnxruntime_go.
//
// openWakeWord is a three-stage pipeline: a shared melspectrogram model and
// a shared speech-embedding model feed one small classifier per wake phrase.
// [Pipeline] owns the shared stages; each classifier is exposed as a
// [Model] that satisfies wake.Scorer, so several phrases can be scored from
// the same features.
package oww

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/waketurn/internal/wake"
)

// Pipeline geometry, fixed by the openWakeWord feature models.
const (
	// SampleRate is the only rate the models accept.
	SampleRate = 16000

	// FrameSamples is the analysis frame: 80 ms at 16 kHz.
	FrameSamples = 1280

	melBins      = 32
	melPerFrame  = 5  // mel frames produced per 1280-sample frame
	melWindow    = 76 // mel frames per embedding
	melStep      = 8  // mel frames between embeddings
	embeddingDim = 96
	embedFrames  = 16 // embeddings per classifier input
	int16Scale   = 32767
)

// ErrFrameSize is returned when a frame is not [FrameSamples] long.
var ErrFrameSize = errors.New("oww: frame must be 1280 samples at 16 kHz")

// CheckFormat reports whether audio at sampleRate, cut into frames of
// frameSamples, can be scored. Mismatches wrap [ErrFrameSize].
func CheckFormat(sampleRate, frameSamples int) error {
	if sampleRate != SampleRate || frameSamples != FrameSamples {
		return fmt.Errorf("%w: got %d samples at %d Hz", ErrFrameSize, frameSamples, sampleRate)
	}
	return nil
}

var (
	envOnce sync.Once
	envErr  error
)

// Config points at the model files.
type Config struct {
	// Library is the path to the ONNX Runtime shared library. Empty uses the
	// onnxruntime_go default lookup.
	Library string

	// Melspectrogram and Embedding are the shared feature models.
	Melspectrogram string
	Embedding      string

	// Wakewords are classifier models, one per phrase. The file name without
	// extension becomes the scorer name.
	Wakewords []string
}

// Pipeline holds the shared feature stages and the per-phrase classifiers.
// It is driven by a single goroutine.
type Pipeline struct {
	mu sync.Mutex

	melIn, melOut     *ort.Tensor[float32]
	melSess           *ort.AdvancedSession
	embedIn, embedOut *ort.Tensor[float32]
	embedSess         *ort.AdvancedSession

	models []*Model

	melBuf   []float32
	embedBuf []float32 // embedFrames × embeddingDim, oldest first
	lastKey  *float32  // first sample of the last processed frame
	fresh    bool      // a new embedding arrived for the last frame

	destroy []func() error
}

// Load checks every model file, initialises ONNX Runtime, and builds the
// sessions. A missing file is reported as an error wrapping os.ErrNotExist
// so callers can fall back to a model-free trigger.
func Load(cfg Config) (*Pipeline, error) {
	if len(cfg.Wakewords) == 0 {
		return nil, fmt.Errorf("oww: no wakeword models configured: %w", os.ErrNotExist)
	}
	for _, p := range append([]string{cfg.Melspectrogram, cfg.Embedding}, cfg.Wakewords...) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("oww: model %q: %w", p, err)
		}
	}

	envOnce.Do(func() {
		if cfg.Library != "" {
			ort.SetSharedLibraryPath(cfg.Library)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("oww: initialize onnxruntime: %w", envErr)
	}

	p := &Pipeline{
		melBuf:   make([]float32, 0, 2*melWindow*melBins),
		embedBuf: make([]float32, embedFrames*embeddingDim),
	}
	var err error
	if p.melIn, p.melOut, p.melSess, err = p.session(cfg.Melspectrogram,
		ort.NewShape(1, FrameSamples), ort.NewShape(1, 1, melPerFrame, melBins)); err != nil {
		p.Close()
		return nil, err
	}
	if p.embedIn, p.embedOut, p.embedSess, err = p.session(cfg.Embedding,
		ort.NewShape(1, melWindow, melBins, 1), ort.NewShape(1, 1, 1, embeddingDim)); err != nil {
		p.Close()
		return nil, err
	}
	for _, path := range cfg.Wakewords {
		in, out, sess, err := p.session(path, ort.NewShape(1, embedFrames, embeddingDim), ort.NewShape(1, 1))
		if err != nil {
			p.Close()
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		p.models = append(p.models, &Model{name: name, p: p, in: in, out: out, sess: sess})
	}
	return p, nil
}

func (p *Pipeline) session(path string, inShape, outShape ort.Shape) (*ort.Tensor[float32], *ort.Tensor[float32], *ort.AdvancedSession, error) {
	in, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oww: %s: input tensor: %w", path, err)
	}
	p.destroy = append(p.destroy, in.Destroy)
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oww: %s: output tensor: %w", path, err)
	}
	p.destroy = append(p.destroy, out.Destroy)

	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oww: %s: inspect: %w", path, err)
	}
	sess, err := ort.NewAdvancedSession(path,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out}, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("oww: %s: session: %w", path, err)
	}
	p.destroy = append(p.destroy, sess.Destroy)
	return in, out, sess, nil
}

// Scorers returns one scorer per loaded wakeword model.
func (p *Pipeline) Scorers() []wake.Scorer {
	out := make([]wake.Scorer, len(p.models))
	for i, m := range p.models {
		out[i] = m
	}
	return out
}

// Close destroys all sessions and tensors. The ONNX Runtime environment
// stays initialised for the life of the process.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.destroy) - 1; i >= 0; i-- {
		errs = append(errs, p.destroy[i]())
	}
	p.destroy = nil
	return errors.Join(errs...)
}

// advance runs the feature stages for frame once; later calls with the same
// frame are no-ops so every classifier sees the same embeddings.
func (p *Pipeline) advance(frame []float32) error {
	if len(frame) != FrameSamples {
		return ErrFrameSize
	}
	if p.lastKey == &frame[0] {
		return nil
	}
	p.lastKey = &frame[0]
	p.fresh = false

	in := p.melIn.GetData()
	for i, s := range frame {
		in[i] = s * int16Scale
	}
	if err := p.melSess.Run(); err != nil {
		return fmt.Errorf("oww: melspectrogram: %w", err)
	}
	for _, v := range p.melOut.GetData()[:melPerFrame*melBins] {
		p.melBuf = append(p.melBuf, v/10+2)
	}

	for len(p.melBuf) >= melWindow*melBins {
		copy(p.embedIn.GetData(), p.melBuf[:melWindow*melBins])
		if err := p.embedSess.Run(); err != nil {
			return fmt.Errorf("oww: embedding: %w", err)
		}
		copy(p.embedBuf, p.embedBuf[embeddingDim:])
		copy(p.embedBuf[(embedFrames-1)*embeddingDim:], p.embedOut.GetData()[:embeddingDim])
		n := copy(p.melBuf, p.melBuf[melStep*melBins:])
		p.melBuf = p.melBuf[:n]
		p.fresh = true
	}
	return nil
}

// Model is one wake-phrase classifier.
type Model struct {
	name string
	p    *Pipeline

	in, out *ort.Tensor[float32]
	sess    *ort.AdvancedSession
	last    float64
}

var _ wake.Scorer = (*Model)(nil)

// Name implements wake.Scorer.
func (m *Model) Name() string { return m.name }

// Score implements wake.Scorer. Between embedding updates the previous
// score is held.
func (m *Model) Score(frame []float32) (float64, error) {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()

	if err := m.p.advance(frame); err != nil {
		return 0, err
	}
	if !m.p.fresh {
		return m.last, nil
	}
	copy(m.in.GetData(), m.p.embedBuf)
	if err := m.sess.Run(); err != nil {
		return 0, fmt.Errorf("oww: %s: classify: %w", m.name, err)
	}
	m.last = float64(m.out.GetData()[0])
	return m.last, nil
}

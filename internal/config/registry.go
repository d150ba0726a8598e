package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/waketurn/pkg/audio"
	"github.com/MrWong99/waketurn/pkg/provider/llm"
	"github.com/MrWong99/waketurn/pkg/provider/stt"
	"github.com/MrWong99/waketurn/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a backend from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

// Registry maps provider names to their constructors for each backend kind.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[llm.Provider]
	stt   factories[stt.Provider]
	tts   factories[tts.Provider]
	audio factories[audio.Device]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   newFactories[llm.Provider]("llm"),
		stt:   newFactories[stt.Provider]("stt"),
		tts:   newFactories[tts.Provider]("tts"),
		audio: newFactories[audio.Device]("audio"),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Device]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreateAudio opens the audio backend registered under name.
func (r *Registry) CreateAudio(name string) (audio.Device, error) {
	return r.audio.create(&r.mu, ProviderEntry{Name: name})
}

// Names returns the sorted registered names for kind (llm, stt, tts or
// audio).
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm.m))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt.m))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.m))
	case "audio":
		return slices.Sorted(maps.Keys(r.audio.m))
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps names to constructor functions for realtime providers and
// audio hosts. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realtime map[string]func(RealtimeConfig) (realtime.Provider, error)
	audio    map[string]func(AudioConfig) (audio.Host, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime: make(map[string]func(RealtimeConfig) (realtime.Provider, error)),
		audio:    make(map[string]func(AudioConfig) (audio.Host, error)),
	}
}

// RegisterRealtime registers a realtime provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(RealtimeConfig) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterAudio registers an audio host factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Host, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateRealtime instantiates the realtime provider registered under
// cfg.Provider. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateRealtime(cfg RealtimeConfig) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.realtime[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateAudio instantiates the audio host registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Host, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Names returns the sorted registered names for kind ("realtime" or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "realtime":
		for n := range r.realtime {
			names = append(names, n)
		}
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}

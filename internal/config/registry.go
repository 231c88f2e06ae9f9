package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/MrWong99/voxorder/pkg/audio"
)

// ErrSourceNotRegistered is returned by [Registry.CreateDevice] when no
// factory is registered under the configured audio source.
var ErrSourceNotRegistered = errors.New("config: audio source not registered")

// DeviceFactory builds a microphone from the audio section.
type DeviceFactory func(AudioConfig) (audio.Device, error)

// Registry maps audio source names to device constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
}

// NewRegistry returns a registry with the built-in "file" and "stdin"
// sources, both reading PCM16 paced in real time.
func NewRegistry() *Registry {
	r := &Registry{devices: make(map[string]DeviceFactory)}
	r.RegisterDevice("file", func(c AudioConfig) (audio.Device, error) {
		f, err := os.Open(c.Path)
		if err != nil {
			return nil, fmt.Errorf("config: open audio file: %w", err)
		}
		return &audio.ReaderDevice{R: f, SampleRate: c.SampleRate, Channels: c.Channels}, nil
	})
	r.RegisterDevice("stdin", func(c AudioConfig) (audio.Device, error) {
		return &audio.ReaderDevice{R: os.Stdin, SampleRate: c.SampleRate, Channels: c.Channels}, nil
	})
	return r
}

// RegisterDevice adds or replaces the factory for name.
func (r *Registry) RegisterDevice(name string, f DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = f
}

// Sources returns the registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.devices))
}

// CreateDevice builds the device selected by c.Source.
func (r *Registry) CreateDevice(c AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	f, ok := r.devices[c.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrSourceNotRegistered, c.Source, r.Sources())
	}
	return f(c)
}

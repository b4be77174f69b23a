package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// ErrPlatformNotRegistered is returned by [Registry.CreatePlatform] when no
// factory has been registered under the requested platform name.
var ErrPlatformNotRegistered = errors.New("config: platform not registered")

// Registry maps platform names to their constructor functions. Factories
// receive the endpoint block so they can read tokens and platform options.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[PlatformName]func(EndpointConfig) (audio.Platform, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		platforms: make(map[PlatformName]func(EndpointConfig) (audio.Platform, error)),
	}
}

// RegisterPlatform registers an audio platform factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterPlatform(name PlatformName, factory func(EndpointConfig) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[name] = factory
}

// CreatePlatform instantiates an audio platform using the factory registered
// under ep.Platform. Returns [ErrPlatformNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreatePlatform(ep EndpointConfig) (audio.Platform, error) {
	r.mu.RLock()
	factory, ok := r.platforms[ep.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlatformNotRegistered, ep.Platform)
	}
	return factory(ep)
}

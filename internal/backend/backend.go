package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Built-in backend names.
const (
	Accumulator = "accumulator"
	CTCDecode   = "ctc_decode"
)

// Model is the contract a serving backend implements. Initialize is called
// once before any Execute, Finalize once after the last.
type Model interface {
	Initialize(cfg ModelConfig) error
	// Execute returns exactly one response per request, in request order.
	// Per-request failures are reported in InferenceResponse.Error.
	Execute(ctx context.Context, requests []*InferenceRequest) []*InferenceResponse
	Finalize() error
	Metadata() ModelMetadata
}

// Factory creates an uninitialized Model.
type Factory func() Model

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backend %q registered twice", name))
	}
	registry[name] = factory
}

// Normalize canonicalizes a backend name and checks it is registered.
func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	registryMu.RLock()
	_, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown backend %q (expected %s)", name, strings.Join(Backends(), ", "))
	}
	return backend, nil
}

// New returns a fresh, uninitialized model for the named backend.
func New(name string) (Model, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	factory := registry[backend]
	registryMu.RUnlock()
	return factory(), nil
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

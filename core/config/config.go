package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParsingFailed is returned when environment variables cannot be
// parsed into the target struct.
var ErrParsingFailed = errors.New("failed to parse environment variables")

var (
	mu       sync.Mutex
	cache    = make(map[reflect.Type]any)
	loadEnvs = sync.OnceFunc(func() {
		// Missing .env files are fine; real environments set variables
		// directly.
		_ = godotenv.Load()
	})
)

// Load populates cfg from environment variables. The first call for a
// given type parses the environment; subsequent calls return the cached
// value.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil target", ErrParsingFailed)
	}

	loadEnvs()

	key := reflect.TypeOf(*cfg)

	mu.Lock()
	defer mu.Unlock()

	if cached, ok := cache[key]; ok {
		*cfg = cached.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParsingFailed, err)
	}

	cache[key] = *cfg
	return nil
}

// MustLoad is like Load but panics on failure. Useful during startup
// when the application cannot run without its configuration.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

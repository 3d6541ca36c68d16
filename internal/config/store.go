package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dagbolade/rasp-agent/internal/watch"
	"github.com/rs/zerolog/log"
)

// Store holds the active snapshot. Readers always see a complete,
// validated Config; a reload swaps the whole snapshot.
type Store struct {
	current atomic.Pointer[Config]
	path    string

	mu        sync.Mutex
	watcher   *watch.Watcher
	listeners []func(*Config)
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Open loads path and returns a store bound to it.
func Open(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := NewStore(cfg)
	s.path = path
	return s, nil
}

func (s *Store) Get() *Config {
	return s.current.Load()
}

func (s *Store) Set(cfg *Config) {
	s.current.Store(cfg)

	s.mu.Lock()
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to run after every successful swap.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload reads the bound file again. On failure the previous snapshot
// stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	s.Set(cfg)
	log.Info().Str("path", s.path).Msg("config reloaded")
	return nil
}

// Watch reloads the snapshot whenever the bound file changes.
func (s *Store) Watch() error {
	if s.path == "" {
		return fmt.Errorf("config store has no file to watch")
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	filter := func(path string) bool {
		p, err := filepath.Abs(path)
		return err == nil && p == abs
	}

	w, err := watch.New(filepath.Dir(abs), filter, func(string) {
		if err := s.Reload(); err != nil {
			log.Error().Err(err).Msg("keeping previous config")
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

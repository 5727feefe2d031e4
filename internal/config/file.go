package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration. Pool fields are newline-delimited blobs,
// matching the dashboard textareas they are edited through.
type File struct {
	Listen   string `yaml:"listen"`
	EntryURL string `yaml:"entry_url"`
	Headless *bool  `yaml:"headless,omitempty"`

	WelcomeTexts   string `yaml:"welcome_texts"`
	ReplyTemplates string `yaml:"reply_templates"`
	Proxies        string `yaml:"proxies"`
	UserAgents     string `yaml:"user_agents"`

	AutoReply *bool `yaml:"auto_reply,omitempty"`

	DebounceWaitTimeMs   int `yaml:"debounce_wait_time_ms"`
	DebounceNewMessageMs int `yaml:"debounce_new_message_ms"`
	RestartDelaySec      int `yaml:"restart_delay_sec"`
}

// DefaultFile returns the configuration used when no file exists yet.
func DefaultFile() File {
	return File{Listen: "127.0.0.1:3000"}
}

// Load reads the YAML config at path. A missing file yields defaults.
func Load(path string) (File, error) {
	f := DefaultFile()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return DefaultFile(), fmt.Errorf("parse config: %w", err)
	}
	if f.Listen == "" {
		f.Listen = DefaultFile().Listen
	}
	return f, nil
}

// Save writes the config back to path, creating parent directories.
func Save(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Session expands the file into a per-session config.
func (f File) Session() Session {
	s := DefaultSession()
	s.EntryURL = f.EntryURL
	s.WelcomeTexts = SplitPool(f.WelcomeTexts)
	s.ReplyTemplates = SplitPool(f.ReplyTemplates)
	s.ProxyPool = SplitPool(f.Proxies)
	if ua := SplitPool(f.UserAgents); len(ua) > 0 {
		s.UserAgents = ua
	}
	if f.AutoReply != nil {
		s.AutoReply = *f.AutoReply
	}
	if f.Headless != nil {
		s.Headless = *f.Headless
	}
	if f.DebounceWaitTimeMs > 0 {
		s.DebounceWaitTime = time.Duration(f.DebounceWaitTimeMs) * time.Millisecond
	}
	if f.DebounceNewMessageMs > 0 {
		s.DebounceNewMessage = time.Duration(f.DebounceNewMessageMs) * time.Millisecond
	}
	if f.RestartDelaySec > 0 {
		s.RestartDelay = time.Duration(f.RestartDelaySec) * time.Second
	}
	s.Normalize()
	return s
}

// Store is the shared, mutable view of the config file. Sessions read their
// defaults from it at creation; the dashboard and the file watcher update it.
type Store struct {
	mu   sync.RWMutex
	path string
	file File
}

// NewStore wraps an already-loaded config file.
func NewStore(path string, f File) *Store {
	return &Store{path: path, file: f}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Current returns a copy of the current config.
func (s *Store) Current() File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file
}

// Replace swaps in a freshly-loaded config (used by the watcher).
func (s *Store) Replace(f File) {
	s.mu.Lock()
	s.file = f
	s.mu.Unlock()
}

// Update mutates the config under the lock and persists it.
func (s *Store) Update(fn func(*File)) error {
	s.mu.Lock()
	fn(&s.file)
	f := s.file
	s.mu.Unlock()
	return Save(s.path, f)
}

package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	defaultManager *Manager
	once           sync.Once
)

// Manager hands out named loggers that share one Config.
type Manager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	base    *Logger
	config  *Config
}

func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	base, err := NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create default logger: %w", err)
	}

	return &Manager{
		loggers: map[string]*Logger{"default": base},
		base:    base,
		config:  config,
	}, nil
}

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	once.Do(func() {
		defaultManager, _ = NewManager(DefaultConfig())
	})
	return defaultManager
}

// GetLogger returns the logger for a component, creating it on first use.
func (m *Manager) GetLogger(name string) *Logger {
	m.mu.RLock()
	logger, exists := m.loggers[name]
	m.mu.RUnlock()
	if exists {
		return logger
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if logger, exists := m.loggers[name]; exists {
		return logger
	}
	logger = m.base.With("module", name)
	m.loggers[name] = logger
	return logger
}

// Reconfigure rebuilds the base logger. Loggers handed out earlier keep
// their old handler, so it should run before components are constructed.
func (m *Manager) Reconfigure(config *Config) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	base, err := NewLogger(config)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	m.base = base
	m.loggers = map[string]*Logger{"default": base}
	slog.SetDefault(base.Logger)
	return nil
}

// UseLogger installs an already-built logger as the base.
func (m *Manager) UseLogger(l *Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = l
	m.config = l.config
	m.loggers = map[string]*Logger{"default": l}
}

// Configure applies config to the process-wide manager.
func Configure(config *Config) error {
	return GetManager().Reconfigure(config)
}

// GetLogger is shorthand for GetManager().GetLogger(name).
func GetLogger(name string) *Logger {
	return GetManager().GetLogger(name)
}

func Default() *Logger {
	return GetLogger("default")
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

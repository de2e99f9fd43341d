package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"screensync/internal/logging"
)

// BaseCommunication carries the status bookkeeping shared by channels and
// protocol clients.
type BaseCommunication struct {
	config        ConnectionConfig
	status        ConnectionStatus
	lastError     error
	eventHandlers []EventHandler
	errorHandler  ErrorHandler
	mutex         sync.RWMutex
	logger        *logging.Logger
}

func NewBaseCommunication(config ConnectionConfig, name string) *BaseCommunication {
	return &BaseCommunication{
		config:       config,
		status:       StatusDisconnected,
		errorHandler: DefaultErrorHandler{},
		logger:       logging.GetLogger(name),
	}
}

func (bc *BaseCommunication) Status() ConnectionStatus {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return bc.status
}

func (bc *BaseCommunication) SetStatus(status ConnectionStatus) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.status = status
}

func (bc *BaseCommunication) IsConnected() bool {
	return bc.Status() == StatusConnected
}

func (bc *BaseCommunication) SetLastError(err error) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.lastError = err
}

func (bc *BaseCommunication) LastError() error {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()
	return bc.lastError
}

func (bc *BaseCommunication) Logger() *logging.Logger {
	return bc.logger
}

func (bc *BaseCommunication) AddEventHandler(handler EventHandler) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.eventHandlers = append(bc.eventHandlers, handler)
}

func (bc *BaseCommunication) SetErrorHandler(handler ErrorHandler) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()
	bc.errorHandler = handler
}

// emitEvent calls every handler, recovering from handler panics.
func (bc *BaseCommunication) emitEvent(callback func(EventHandler)) {
	bc.mutex.RLock()
	handlers := make([]EventHandler, len(bc.eventHandlers))
	copy(handlers, bc.eventHandlers)
	bc.mutex.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bc.logger.Error("Event handler panic", "panic", r)
				}
			}()
			callback(handler)
		}()
	}
}

// MarkConnected records a successful open.
func (bc *BaseCommunication) MarkConnected() {
	bc.SetStatus(StatusConnected)
	bc.SetLastError(nil)
	bc.emitEvent(func(h EventHandler) { h.OnConnected() })
}

// MarkDisconnected records a close.
func (bc *BaseCommunication) MarkDisconnected() {
	bc.SetStatus(StatusDisconnected)
	bc.emitEvent(func(h EventHandler) { h.OnDisconnected() })
}

// HandleWithError records err, notifies handlers and returns it.
func (bc *BaseCommunication) HandleWithError(err error) error {
	bc.SetLastError(err)
	bc.emitEvent(func(h EventHandler) { h.OnError(err) })
	return err
}

// RetryWithTimeout runs operation up to RetryCount+1 times while the error
// handler allows it, waiting RetryInterval between attempts.
func (bc *BaseCommunication) RetryWithTimeout(ctx context.Context, operation func(ctx context.Context) error) error {
	bc.mutex.RLock()
	handler := bc.errorHandler
	bc.mutex.RUnlock()

	var lastErr error
	for i := 0; i <= bc.config.RetryCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		opCtx, cancel := ctx, context.CancelFunc(func() {})
		if bc.config.Timeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, bc.config.Timeout)
		}
		err := operation(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if handler != nil && !handler.ShouldRetry(err) {
			return err
		}
		if i == bc.config.RetryCount {
			break
		}

		delay := bc.config.RetryInterval
		if handler != nil {
			if d := handler.GetRetryDelay(err); d > 0 {
				delay = d
			}
		}

		bc.logger.Warn("Retry after error", "attempt", i+1, "max_attempts", bc.config.RetryCount+1, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if bc.config.RetryCount == 0 {
		return lastErr
	}
	return fmt.Errorf("operation failed after %d attempts: %w", bc.config.RetryCount+1, lastErr)
}

// DefaultErrorHandler retries device errors that IsRetryable accepts.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) ShouldRetry(err error) bool {
	return IsRetryable(err)
}

func (DefaultErrorHandler) GetRetryDelay(err error) time.Duration {
	return 0
}

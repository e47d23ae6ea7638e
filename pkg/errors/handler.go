package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	CategoryService    ErrorCategory = "service"
	CategoryDiscord    ErrorCategory = "discord"
	CategoryStore      ErrorCategory = "store"
	CategoryConfig     ErrorCategory = "config"
	CategoryCommand    ErrorCategory = "command"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ServiceError represents a standardized error in the system
type ServiceError struct {
	Category    ErrorCategory  `json:"category"`
	Severity    ErrorSeverity  `json:"severity"`
	Message     string         `json:"message"`
	Operation   string         `json:"operation"`
	Component   string         `json:"component"`
	Cause       error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Recoverable bool           `json:"recoverable"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s in %s.%s: %v", e.Category, e.Severity, e.Message, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s in %s.%s", e.Category, e.Severity, e.Message, e.Component, e.Operation)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error with the specified parameters
func NewServiceError(category ErrorCategory, severity ErrorSeverity, component, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Severity:    severity,
		Message:     message,
		Operation:   operation,
		Component:   component,
		Cause:       cause,
		Timestamp:   time.Now(),
		Recoverable: true,
		Context:     make(map[string]any),
	}
}

// RetryStrategy defines retry behavior for different error categories
type RetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// ErrorHandler classifies, logs and optionally retries failures.
type ErrorHandler struct {
	retryStrategies map[ErrorCategory]RetryStrategy
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewErrorHandler creates a handler with the default retry table.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		retryStrategies: map[ErrorCategory]RetryStrategy{
			CategoryDiscord: {
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    10 * time.Second,
				Multiplier:  2.0,
			},
			CategoryNetwork: {
				MaxAttempts: 5,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    30 * time.Second,
				Multiplier:  2.0,
			},
			CategoryService: {
				MaxAttempts: 2,
				BaseDelay:   2 * time.Second,
				MaxDelay:    20 * time.Second,
				Multiplier:  3.0,
			},
		},
		sleep: sleepCtx,
	}
}

// SetRetryStrategy overrides the strategy for one category.
func (eh *ErrorHandler) SetRetryStrategy(category ErrorCategory, s RetryStrategy) {
	eh.retryStrategies[category] = s
}

// Handle logs err with its classification and returns the normalized error.
func (eh *ErrorHandler) Handle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	serviceErr := eh.normalizeError(err)
	eh.logError(serviceErr)
	return serviceErr
}

// HandleWithRetry executes fn, retrying recoverable failures per category.
func (eh *ErrorHandler) HandleWithRetry(ctx context.Context, operation, component string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		serviceErr := eh.normalizeError(err)
		serviceErr.Component = component
		serviceErr.Operation = operation

		if !serviceErr.Recoverable {
			return eh.Handle(ctx, serviceErr)
		}
		strategy, ok := eh.retryStrategies[serviceErr.Category]
		if !ok || attempt >= strategy.MaxAttempts {
			return eh.Handle(ctx, serviceErr)
		}

		delay := calculateDelay(strategy, attempt)
		log.ApplicationLogger().Warn("Operation failed, retrying", "attempt", attempt, "delay", delay, "component", component, "operation", operation, "err", err)
		if err := eh.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// ClassifyDiscordError maps a discordgo REST failure onto the sentinel taxonomy:
// 403 becomes ErrForbidden, 404 ErrNotFound and everything else ErrTransientIO.
func ClassifyDiscordError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return Wrap(ErrForbidden, operation, err)
		case http.StatusNotFound:
			return Wrap(ErrNotFound, operation, err)
		}
	}
	return Wrap(ErrTransientIO, operation, err)
}

func (eh *ErrorHandler) normalizeError(err error) *ServiceError {
	var serviceErr *ServiceError
	if As(err, &serviceErr) {
		return serviceErr
	}
	category := categorizeError(err)
	return &ServiceError{
		Category:    category,
		Severity:    severityForCategory(category),
		Message:     err.Error(),
		Operation:   "unknown",
		Component:   "unknown",
		Cause:       err,
		Timestamp:   time.Now(),
		Recoverable: isRecoverable(err),
		Context:     make(map[string]any),
	}
}

func categorizeError(err error) ErrorCategory {
	switch {
	case Is(err, ErrTransientIO):
		return CategoryDiscord
	case Is(err, ErrConflict), Is(err, ErrNotFound), Is(err, ErrNotOwner):
		return CategoryStore
	case Is(err, ErrForbidden), Is(err, ErrUnauthorized):
		return CategoryValidation
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "discord") || strings.Contains(errStr, "gateway"):
		return CategoryDiscord
	case strings.Contains(errStr, "sqlite") || strings.Contains(errStr, "database"):
		return CategoryStore
	case strings.Contains(errStr, "config"):
		return CategoryConfig
	case strings.Contains(errStr, "command"):
		return CategoryCommand
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout"):
		return CategoryNetwork
	case strings.Contains(errStr, "invalid"):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func isRecoverable(err error) bool {
	if Is(err, ErrForbidden) || Is(err, ErrNotFound) || Is(err, ErrConflict) || Is(err, ErrNotOwner) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"permission denied", "unauthorized", "invalid token"} {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}
	return true
}

func severityForCategory(category ErrorCategory) ErrorSeverity {
	switch category {
	case CategoryService:
		return SeverityHigh
	case CategoryStore, CategoryValidation:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func (eh *ErrorHandler) logError(err *ServiceError) {
	args := []any{
		"category", err.Category,
		"severity", err.Severity,
		"component", err.Component,
		"operation", err.Operation,
		"recoverable", err.Recoverable,
	}
	for k, v := range err.Context {
		args = append(args, k, v)
	}

	switch err.Severity {
	case SeverityLow, SeverityMedium:
		log.ApplicationLogger().Info(err.Message, args...)
	case SeverityHigh:
		log.ApplicationLogger().Warn(err.Message, args...)
	default:
		log.ErrorLoggerRaw().Error(err.Message, args...)
	}
}

func calculateDelay(strategy RetryStrategy, attempt int) time.Duration {
	delay := float64(strategy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= strategy.Multiplier
	}
	return min(time.Duration(delay), strategy.MaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

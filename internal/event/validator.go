package event

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// typePattern defines the valid format for event type strings.
// Types must be lowercase snake_case starting with a letter.
// Examples: "face_not_detected", "tab_switch"
var typePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Validator checks detector events against the canonical schema before
// they are appended to a session log.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return typePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate checks an event against the schema and timestamp bounds.
func (v *Validator) Validate(e *Event) error {
	if err := v.validate.Struct(e); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", e.Timestamp, v.maxAge)
	}
	if e.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", e.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidateType checks if a type string matches the required format.
func ValidateType(t string) bool {
	return typePattern.MatchString(t)
}

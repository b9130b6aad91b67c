package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers tollgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration validates that a field parses as a time.Duration.
func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := time.ParseDuration(s)
	return err == nil
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDurations(); err != nil {
		return err
	}

	if c.SmartRule.Enabled && c.SmartRule.APIKey == "" {
		return errors.New("smart_rule: enabled but no api_key configured (set smart_rule.api_key or ANTHROPIC_API_KEY)")
	}

	if c.Notifier.Kind == "webhook" && c.Notifier.WebhookURL == "" {
		return errors.New("notifier: kind is \"webhook\" but webhook_url is empty")
	}

	return nil
}

// validateDurations parses every configured duration string, surfacing a
// single actionable error for the first malformed one.
func (c *Config) validateDurations() error {
	durations := map[string]string{
		"policy.snapshot_ttl":              c.Policy.SnapshotTTL,
		"approval.request_ttl":             c.Approval.RequestTTL,
		"approval.token_ttl":               c.Approval.TokenTTL,
		"approval.default_lease_duration":  c.Approval.DefaultLeaseDuration,
		"smart_rule.timeout":               c.SmartRule.Timeout,
	}
	for field, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", field, val, err)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a valid duration (e.g. \"5s\", \"1h\")", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

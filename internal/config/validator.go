package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rpcgate/rpcgate/internal/domain/auth"
)

// RegisterCustomValidators registers rpcgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("token_hash", validateTokenHash); err != nil {
		return fmt.Errorf("failed to register token_hash validator: %w", err)
	}
	if err := v.RegisterValidation("cors_origin", validateCORSOrigin); err != nil {
		return fmt.Errorf("failed to register cors_origin validator: %w", err)
	}
	return nil
}

// validateTokenHash validates the auth token hash field.
// Valid formats: Argon2id PHC ($argon2id$...) or "sha256:<hex>"/bare hex.
func validateTokenHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// validateCORSOrigin validates one allowed-origin entry: either the "*"
// wildcard or a scheme://host[:port] origin with no path.
func validateCORSOrigin(fl validator.FieldLevel) bool {
	origin := fl.Field().String()
	if origin == "*" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && u.Path == ""
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return c.validateRuleNamesUnique()
}

// validateRuleNamesUnique ensures policy rule names do not repeat. Decisions
// are reported by rule name, so duplicates would be ambiguous.
func (c *Config) validateRuleNamesUnique() error {
	seen := make(map[string]struct{}, len(c.Policies))
	for i, rule := range c.Policies {
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("policies[%d]: duplicate rule name: %s", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "token_hash":
		return fmt.Sprintf("%s must be an Argon2id PHC hash or 'sha256:<hex>'", field)
	case "cors_origin":
		return fmt.Sprintf("%s must be '*' or 'scheme://host[:port]'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers the gateway-specific validation rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("hookmodule", validateHookModule); err != nil {
		return fmt.Errorf("failed to register hookmodule validator: %w", err)
	}
	return nil
}

// validateHookModule validates GATEWAY_HOOK_MODULE's "kind:payload" syntax.
// kind must be "cel" or "js"; payload must be non-empty.
func validateHookModule(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	kind, payload, found := strings.Cut(value, ":")
	if !found || payload == "" {
		return false
	}
	return kind == "cel" || kind == "js"
}

// Validate validates the Config using struct tags, including the custom
// hookmodule tag; there are no cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return nil
}

// HookKindAndPayload splits GATEWAY_HOOK_MODULE into its kind ("cel" or
// "js") and payload (the expression or script body). ok is false when no
// hook module is configured.
func (c *Config) HookKindAndPayload() (kind, payload string, ok bool) {
	if c.HookModule == "" {
		return "", "", false
	}
	kind, payload, found := strings.Cut(c.HookModule, ":")
	return kind, payload, found
}

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

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hookmodule":
		return fmt.Sprintf("%s must be \"cel:<expression>\" or \"js:<script>\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

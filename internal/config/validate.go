package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateStorage, StorageConfig{})
	return v
}

func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	if (s.Local == nil) == (s.Mongo == nil) {
		sl.ReportError(s.Local, "Local", "local", "storage_xor", "")
	}
}

// Validate checks field rules and that exactly one storage backend is set.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateChannels()
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInit, strings.Join(msgs, "; "))
}

func (c Config) validateChannels() error {
	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("%w: duplicate channel id %q", ErrInit, ch.ID)
		}
		seen[ch.ID] = struct{}{}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "storage_xor":
		return "exactly one of storage.local and storage.mongo must be configured"
	case "required", "required_without":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s %s", field, fe.Tag(), fe.Param())
	}
}

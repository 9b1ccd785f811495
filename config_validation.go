package usbbridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("stopbits", func(fl validator.FieldLevel) bool {
			switch StopBits(fl.Field().Float()) {
			case StopBits1, StopBits1Half, StopBits2:
				return true
			}
			return false
		})
	})
	return validate
}

// ValidateConfig validates bridge configuration parameters.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	err := configValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got: %v", field, fe.Param(), fe.Value())
	case "stopbits":
		return fmt.Sprintf("%s must be 1, 1.5 or 2, got: %v", field, fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s, got: %v", field, fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s, got: %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got: %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

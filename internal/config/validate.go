package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const envPrefix = "LITREVIEW_"

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

// configValidator names fields by their env tag when present and by their
// config key otherwise, so error messages point at what the operator sets.
func configValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if env := f.Tag.Get("env"); env != "" {
				return env
			}
			name := f.Tag.Get("mapstructure")
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterStructValidation(validateLLMKey, LLMConfig{})
	})
	return validate
}

// validateLLMKey requires the API key of the selected provider only.
func validateLLMKey(sl validator.StructLevel) {
	c := sl.Current().Interface().(LLMConfig)

	var key, env string
	switch c.Provider {
	case "openai":
		key, env = c.OpenAI.APIKey, envPrefix+"LLM_OPENAI_API_KEY"
	case "anthropic":
		key, env = c.Anthropic.APIKey, envPrefix+"LLM_ANTHROPIC_API_KEY"
	case "gemini":
		key, env = c.Gemini.APIKey, envPrefix+"LLM_GEMINI_API_KEY"
	default:
		return
	}
	if key == "" {
		sl.ReportError(key, env, "APIKey", "apikey", c.Provider)
	}
}

// Validate checks every section and returns all violations joined.
func (c *Config) Validate() error {
	err := configValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, errors.New(describe(fe)))
	}
	return errors.Join(errs...)
}

func fieldPath(fe validator.FieldError) string {
	if strings.HasPrefix(fe.Field(), envPrefix) {
		return fe.Field()
	}
	_, path, _ := strings.Cut(fe.Namespace(), ".")
	return path
}

func describe(fe validator.FieldError) string {
	path := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", path, strings.Replace(fe.Param(), " ", "=", 1))
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", path, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", path, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be positive, got %v", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", path, fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s (%v) must be >= %s", path, fe.Value(), fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s (%v) must not exceed %s", path, fe.Value(), fe.Param())
	case "apikey":
		return fmt.Sprintf("llm provider %s requires %s", fe.Param(), path)
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

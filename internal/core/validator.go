package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"stripehome/internal/types"
)

// Validator wraps go-playground/validator to register domain-specific rules
// and translate tag failures into structured AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes a single field-level failure, serialized into the
// error response under details.validation_errors.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// stripeIDPrefixes maps the stripe_id tag parameter to the expected object
// prefix. Example tag: `validate:"stripe_id=price"`.
var stripeIDPrefixes = map[string]string{
	"customer":     "cus_",
	"product":      "prod_",
	"price":        "price_",
	"subscription": "sub_",
	"payment":      "pm_",
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// stripe_id=<kind> checks that a value carries the provider's object
	// prefix for that kind. Empty values pass; combine with required.
	_ = v.RegisterValidation("stripe_id", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		prefix, ok := stripeIDPrefixes[fl.Param()]
		if !ok {
			return false
		}
		return strings.HasPrefix(value, prefix)
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a struct against its validate tags. On failure it
// returns a *types.AppError (400) whose Details carry the per-field failures.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Programming error: non-struct passed in.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation target must be a struct", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected validation failure", err)
	}

	details := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: messageForTag(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		codeForTag(fieldErrs[0].Tag()),
		"request validation failed",
		err,
		map[string]any{"validation_errors": details},
	)
}

// codeForTag maps a validator tag to the closest domain error code.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "gt", "min", "max", "len":
		return types.ErrCodeValidationInvalidAmount
	case "email":
		return types.ErrCodeValidationInvalidEmail
	default:
		return "validation_" + types.ErrorCode(tag) + "_failed"
	}
}

// messageForTag builds the human-readable message for a field failure.
func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "stripe_id":
		return fmt.Sprintf("%s must be a %s identifier (%s...)", fe.Field(), fe.Param(), stripeIDPrefixes[fe.Param()])
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

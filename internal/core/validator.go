package core

import (
	"github.com/go-playground/validator/v10"

	"paperplan/internal/types"
)

// Validator wraps go-playground/validator with domain-specific rules and
// AppError mapping.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator with the "tier" custom tag registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// tier: field must be one of the known subscription tiers.
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		return types.Tier(fl.Field().String()).Valid()
	})

	return &Validator{v: v}
}

// ValidateStruct validates a request struct and maps failures into a single
// AppError carrying per-field details.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		"request validation failed", err, details)
}

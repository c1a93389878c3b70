package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "polarcli/internal/errors"
	"polarcli/internal/infrastructure"
)

// Validator validates request structs with go-playground tags, reporting
// fields by their JSON names
type Validator struct {
	validator   *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewValidator creates a validator that names fields by their JSON tags
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{
		validator:   v,
		logger:      infrastructure.WithComponent(logger, "validation_middleware"),
		maxBodySize: 1 << 20,
	}
}

// ValidateStruct validates v and returns an APIError listing every failed
// field
func (m *Validator) ValidateStruct(v interface{}) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(validationErrors)
}

// DecodeJSON reads an optional JSON body into v and validates it. An empty
// body leaves v untouched.
func (m *Validator) DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body != nil && r.ContentLength != 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBodySize+1))
		if err != nil {
			return apierrors.InvalidRequestWithError(err)
		}
		if int64(len(body)) > m.maxBodySize {
			return apierrors.ErrPayloadTooLarge
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, v); err != nil {
				m.logger.DebugContext(r.Context(), "invalid JSON body",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())))
				return apierrors.New(http.StatusBadRequest, apierrors.CodeInvalidJSON, "Request body contains invalid JSON")
			}
		}
	}
	return m.ValidateStruct(v)
}

// QueryBool parses a boolean query parameter, returning def when absent
func QueryBool(r *http.Request, param string, def bool) (bool, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, queryError(param, fmt.Sprintf("%s must be true or false", param))
	}
	return b, nil
}

// QueryFloat parses a float query parameter within [min, max], returning
// def when absent
func QueryFloat(r *http.Request, param string, min, max, def float64) (float64, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, queryError(param, fmt.Sprintf("%s must be a number", param))
	}
	if f < min || f > max {
		return 0, queryError(param, fmt.Sprintf("%s must be between %g and %g", param, min, max))
	}
	return f, nil
}

// QueryEnum returns the query parameter if it is one of allowed, def when
// absent
func QueryEnum(r *http.Request, param string, allowed []string, def string) (string, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return def, nil
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return a, nil
		}
	}
	return "", queryError(param, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", ")))
}

func queryError(field, message string) error {
	return apierrors.NewValidationErrors([]apierrors.ValidationError{{Field: field, Message: message}})
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

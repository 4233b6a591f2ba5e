package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/apperrors"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
)

var validate = validator.New()

func init() {
	// Report fields by their json name
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RequestError is a rejected request body. It matches apperrors.ErrValidation.
type RequestError struct {
	Response ErrorResponse
}

func (e *RequestError) Error() string {
	return e.Response.Message
}

func (e *RequestError) Unwrap() error {
	return apperrors.ErrValidation
}

// Bind decodes the JSON body into T and validates it using struct tags.
func Bind[T any](c *fiber.Ctx) (T, error) {
	var value T

	if err := json.Unmarshal(c.Body(), &value); err != nil {
		return value, decodeError(err)
	}

	if err := validate.Struct(value); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			return value, validationErrors(errs)
		}
		return value, apperrors.Validation("%s", err.Error())
	}

	return value, nil
}

// BindOptional is Bind for endpoints whose body may be omitted.
func BindOptional[T any](c *fiber.Ctx) (T, error) {
	if len(strings.TrimSpace(string(c.Body()))) == 0 {
		var zero T
		return zero, nil
	}
	return Bind[T](c)
}

// Error writes err's response with the given status.
func Error(c *fiber.Ctx, status int, resp ErrorResponse) error {
	return c.Status(status).JSON(resp)
}

func decodeError(err error) error {
	resp := ErrorResponse{Error: DecodingErrorType}

	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		resp.Message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	default:
		resp.Message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	return &RequestError{Response: resp}
}

func validationErrors(errs validator.ValidationErrors) error {
	resp := ErrorResponse{
		Error:   ValidationErrorType,
		Message: "Request validation failed",
		Fields:  make(map[string]string, len(errs)),
	}

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		default:
			message = "Invalid value"
		}
		resp.Fields[fieldError.Field()] = message
	}

	return &RequestError{Response: resp}
}

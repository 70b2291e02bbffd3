package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Machine-readable error codes for the money-movement endpoints, carried
// alongside the human-readable message so clients branch on the code instead
// of parsing text.
const (
	CodeRecipientNotFound      = "RecipientNotFound"
	CodeSelfTransferNotAllowed = "SelfTransferNotAllowed"
	CodeInvalidAmount          = "InvalidAmount"
	CodeInsufficientFunds      = "InsufficientFunds"
	CodeConcurrentModification = "ConcurrentModification"
	CodeDailyLimitExceeded     = "DailyLimitExceeded"
	CodePersistenceFailure     = "PersistenceFailure"
)

// ErrorResponse is the JSON error envelope returned by every endpoint.
type ErrorResponse struct {
	Error   string            `json:"error"`             // Human-readable message
	Code    string            `json:"code,omitempty"`    // Machine-readable error code
	Details map[string]string `json:"details,omitempty"` // Per-field validation failures
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response. When validationErr carries
// field-level failures they are included under details.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	writeError(w, statusCode, ErrorResponse{Error: message, Details: fieldDetails(validationErr)})
}

// SendErrorCode sends a JSON error response with a machine-readable code.
func SendErrorCode(w http.ResponseWriter, code, message string, statusCode int) {
	writeError(w, statusCode, ErrorResponse{Error: message, Code: code})
}

func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func fieldDetails(validationErr error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(validationErr, &fieldErrs) {
		return nil
	}

	details := make(map[string]string, len(fieldErrs))
	for _, err := range fieldErrs {
		details[err.Field()] = fmt.Sprintf("failed validation on the '%s' rule", err.Tag())
	}
	return details
}

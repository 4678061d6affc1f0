package web

// errors.go provides unified error response handling for the web layer.
//
// Every failure is logged with its technical detail and request ID, and
// returned as ErrorResponse. The status comes from the error's apperror kind
// and the code, message and action from apperror.MapError.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Error preserves the technical message; Code, Message and Action are the
// stable user-facing fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError maps err to a status and error body and logs it.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.Status(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	userMsg := apperror.MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fileTooLarge(tooLarge)
		}
		return apperror.Wrap(apperror.KindValidation, err, "invalid JSON body")
	}
	return nil
}

func fileTooLarge(err *http.MaxBytesError) error {
	return &apperror.Error{
		Kind: apperror.KindValidation,
		Code: "FILE001",
		Msg:  fmt.Sprintf("file too large: limit is %d bytes", err.Limit),
		Err:  err,
	}
}

// Package response writes the uniform JSON envelope returned by every endpoint.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes a 200 envelope with optional data and message.
func Success(w http.ResponseWriter, data any, message string) {
	JSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Data: data, Message: message})
}

// Error maps err to its status code and writes an error envelope. Internal
// details never leave the process.
func Error(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	JSON(w, kind.HTTPStatus(), Envelope{Status: StatusError, Message: apperr.PublicMessage(err)})
}

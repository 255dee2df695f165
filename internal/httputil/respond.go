package httputil

import (
	"encoding/json"
	"net/http"
)

// Meta is the pagination block attached to list and search responses.
type Meta struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// NewMeta computes the has-more flag from total vs. offset+limit.
func NewMeta(total, page, limit int) Meta {
	return Meta{
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: total > (page-1)*limit+limit,
	}
}

type dataEnvelope struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// ErrorBody is the standard error object inside the error envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// RespondData writes a success envelope without pagination meta.
func RespondData(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, dataEnvelope{Data: data})
}

// RespondList writes a success envelope with pagination meta.
func RespondList(w http.ResponseWriter, status int, data any, meta Meta) {
	RespondJSON(w, status, dataEnvelope{Data: data, Meta: &meta})
}

// RespondError writes an error envelope.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondErrorDetails(w, status, code, message, nil)
}

// RespondErrorDetails writes an error envelope with structured details.
func RespondErrorDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	RespondJSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

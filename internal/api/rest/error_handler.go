package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
)

// apiVersion is reported in every response envelope.
var apiVersion = "v1"

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, ResponseEnvelope{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Meta:    responseMeta(r),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func responseMeta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   apiVersion,
	}
}

// writeError maps err onto a status code and an error envelope. Messages of
// unclassified errors are not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		body.TraceID = sc.TraceID().String()
	}
	writeEnvelope(w, status, ResponseEnvelope{
		Success: false,
		Error:   body,
		Meta:    responseMeta(r),
	})
}

func classify(err error) (int, *ErrorResponse) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return errors.GetStatusCode(appErr), &ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		return http.StatusBadRequest, &ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: "request validation failed",
			Fields:  fields,
		}
	}

	var maxBytes *http.MaxBytesError
	if stderrors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, &ErrorResponse{Code: "BODY_TOO_LARGE", Message: "request body too large"}
	}

	return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
}

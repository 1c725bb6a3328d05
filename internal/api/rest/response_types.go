package rest

import (
	"time"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
)

// ResponseEnvelope wraps all API responses.
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  map[string]string      `json:"fields,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

type AuctionListResponse struct {
	Auctions []auction.Snapshot `json:"auctions"`
	Total    int                `json:"total"`
}

type DeadLetterListResponse struct {
	Items []dispatch.FailedTask  `json:"items"`
	Total int                    `json:"total"`
	Stats map[string]interface{} `json:"stats"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Auctions int    `json:"auctions"`
}

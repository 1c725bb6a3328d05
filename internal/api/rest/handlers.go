package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/errors"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/dispatch"
	"github.com/davidleathers/live-auction-backend/internal/infrastructure/telemetry"
)

const maxBodySize = 1 << 20

// Engine is the part of the bidding engine exposed over HTTP.
type Engine interface {
	SubmitBid(ctx context.Context, req auction.BidRequest) (auction.BidResult, error)
	Register(ctx context.Context, listing auction.NewAuction) (auction.Snapshot, error)
	ListAuctions() []auction.Snapshot
	GetAuction(ctx context.Context, id string) (auction.Snapshot, error)
}

// DeadLetters exposes failed side effects for inspection and retry.
type DeadLetters interface {
	DeadLetters() *dispatch.DeadLetterQueue
	Redrive(ctx context.Context, id string) error
	Discard(id string) error
}

type Handler struct {
	engine      Engine
	deadLetters DeadLetters
	validator   *validator.Validate
	tracer      trace.Tracer
	logger      *zap.Logger
	version     string
}

func NewHandler(engine Engine, deadLetters DeadLetters, logger *zap.Logger, version string) *Handler {
	return &Handler{
		engine:      engine,
		deadLetters: deadLetters,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		tracer:      telemetry.Tracer("api.rest"),
		logger:      logger,
		version:     version,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Auctions: len(h.engine.ListAuctions()),
	})
}

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	list := h.engine.ListAuctions()
	writeJSON(w, r, http.StatusOK, AuctionListResponse{Auctions: list, Total: len(list)})
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.GetAuction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "rest.create_auction")
	defer span.End()

	var req CreateAuctionRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if owner := identityFromContext(ctx); owner != "" {
		req.Owner = owner
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := h.engine.Register(ctx, req.listing())
	if err != nil {
		telemetry.RecordError(span, err)
		writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("auction.id", snap.ID))

	w.Header().Set("Location", "/api/v1/auctions/"+snap.ID)
	writeJSON(w, r, http.StatusCreated, snap)
}

// PlaceBid submits a bid and reports the outcome, including rejections the
// websocket transport keeps silent.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if bidder := identityFromContext(r.Context()); bidder != "" {
		req.Bidder = bidder
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.engine.SubmitBid(r.Context(), auction.BidRequest{
		AuctionID: chi.URLParam(r, "id"),
		Bidder:    req.Bidder,
		Mode:      req.mode(),
		Value:     req.Value,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	switch result.Reason {
	case auction.RejectNotFound:
		status = http.StatusNotFound
	case auction.RejectClosed, auction.RejectSelfBid:
		status = http.StatusConflict
	}
	writeJSON(w, r, status, result)
}

func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errors.NewValidationError("INVALID_LIMIT", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	dlq := h.deadLetters.DeadLetters()
	writeJSON(w, r, http.StatusOK, DeadLetterListResponse{
		Items: dlq.List(limit),
		Total: dlq.Len(),
		Stats: dlq.Stats(),
	})
}

func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Redrive(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("dead letter resubmitted", zap.String("dead_letter_id", id))
	writeJSON(w, r, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handler) DiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deadLetters.Discard(id); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("dead letter discarded", zap.String("dead_letter_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if stderrors.As(err, &maxBytes) {
			return err
		}
		return errors.NewValidationError("INVALID_JSON", "request body is not valid JSON").WithCause(err)
	}
	return nil
}

// Package httpapi is the HTTP surface for submitting MT messages and reading
// the delivery ledger.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/outbound"
	"github.com/thrillee/smppgateway/internal/store"
)

// Submitter queues MT messages for one backend.
type Submitter interface {
	Submit(ctx context.Context, text string, destinations []string, opts outbound.Options) ([]int64, error)
}

// BackendLookup resolves a backend name to its submitter.
type BackendLookup func(ctx context.Context, name string) (Submitter, error)

// RegistryLookup adapts an outbound.Registry.
func RegistryLookup(r *outbound.Registry) BackendLookup {
	return func(ctx context.Context, name string) (Submitter, error) {
		return r.Get(ctx, name)
	}
}

// Ledger reads MT messages and their attempts.
type Ledger interface {
	GetOutbound(ctx context.Context, id int64) (store.OutboundMessage, error)
	ListAttempts(ctx context.Context, mtID int64) ([]store.Attempt, error)
}

type MessageHandler struct {
	backends BackendLookup
	ledger   Ledger
}

func NewMessageHandler(backends BackendLookup, ledger Ledger) *MessageHandler {
	return &MessageHandler{backends: backends, ledger: ledger}
}

// SubmitMessages handles POST /backends/:backend/messages
func (h *MessageHandler) SubmitMessages(c *gin.Context) {
	name := c.Param("backend")
	logCtx := logging.ContextWithBackend(c.Request.Context(), name)

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(logCtx, "Invalid submit request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	backend, err := h.backends(logCtx, name)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to resolve backend", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve backend"})
		return
	}

	ids, err := backend.Submit(logCtx, req.Text, req.To, outbound.Options{
		Source:        req.From,
		PriorityFlag:  req.PriorityFlag,
		Transactional: req.Transactional,
		Params:        req.Params,
	})
	switch {
	case errors.Is(err, outbound.ErrNoDestinations), errors.Is(err, outbound.ErrInvalidPriority),
		errors.Is(err, outbound.ErrInvalidParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		slog.ErrorContext(logCtx, "Failed to queue messages", slog.Any("error", err), slog.Int("queued", len(ids)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue messages", "queued": len(ids), "ids": ids})
		return
	}

	slog.InfoContext(logCtx, "Messages queued", slog.Int("count", len(ids)))
	c.JSON(http.StatusAccepted, SubmitResponse{Queued: len(ids), IDs: ids})
}

// GetMessage handles GET /messages/:id
func (h *MessageHandler) GetMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return
	}
	logCtx := logging.ContextWithMTMessageID(c.Request.Context(), id)

	msg, err := h.ledger.GetOutbound(logCtx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to get message", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve message"})
		return
	}

	attempts, err := h.ledger.ListAttempts(logCtx, id)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to list attempts", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve attempts"})
		return
	}

	c.JSON(http.StatusOK, mapMessageToResponse(msg, attempts))
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/dispatch"
	"ultaai-agent/internal/module"
)

// Dispatcher is the engine entry point the handler drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req module.Request) (*dispatch.Response, error)
}

// Handler turns inbound messages into dispatches and replies.
type Handler struct {
	dispatcher Dispatcher
	verifier   *Verifier
}

// NewHandler returns a Handler. verifier may be nil when requests are not
// signed.
func NewHandler(d Dispatcher, verifier *Verifier) *Handler {
	return &Handler{dispatcher: d, verifier: verifier}
}

// HandleMessage processes one inbound message and returns the encoded reply,
// or nil when the message needs none.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) []byte {
	logger := ctxlog.FromContext(ctx)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("Dropping malformed message.", "error", err)
		return encodeReply(errorReply("", nil, fmt.Errorf("malformed message: %w", err)))
	}
	if env.Type != TypeActionRequest {
		logger.Debug("Ignoring message.", "type", env.Type)
		return nil
	}

	var req ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeReply(errorReply(env.ID, nil, fmt.Errorf("malformed action request: %w", err)))
	}
	logger = logger.With("request_id", req.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := h.verifier.Verify(&req); err != nil {
		logger.Warn("Rejected unsigned or forged request.", "module", req.Module, "action", req.Action, "error", err)
		return encodeReply(errorReply(req.ID, &req, fmt.Errorf("signature check failed: %w", err)))
	}

	resp, err := h.dispatcher.Dispatch(ctx, req.request())
	if err != nil {
		return encodeReply(errorReply(req.ID, &req, err))
	}
	return encodeReply(replyFor(&req, resp))
}

func encodeReply(r Reply) []byte {
	b, _ := json.Marshal(r) // plain strings and numbers only
	return b
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"paincoach-agent/internal/domain"
	"paincoach-agent/internal/identity"
	"paincoach-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// UseCase is the relay surface consumed by the handler.
type UseCase interface {
	HandleTurn(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	History(ctx context.Context, principal domain.Principal, limit int) ([]domain.Turn, error)
}

type Handler struct {
	uc     UseCase
	logger *zap.Logger
}

func NewHandler(uc UseCase, logger *zap.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{uc: uc, logger: logger}, nil
}

type chatRequest struct {
	Messages     []domain.ChatMessage `json:"messages"`
	ClientTurnID string               `json:"clientTurnId,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type historyTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

type historyResponse struct {
	Turns []historyTurn `json:"turns"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes one API Gateway event. All responses carry the caller's
// correlation ID (or a fresh one) so a turn can be traced across logs.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := h.logger.With(zap.String("correlationId", corrID))

	principal, err := identity.FromRequest(event)
	if err != nil {
		log.Warn("request rejected: no authenticated principal",
			zap.String("path", event.Path))
		return respondError(corrID, usecase.ErrorUnauthenticated), nil
	}

	switch {
	case event.HTTPMethod == http.MethodPost && event.Path == "/chat":
		return h.handleChat(ctx, event, principal, corrID, log), nil
	case event.HTTPMethod == http.MethodGet && event.Path == "/chat/history":
		return h.handleHistory(ctx, event, principal, corrID, log), nil
	default:
		return respond(corrID, http.StatusNotFound, errorResponse{Error: "NOT_FOUND"}), nil
	}
}

func (h *Handler) handleChat(ctx context.Context, event events.APIGatewayProxyRequest, principal domain.Principal, corrID string, log *zap.Logger) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respondError(corrID, usecase.ErrorInvalidInput)
	}

	out, err := h.uc.HandleTurn(ctx, usecase.TurnInput{
		Principal:    principal,
		Messages:     req.Messages,
		ClientTurnID: strings.TrimSpace(req.ClientTurnID),
	})
	if err != nil {
		code := errorCode(err)
		log.Error("turn failed", zap.String("code", string(code)), zap.Error(err))
		return respondError(corrID, code)
	}

	if !out.UserTurnSaved || !out.AssistantTurnSaved {
		log.Warn("turn completed with unsaved records",
			zap.Bool("userTurnSaved", out.UserTurnSaved),
			zap.Bool("assistantTurnSaved", out.AssistantTurnSaved))
	}
	return respond(corrID, http.StatusOK, chatResponse{Reply: out.Reply})
}

func (h *Handler) handleHistory(ctx context.Context, event events.APIGatewayProxyRequest, principal domain.Principal, corrID string, log *zap.Logger) events.APIGatewayProxyResponse {
	limit := 0
	if raw, ok := event.QueryStringParameters["limit"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return respondError(corrID, usecase.ErrorInvalidInput)
		}
		limit = n
	}

	turns, err := h.uc.History(ctx, principal, limit)
	if err != nil {
		code := errorCode(err)
		log.Error("history read failed", zap.String("code", string(code)), zap.Error(err))
		return respondError(corrID, code)
	}

	body := historyResponse{Turns: make([]historyTurn, 0, len(turns))}
	for _, t := range turns {
		body.Turns = append(body.Turns, historyTurn{
			Role:      t.Role,
			Content:   t.Content,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return respond(corrID, http.StatusOK, body)
}

// correlationID returns the caller-supplied correlation header
// (case-insensitive) or generates a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func errorCode(err error) usecase.ErrorCode {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Code
	}
	return usecase.ErrorInternal
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorUnauthenticated:
		return http.StatusUnauthorized
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorGenerationUnavailable:
		return http.StatusBadGateway
	case usecase.ErrorPersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func respondError(corrID string, code usecase.ErrorCode) events.APIGatewayProxyResponse {
	return respond(corrID, statusForCode(code), errorResponse{Error: string(code)})
}

func respond(corrID string, status int, body interface{}) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		// Marshalling plain structs of strings cannot fail in practice.
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

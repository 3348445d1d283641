package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"paincoach-agent/internal/domain"
)

const (
	defaultObservationLimit = 5
	defaultMaxMessageLen    = 4000
	defaultHistoryLimit     = 50

	// Suffix appended to the client turn ID when deduplicating the
	// assistant turn, so both writes of one logical turn get distinct
	// idempotency keys.
	replyKeySuffix = "/reply"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
	GetParameterOrDefault(ctx context.Context, name, fallback string) (string, error)
}

// GenerationClient is the synchronous adapter to the text-generation backend.
type GenerationClient interface {
	Generate(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ConversationStore is the append-only persistence of chat turns.
type ConversationStore interface {
	Append(ctx context.Context, principal domain.Principal, role, content, clientTurnID string) (domain.Turn, error)
	Recent(ctx context.Context, principal domain.Principal, limit int) ([]domain.Turn, error)
}

// ObservationStore reads a principal's recent pain observations, newest first.
type ObservationStore interface {
	Recent(ctx context.Context, principal domain.Principal, limit int) ([]domain.Observation, error)
}

// RelayService orchestrates a single chat turn: persist the user turn, fetch
// recent observations, build the system instruction, call the generation
// backend, persist the reply.
type RelayService struct {
	params           ParamGetter
	gen              GenerationClient
	turns            ConversationStore
	observations     ObservationStore
	logger           *zap.Logger
	paramPrefix      string
	observationLimit int
	maxMessageLen    int
	historyLimit     int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
	template    PromptTemplate
}

// TurnInput carries one inbound chat turn. Messages is the client-supplied
// transcript; its last element is the new user message. ClientTurnID is an
// optional idempotency key for the turn's store writes.
type TurnInput struct {
	Principal    domain.Principal
	Messages     []domain.ChatMessage
	ClientTurnID string
}

// TurnOutput separates the primary outcome (the reply) from the best-effort
// side-effect outcomes (whether each turn actually got persisted), so callers
// and tests can observe persistence failures without scraping logs.
type TurnOutput struct {
	Reply              string
	UserTurnSaved      bool
	AssistantTurnSaved bool
}

func NewRelayService(p ParamGetter, gen GenerationClient, turns ConversationStore, observations ObservationStore, logger *zap.Logger, paramPrefix string, observationLimit, maxMessageLen, historyLimit int) (*RelayService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generation client must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if observations == nil {
		return nil, errors.New("usecase: observation store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if observationLimit <= 0 {
		observationLimit = defaultObservationLimit
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &RelayService{
		params:           p,
		gen:              gen,
		turns:            turns,
		observations:     observations,
		logger:           logger,
		paramPrefix:      paramPrefix,
		observationLimit: observationLimit,
		maxMessageLen:    maxMessageLen,
		historyLimit:     historyLimit,
	}, nil
}

// HandleTurn runs the relay pipeline for one inbound turn. Fatal failures
// (unauthenticated caller, invalid transcript, generation outage) short-
// circuit; store-write failures are reported in the output and logged but do
// not abort the turn, since conversational continuity matters more than audit
// completeness for a single turn.
func (s *RelayService) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	if strings.TrimSpace(string(in.Principal)) == "" {
		return TurnOutput{}, newError(ErrorUnauthenticated, "missing_principal", nil)
	}

	userMessage, err := validateTranscript(in.Messages, s.maxMessageLen)
	if err != nil {
		return TurnOutput{}, err
	}

	if err := s.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	out := TurnOutput{}
	out.UserTurnSaved = s.appendTurn(ctx, in.Principal, domain.RoleUser, userMessage, in.ClientTurnID)

	observations, err := s.observations.Recent(ctx, in.Principal, s.observationLimit)
	if err != nil {
		s.logger.Warn("observation fetch failed, continuing without diary context",
			zap.String("principal", string(in.Principal)), zap.Error(err))
		observations = nil
	}

	instruction := buildSystemInstruction(s.template, observations)

	augmented := make([]domain.ChatMessage, 0, len(in.Messages)+1)
	augmented = append(augmented, domain.ChatMessage{Role: domain.RoleSystem, Content: instruction})
	augmented = append(augmented, in.Messages...)

	reply, err := s.gen.Generate(ctx, s.model, augmented)
	if err != nil {
		return TurnOutput{}, newError(ErrorGenerationUnavailable, "generation_error", err)
	}

	assistantKey := ""
	if in.ClientTurnID != "" {
		assistantKey = in.ClientTurnID + replyKeySuffix
	}
	out.AssistantTurnSaved = s.appendTurn(ctx, in.Principal, domain.RoleAssistant, reply, assistantKey)

	out.Reply = reply
	return out, nil
}

// History returns the principal's persisted transcript in chronological
// order, capped at limit (service default when limit <= 0).
func (s *RelayService) History(ctx context.Context, principal domain.Principal, limit int) ([]domain.Turn, error) {
	if strings.TrimSpace(string(principal)) == "" {
		return nil, newError(ErrorUnauthenticated, "missing_principal", nil)
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	turns, err := s.turns.Recent(ctx, principal, limit)
	if err != nil {
		return nil, newError(ErrorPersistence, "history_read_error", err)
	}
	return turns, nil
}

// appendTurn is the best-effort store write. A duplicate idempotency key
// counts as already persisted by an earlier attempt; any other failure is
// logged and swallowed.
func (s *RelayService) appendTurn(ctx context.Context, principal domain.Principal, role, content, clientTurnID string) bool {
	_, err := s.turns.Append(ctx, principal, role, content, clientTurnID)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrDuplicateTurn) {
		s.logger.Info("turn already persisted, skipping duplicate write",
			zap.String("principal", string(principal)),
			zap.String("role", role),
			zap.String("clientTurnId", clientTurnID))
		return false
	}
	s.logger.Warn("turn persistence failed, continuing",
		zap.String("principal", string(principal)),
		zap.String("role", role),
		zap.Error(err))
	return false
}

func validateTranscript(messages []domain.ChatMessage, maxLen int) (string, error) {
	if len(messages) == 0 {
		return "", newError(ErrorInvalidInput, "empty_transcript", nil)
	}
	last := messages[len(messages)-1]
	if last.Role != domain.RoleUser {
		return "", newError(ErrorInvalidInput, "last_turn_not_user", nil)
	}
	content := strings.TrimSpace(last.Content)
	if content == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(content) > maxLen {
		return "", newError(ErrorInvalidInput, "message_too_long", nil)
	}
	for _, m := range messages {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			return "", newError(ErrorInvalidInput, "invalid_role", nil)
		}
	}
	return last.Content, nil
}

// ensureConfig lazily loads the model name and prompt template from SSM on
// the first turn and caches them for the process lifetime.
func (s *RelayService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, tpl, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.model = model
	s.template = tpl
	s.cacheLoaded = true
	return nil
}

func (s *RelayService) loadSSMParams(ctx context.Context) (string, PromptTemplate, error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")
	defaults := DefaultPromptTemplate()

	model, err := s.params.GetParameter(ctx, prefix+"/config/model")
	if err != nil {
		return "", PromptTemplate{}, fmt.Errorf("usecase: load model: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		return "", PromptTemplate{}, errors.New("usecase: model parameter is empty")
	}

	tpl := PromptTemplate{}
	tpl.Persona, err = s.params.GetParameterOrDefault(ctx, prefix+"/prompt/persona", defaults.Persona)
	if err != nil {
		return "", PromptTemplate{}, fmt.Errorf("usecase: load persona: %w", err)
	}
	tpl.SafetyDirective, err = s.params.GetParameterOrDefault(ctx, prefix+"/prompt/safety", defaults.SafetyDirective)
	if err != nil {
		return "", PromptTemplate{}, fmt.Errorf("usecase: load safety directive: %w", err)
	}
	tpl.FormattingDirective, err = s.params.GetParameterOrDefault(ctx, prefix+"/prompt/formatting", defaults.FormattingDirective)
	if err != nil {
		return "", PromptTemplate{}, fmt.Errorf("usecase: load formatting directive: %w", err)
	}
	return strings.TrimSpace(model), tpl, nil
}

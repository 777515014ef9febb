package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/telemetry"
)

// Stream event types emitted over the SSE channel.
const (
	EventTypeToken = "token"
	EventTypeFinal = "final"
)

// StreamEvent is a single event on the chat stream. Exactly one final event
// terminates every stream.
type StreamEvent struct {
	Type  string        `json:"type"`
	Token *TokenPayload `json:"token,omitempty"`
	Final *FinalPayload `json:"final,omitempty"`
}

// TokenPayload carries one model token. Seq is strictly increasing from 0
// within a stream.
type TokenPayload struct {
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

// FinalPayload terminates a stream with either the full assistant message or
// an error, never both.
type FinalPayload struct {
	Message       string       `json:"message,omitempty"`
	UsedDocuments int          `json:"used_documents,omitempty"`
	ContextChars  int          `json:"context_chars,omitempty"`
	LatencyMS     int64        `json:"latency_ms,omitempty"`
	RequestID     string       `json:"request_id,omitempty"`
	Error         *StreamError `json:"error,omitempty"`
}

// StreamError describes a terminal stream failure.
type StreamError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

// EventSink receives stream events. A Send error means the client is gone
// and the stream should be abandoned.
type EventSink interface {
	Send(event StreamEvent) error
}

// TokenStream yields model tokens until io.EOF.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatModel produces a token stream for a prompt.
type ChatModel interface {
	StreamChat(ctx context.Context, messages []domain.Message) (TokenStream, error)
}

// ModelError classifies an upstream model failure.
type ModelError struct {
	Retryable bool
	Err       error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model request failed: %v", e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Retriever assembles grounding context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, websiteID string, query string) (RetrievedContext, error)
}

// RateLimiter decides whether a client may start another stream.
type RateLimiter interface {
	Allow(websiteID, clientID string) bool
}

// ChatRepositoryInterface defines the repository interface for chat persistence
type ChatRepositoryInterface interface {
	GetOrCreate(ctx context.Context, websiteID, sessionID, visitorID string) (*domain.Chat, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]*domain.Message, error)
	AppendMessage(ctx context.Context, m *domain.Message) error
}

// ChatConfig bounds the streaming chat flow.
type ChatConfig struct {
	HistoryLimit int

	// WatchdogTimeout is the maximum silence between tokens before the
	// stream is declared stalled and cancelled.
	WatchdogTimeout time.Duration

	SystemPrompt string
}

const defaultSystemPrompt = "You are a helpful assistant answering visitor questions for a website. " +
	"Answer using the provided context when it is relevant. When the context does not cover the " +
	"question, say so briefly instead of inventing details. Keep answers short and concrete."

// DefaultChatConfig provides sane defaults for chat streaming.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		HistoryLimit:    20,
		WatchdogTimeout: 30 * time.Second,
		SystemPrompt:    defaultSystemPrompt,
	}
}

// StreamRequest is one visitor turn.
type StreamRequest struct {
	WebsiteID string
	SessionID string
	VisitorID string

	// ClientID identifies the caller for rate limiting, normally the
	// client IP.
	ClientID  string
	Message   string
	RequestID string
}

// ChatService orchestrates one streaming answer: rate check, retrieval,
// generation, token relay, and best-effort persistence.
type ChatService struct {
	retriever Retriever
	model     ChatModel
	chatRepo  ChatRepositoryInterface
	limiter   RateLimiter
	uuidGen   UUIDGenerator
	config    ChatConfig
	now       func() time.Time
}

// NewChatService creates a new ChatService instance
func NewChatService(
	retriever Retriever,
	model ChatModel,
	chatRepo ChatRepositoryInterface,
	limiter RateLimiter,
	config ChatConfig,
) *ChatService {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultChatConfig().HistoryLimit
	}
	if config.WatchdogTimeout <= 0 {
		config.WatchdogTimeout = DefaultChatConfig().WatchdogTimeout
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	return &ChatService{
		retriever: retriever,
		model:     model,
		chatRepo:  chatRepo,
		limiter:   limiter,
		uuidGen:   &DefaultUUIDGenerator{},
		config:    config,
		now:       time.Now,
	}
}

// WithUUIDGen overrides the UUID generator (for testing).
func (s *ChatService) WithUUIDGen(gen UUIDGenerator) *ChatService {
	s.uuidGen = gen
	return s
}

// Stream answers one visitor message, relaying tokens to sink as they
// arrive. Failures before the first token and failures mid-stream both
// terminate the stream with a single final event; Stream itself returns an
// error only for invalid input or a dead sink.
func (s *ChatService) Stream(ctx context.Context, req StreamRequest, sink EventSink) error {
	ctx, span := telemetry.StartSpan(ctx, "ChatService.Stream", telemetry.SpanAttributes{
		WebsiteID: req.WebsiteID,
		Operation: "chat_stream",
	})
	defer span.End()

	started := s.now()

	// The caller has already committed the event stream, so even input
	// rejection must reach the client as a terminal event.
	if req.WebsiteID == "" {
		_ = s.sendFinalError(sink, &StreamError{
			Code:      domain.ErrCodeValidation,
			Message:   "invalid website",
			RequestID: req.RequestID,
		})
		return domain.ErrInvalidWebsiteID
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		_ = s.sendFinalError(sink, &StreamError{
			Code:      domain.ErrCodeValidation,
			Message:   "message is required",
			RequestID: req.RequestID,
		})
		return domain.ErrEmptyMessage
	}

	if !s.limiter.Allow(req.WebsiteID, req.ClientID) {
		return s.sendFinalError(sink, &StreamError{
			Code:      domain.ErrCodeRateLimited,
			Message:   "too many requests, slow down",
			Retryable: true,
			RequestID: req.RequestID,
		})
	}

	// A missing chat row degrades the turn to stateless: no history, no
	// persistence, but the visitor still gets an answer.
	chat := s.openChat(ctx, req)

	retrieved := s.retrieve(ctx, req.WebsiteID, message)
	history := s.history(ctx, chat)
	prompt := s.buildPrompt(retrieved, history, message)

	s.persist(ctx, chat, domain.MessageRoleUser, message)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.model.StreamChat(genCtx, prompt)
	if err != nil {
		span.SetError(err)
		return s.sendFinalError(sink, s.classifyModelError(err, req.RequestID))
	}
	defer stream.Close()

	answer, streamErr := s.relay(genCtx, cancel, stream, sink)
	if streamErr != nil {
		span.SetError(streamErr)
		// A dead sink or a cancelled request means the client is gone;
		// nobody is listening for a final event.
		if errors.Is(streamErr, errSinkClosed) || ctx.Err() != nil {
			return nil
		}
		return s.sendFinalError(sink, s.classifyStreamError(streamErr, req.RequestID))
	}

	s.persist(ctx, chat, domain.MessageRoleAssistant, answer)

	return sink.Send(StreamEvent{
		Type: EventTypeFinal,
		Final: &FinalPayload{
			Message:       answer,
			UsedDocuments: retrieved.DocumentCount,
			ContextChars:  retrieved.TotalChars,
			LatencyMS:     s.now().Sub(started).Milliseconds(),
			RequestID:     req.RequestID,
		},
	})
}

// errSinkClosed marks a sink write failure: the client disconnected.
var errSinkClosed = errors.New("event sink closed")

// relay pumps tokens from stream to sink under the stall watchdog. It
// returns the accumulated answer, or an error describing why the stream
// ended early.
func (s *ChatService) relay(ctx context.Context, cancel context.CancelFunc, stream TokenStream, sink EventSink) (string, error) {
	type recvResult struct {
		token string
		err   error
	}

	tokens := make(chan recvResult)
	go func() {
		defer close(tokens)
		for {
			token, err := stream.Recv()
			select {
			case tokens <- recvResult{token: token, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	watchdog := time.NewTimer(s.config.WatchdogTimeout)
	defer watchdog.Stop()

	var answer strings.Builder
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-watchdog.C:
			cancel()
			return "", domain.ErrStreamStalled

		case res, ok := <-tokens:
			if !ok {
				return "", fmt.Errorf("token channel closed unexpectedly")
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return answer.String(), nil
				}
				return "", res.err
			}

			if err := sink.Send(StreamEvent{
				Type:  EventTypeToken,
				Token: &TokenPayload{Text: res.token, Seq: seq},
			}); err != nil {
				cancel()
				return "", errSinkClosed
			}
			seq++
			answer.WriteString(res.token)

			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(s.config.WatchdogTimeout)
		}
	}
}

// openChat resolves or creates the chat row, degrading to nil on failure.
func (s *ChatService) openChat(ctx context.Context, req StreamRequest) *domain.Chat {
	if req.SessionID == "" {
		return nil
	}
	chat, err := s.chatRepo.GetOrCreate(ctx, req.WebsiteID, req.SessionID, req.VisitorID)
	if err != nil {
		log.Printf("chat: failed to open chat for session %s: %v", req.SessionID, err)
		telemetry.CaptureError(ctx, err)
		return nil
	}
	return chat
}

// retrieve fetches grounding context, degrading to empty on failure. A
// broken retrieval pipeline must not take the chat down with it.
func (s *ChatService) retrieve(ctx context.Context, websiteID, message string) RetrievedContext {
	retrieved, err := s.retriever.Retrieve(ctx, websiteID, message)
	if err != nil {
		log.Printf("chat: retrieval failed, answering without context: %v", err)
		telemetry.CaptureError(ctx, err)
		return RetrievedContext{}
	}
	return retrieved
}

// history loads recent turns for the chat, oldest first, degrading to none.
func (s *ChatService) history(ctx context.Context, chat *domain.Chat) []*domain.Message {
	if chat == nil {
		return nil
	}
	messages, err := s.chatRepo.RecentMessages(ctx, chat.ID, s.config.HistoryLimit)
	if err != nil {
		log.Printf("chat: failed to load history for chat %s: %v", chat.ID, err)
		return nil
	}

	filtered := messages[:0]
	for _, m := range messages {
		if m.Role == domain.MessageRoleUser || m.Role == domain.MessageRoleAssistant {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// buildPrompt assembles the model input: system prompt, retrieved context,
// prior turns, then the current message.
func (s *ChatService) buildPrompt(retrieved RetrievedContext, history []*domain.Message, message string) []domain.Message {
	prompt := make([]domain.Message, 0, len(history)+3)
	prompt = append(prompt, domain.Message{
		Role:    domain.MessageRoleSystem,
		Content: s.config.SystemPrompt,
	})

	if !retrieved.Empty() {
		prompt = append(prompt, domain.Message{
			Role:    domain.MessageRoleSystem,
			Content: "Context from the website's documents:\n\n" + retrieved.Text,
		})
	}

	for _, m := range history {
		prompt = append(prompt, domain.Message{Role: m.Role, Content: m.Content})
	}

	prompt = append(prompt, domain.Message{
		Role:    domain.MessageRoleUser,
		Content: message,
	})
	return prompt
}

// persist appends a message to the chat, best effort.
func (s *ChatService) persist(ctx context.Context, chat *domain.Chat, role domain.MessageRole, content string) {
	if chat == nil || content == "" {
		return
	}
	m := &domain.Message{
		ID:        s.uuidGen.NewString(),
		ChatID:    chat.ID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.chatRepo.AppendMessage(ctx, m); err != nil {
		log.Printf("chat: failed to persist %s message for chat %s: %v", role, chat.ID, err)
	}
}

// sendFinalError emits the single terminal error event.
func (s *ChatService) sendFinalError(sink EventSink, streamErr *StreamError) error {
	return sink.Send(StreamEvent{
		Type:  EventTypeFinal,
		Final: &FinalPayload{Error: streamErr},
	})
}

func (s *ChatService) classifyModelError(err error, requestID string) *StreamError {
	var me *ModelError
	if errors.As(err, &me) {
		return &StreamError{
			Code:      domain.ErrCodeInternalError,
			Message:   "the assistant is unavailable right now",
			Retryable: me.Retryable,
			RequestID: requestID,
		}
	}
	return &StreamError{
		Code:      domain.ErrCodeInternalError,
		Message:   "the assistant is unavailable right now",
		Retryable: false,
		RequestID: requestID,
	}
}

func (s *ChatService) classifyStreamError(err error, requestID string) *StreamError {
	switch {
	case errors.Is(err, domain.ErrStreamStalled):
		return &StreamError{
			Code:      domain.ErrCodeStalled,
			Message:   "the response stalled, please retry",
			Retryable: true,
			RequestID: requestID,
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return &StreamError{
			Code:      domain.ErrCodeInternalError,
			Message:   "the response was interrupted",
			Retryable: true,
			RequestID: requestID,
		}
	default:
		return s.classifyModelError(err, requestID)
	}
}

package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/verity-labs/docvox/internal/domain"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) GetOrCreate(ctx context.Context, websiteID, sessionID, visitorID string) (*domain.Chat, error) {
	args := m.Called(ctx, websiteID, sessionID, visitorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}

func (m *MockChatRepository) RecentMessages(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockChatRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type stubRetriever struct {
	retrieved RetrievedContext
	err       error
}

func (s *stubRetriever) Retrieve(ctx context.Context, websiteID, query string) (RetrievedContext, error) {
	if s.err != nil {
		return RetrievedContext{}, s.err
	}
	return s.retrieved, nil
}

type stubLimiter struct {
	allow bool
}

func (s *stubLimiter) Allow(websiteID, clientID string) bool {
	return s.allow
}

// fakeTokenStream yields its tokens then finalErr (io.EOF by default). With
// hang set, Recv blocks after the tokens until Close releases it.
type fakeTokenStream struct {
	tokens   []string
	finalErr error
	hang     bool

	idx       int
	closeOnce sync.Once
	released  chan struct{}
	closed    bool
}

func newFakeTokenStream(tokens []string, finalErr error) *fakeTokenStream {
	if finalErr == nil {
		finalErr = io.EOF
	}
	return &fakeTokenStream{tokens: tokens, finalErr: finalErr, released: make(chan struct{})}
}

func (f *fakeTokenStream) Recv() (string, error) {
	if f.idx < len(f.tokens) {
		t := f.tokens[f.idx]
		f.idx++
		return t, nil
	}
	if f.hang {
		<-f.released
		return "", context.Canceled
	}
	return "", f.finalErr
}

func (f *fakeTokenStream) Close() error {
	f.closeOnce.Do(func() {
		f.closed = true
		close(f.released)
	})
	return nil
}

type fakeModel struct {
	stream   TokenStream
	startErr error
	prompt   []domain.Message
}

func (m *fakeModel) StreamChat(ctx context.Context, messages []domain.Message) (TokenStream, error) {
	m.prompt = messages
	if m.startErr != nil {
		return nil, m.startErr
	}
	return m.stream, nil
}

// captureSink records events; failAfter >= 0 makes Send fail once that many
// events have been accepted.
type captureSink struct {
	events    []StreamEvent
	failAfter int
}

func newCaptureSink() *captureSink {
	return &captureSink{failAfter: -1}
}

func (k *captureSink) Send(e StreamEvent) error {
	if k.failAfter >= 0 && len(k.events) >= k.failAfter {
		return errors.New("client gone")
	}
	k.events = append(k.events, e)
	return nil
}

func (k *captureSink) finalEvents() []StreamEvent {
	var finals []StreamEvent
	for _, e := range k.events {
		if e.Type == EventTypeFinal {
			finals = append(finals, e)
		}
	}
	return finals
}

func testChatConfig() ChatConfig {
	cfg := DefaultChatConfig()
	cfg.WatchdogTimeout = 5 * time.Second
	return cfg
}

func statelessRequest() StreamRequest {
	return StreamRequest{
		WebsiteID: "site-1",
		ClientID:  "203.0.113.9",
		Message:   "do you ship to France?",
		RequestID: "req-1",
	}
}

func TestChatService_Stream_HappyPath(t *testing.T) {
	chatRepo := new(MockChatRepository)
	model := &fakeModel{stream: newFakeTokenStream([]string{"We ", "ship ", "worldwide."}, nil)}
	retriever := &stubRetriever{retrieved: RetrievedContext{
		Text:          "Shipping policy: worldwide, 3-5 days.",
		Matches:       []domain.ChunkMatch{{ChunkID: "c1", DocumentID: "d1", Similarity: 0.9}},
		DocumentCount: 1,
		TotalChars:    37,
	}}
	svc := NewChatService(retriever, model, chatRepo, &stubLimiter{allow: true}, testChatConfig()).
		WithUUIDGen(&fixedUUIDGen{ids: []string{"m1", "m2"}})

	chat := &domain.Chat{ID: "chat-1", WebsiteID: "site-1", SessionID: "sess-1"}
	chatRepo.On("GetOrCreate", mock.Anything, "site-1", "sess-1", "vis-1").Return(chat, nil)
	chatRepo.On("RecentMessages", mock.Anything, "chat-1", 20).Return([]*domain.Message{
		{Role: domain.MessageRoleUser, Content: "hi"},
		{Role: domain.MessageRoleAssistant, Content: "hello!"},
	}, nil)
	chatRepo.On("AppendMessage", mock.Anything, mock.Anything).Return(nil)

	req := statelessRequest()
	req.SessionID = "sess-1"
	req.VisitorID = "vis-1"
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), req, sink)

	require.NoError(t, err)
	require.Len(t, sink.events, 4)
	for i, e := range sink.events[:3] {
		assert.Equal(t, EventTypeToken, e.Type)
		assert.Equal(t, i, e.Token.Seq)
	}
	final := sink.events[3]
	assert.Equal(t, EventTypeFinal, final.Type)
	assert.Equal(t, "We ship worldwide.", final.Final.Message)
	assert.Equal(t, 1, final.Final.UsedDocuments)
	assert.Equal(t, 37, final.Final.ContextChars)
	assert.Equal(t, "req-1", final.Final.RequestID)
	assert.Nil(t, final.Final.Error)

	// Prompt: system, context, two history turns, current message.
	require.Len(t, model.prompt, 5)
	assert.Equal(t, domain.MessageRoleSystem, model.prompt[0].Role)
	assert.Contains(t, model.prompt[1].Content, "Shipping policy")
	assert.Equal(t, "hi", model.prompt[2].Content)
	assert.Equal(t, "hello!", model.prompt[3].Content)
	assert.Equal(t, "do you ship to France?", model.prompt[4].Content)

	chatRepo.AssertNumberOfCalls(t, "AppendMessage", 2)
}

func TestChatService_Stream_EmptyMessage(t *testing.T) {
	svc := NewChatService(&stubRetriever{}, &fakeModel{}, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()

	req := statelessRequest()
	req.Message = "   "
	err := svc.Stream(context.Background(), req, sink)

	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	require.Len(t, sink.events, 1)
	final := sink.events[0]
	assert.Equal(t, EventTypeFinal, final.Type)
	require.NotNil(t, final.Final.Error)
	assert.Equal(t, domain.ErrCodeValidation, final.Final.Error.Code)
	assert.False(t, final.Final.Error.Retryable)
}

func TestChatService_Stream_RateLimited(t *testing.T) {
	model := &fakeModel{}
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: false}, testChatConfig())
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	final := sink.events[0]
	require.Equal(t, EventTypeFinal, final.Type)
	require.NotNil(t, final.Final.Error)
	assert.Equal(t, domain.ErrCodeRateLimited, final.Final.Error.Code)
	assert.True(t, final.Final.Error.Retryable)
	assert.Equal(t, "req-1", final.Final.Error.RequestID)
	assert.Nil(t, model.prompt)
}

func TestChatService_Stream_RetrievalFailureDegrades(t *testing.T) {
	model := &fakeModel{stream: newFakeTokenStream([]string{"answer"}, nil)}
	retriever := &stubRetriever{err: domain.NewRetrievalError(errors.New("db down"))}
	svc := NewChatService(retriever, model, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	// No context block in the prompt: just system and the user message.
	require.Len(t, model.prompt, 2)
	assert.Equal(t, domain.MessageRoleSystem, model.prompt[0].Role)
	assert.Equal(t, domain.MessageRoleUser, model.prompt[1].Role)

	finals := sink.finalEvents()
	require.Len(t, finals, 1)
	assert.Equal(t, "answer", finals[0].Final.Message)
}

func TestChatService_Stream_ModelStartFailure(t *testing.T) {
	model := &fakeModel{startErr: &ModelError{Retryable: true, Err: errors.New("429")}}
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	final := sink.events[0].Final
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.ErrCodeInternalError, final.Error.Code)
	assert.True(t, final.Error.Retryable)
}

func TestChatService_Stream_StallTriggersWatchdog(t *testing.T) {
	stream := newFakeTokenStream([]string{"partial "}, nil)
	stream.hang = true
	model := &fakeModel{stream: stream}
	cfg := testChatConfig()
	cfg.WatchdogTimeout = 30 * time.Millisecond
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: true}, cfg)
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	finals := sink.finalEvents()
	require.Len(t, finals, 1)
	require.NotNil(t, finals[0].Final.Error)
	assert.Equal(t, "STREAM_STALLED", finals[0].Final.Error.Code)
	assert.True(t, finals[0].Final.Error.Retryable)
	assert.True(t, stream.closed)
}

func TestChatService_Stream_MidStreamError(t *testing.T) {
	model := &fakeModel{stream: newFakeTokenStream([]string{"a", "b"}, &ModelError{Retryable: false, Err: errors.New("upstream reset")})}
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	require.Len(t, sink.events, 3)
	final := sink.events[2].Final
	require.NotNil(t, final.Error)
	assert.Equal(t, domain.ErrCodeInternalError, final.Error.Code)
	assert.False(t, final.Error.Retryable)
	assert.Empty(t, final.Message)
}

func TestChatService_Stream_SinkFailureStopsStream(t *testing.T) {
	stream := newFakeTokenStream([]string{"a", "b", "c"}, nil)
	model := &fakeModel{stream: stream}
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()
	sink.failAfter = 1

	err := svc.Stream(context.Background(), statelessRequest(), sink)

	require.NoError(t, err)
	// One accepted token, then the sink died: no final event follows.
	require.Len(t, sink.events, 1)
	assert.Equal(t, EventTypeToken, sink.events[0].Type)
	assert.True(t, stream.closed)
}

func TestChatService_Stream_ClientCancel(t *testing.T) {
	stream := newFakeTokenStream([]string{"a"}, nil)
	stream.hang = true
	model := &fakeModel{stream: stream}
	svc := NewChatService(&stubRetriever{}, model, new(MockChatRepository), &stubLimiter{allow: true}, testChatConfig())
	sink := newCaptureSink()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := svc.Stream(ctx, statelessRequest(), sink)

	require.NoError(t, err)
	assert.Empty(t, sink.finalEvents())
}

func TestChatService_Stream_ChatRepoFailureIsStateless(t *testing.T) {
	chatRepo := new(MockChatRepository)
	model := &fakeModel{stream: newFakeTokenStream([]string{"answer"}, nil)}
	svc := NewChatService(&stubRetriever{}, model, chatRepo, &stubLimiter{allow: true}, testChatConfig())

	chatRepo.On("GetOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))

	req := statelessRequest()
	req.SessionID = "sess-1"
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), req, sink)

	require.NoError(t, err)
	finals := sink.finalEvents()
	require.Len(t, finals, 1)
	assert.Equal(t, "answer", finals[0].Final.Message)
	chatRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	chatRepo.AssertNotCalled(t, "RecentMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatService_Stream_HistoryFiltersSystemRows(t *testing.T) {
	chatRepo := new(MockChatRepository)
	model := &fakeModel{stream: newFakeTokenStream([]string{"ok"}, nil)}
	svc := NewChatService(&stubRetriever{}, model, chatRepo, &stubLimiter{allow: true}, testChatConfig())

	chat := &domain.Chat{ID: "chat-1", WebsiteID: "site-1", SessionID: "sess-1"}
	chatRepo.On("GetOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(chat, nil)
	chatRepo.On("RecentMessages", mock.Anything, "chat-1", 20).Return([]*domain.Message{
		{Role: domain.MessageRoleSystem, Content: "internal note"},
		{Role: domain.MessageRoleUser, Content: "hi"},
	}, nil)
	chatRepo.On("AppendMessage", mock.Anything, mock.Anything).Return(nil)

	req := statelessRequest()
	req.SessionID = "sess-1"
	sink := newCaptureSink()

	err := svc.Stream(context.Background(), req, sink)

	require.NoError(t, err)
	// system prompt, one surviving history row, current message
	require.Len(t, model.prompt, 3)
	assert.Equal(t, "hi", model.prompt[1].Content)
}

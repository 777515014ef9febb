//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/verity-labs/docvox/internal/api/handlers"
	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/ratelimit"
	"github.com/verity-labs/docvox/internal/repository"
	"github.com/verity-labs/docvox/internal/server"
	"github.com/verity-labs/docvox/internal/service"
	"github.com/verity-labs/docvox/internal/storage"
	"github.com/verity-labs/docvox/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	IngestSvc    *service.IngestService
	WebsiteSvc   *service.WebsiteService
	AuthSvc      *service.AuthService
	HTTPClient   *http.Client

	// AuthToken, when set, is sent as a bearer credential on every
	// document API request.
	AuthToken string
}

// SetupE2EEnv creates a full E2E test environment with containers and an
// in-process server. Embeddings and chat completion are deterministic
// stubs so no external model provider is needed.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	env.ServerURL, env.ServerCloser = env.startServer(port)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

func (e *E2ETestEnv) startServer(port int) (string, func()) {
	websiteRepo := repository.NewWebsiteRepository(e.Pool)
	documentRepo := repository.NewDocumentRepository(e.Pool)
	chunkRepo := repository.NewChunkRepository(e.Pool)
	chatRepo := repository.NewChatRepository(e.Pool)
	apikeyRepo := repository.NewAPIKeyRepository(e.Pool)

	embedder := &wordHashEmbedder{}

	e.WebsiteSvc = service.NewWebsiteService(websiteRepo, &service.DefaultUUIDGenerator{})
	e.AuthSvc = service.NewAuthService(apikeyRepo, websiteRepo, &service.DefaultUUIDGenerator{})
	e.IngestSvc = service.NewIngestService(documentRepo, chunkRepo, e.S3Client, embedder, service.IngestConfig{
		ChunkWindow:            200,
		ChunkOverlap:           40,
		EmbedRequestsPerSecond: 1000,
	}).WithTxRunner(repository.NewTxRunner(e.Pool))

	retrievalSvc := service.NewRetrievalService(embedder, chunkRepo, service.RetrievalConfig{
		SimilarityThreshold: 0.1,
	})

	limiter := ratelimit.NewLimiter(time.Minute, 100)
	chatSvc := service.NewChatService(retrievalSvc, &echoChatModel{}, chatRepo, limiter, service.ChatConfig{})

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:     handlers.NewChatHandler(chatSvc, e.WebsiteSvc),
		DocumentHandler: handlers.NewDocumentHandler(e.IngestSvc),
		AuthValidator:   e.AuthSvc,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.T.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(e.T, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// CreateWebsite registers a tenant directly through the service layer.
func (e *E2ETestEnv) CreateWebsite(name, siteDomain string) *domain.Website {
	website, err := e.WebsiteSvc.Create(e.Ctx, name, siteDomain)
	if err != nil {
		e.T.Fatalf("failed to create website: %v", err)
	}
	return website
}

// CreateAPIKey issues an admin key for a website and returns the plaintext
// token.
func (e *E2ETestEnv) CreateAPIKey(websiteID string) string {
	token, err := e.AuthSvc.CreateAPIKey(e.Ctx, websiteID, "e2e")
	if err != nil {
		e.T.Fatalf("failed to create api key: %v", err)
	}
	return token
}

// ProcessPendingDocuments drains the ingestion queue until no claimed work
// remains, standing in for the background worker loop.
func (e *E2ETestEnv) ProcessPendingDocuments() {
	for {
		n, err := e.IngestSvc.ProcessPending(e.Ctx)
		if err != nil {
			e.T.Fatalf("failed to process pending documents: %v", err)
		}
		if n == 0 {
			return
		}
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.AuthToken)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// StreamChat posts a chat turn and collects the SSE events until the
// stream closes. origin may be empty to omit the header.
func (e *E2ETestEnv) StreamChat(origin string, body interface{}) ([]service.StreamEvent, *http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest("POST", e.ServerURL+"/v1/chat/stream", bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var events []service.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event service.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			return nil, resp, fmt.Errorf("bad event payload %q: %w", line, err)
		}
		events = append(events, event)
	}
	return events, resp, scanner.Err()
}

// wordHashEmbedder maps text to a unit vector by hashing words into
// dimension buckets. Texts sharing vocabulary land near each other, which
// is enough for retrieval to behave realistically without a model.
type wordHashEmbedder struct{}

func (e *wordHashEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 1536)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,!?:;\"'()")))
		vec[h.Sum32()%1536]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// echoChatModel streams a fixed answer token by token.
type echoChatModel struct{}

var echoTokens = []string{"We ", "ship ", "worldwide ", "within ", "5 ", "days."}

func (m *echoChatModel) StreamChat(ctx context.Context, messages []domain.Message) (service.TokenStream, error) {
	return &echoStream{}, nil
}

type echoStream struct {
	next int
}

func (s *echoStream) Recv() (string, error) {
	if s.next >= len(echoTokens) {
		return "", io.EOF
	}
	token := echoTokens[s.next]
	s.next++
	return token, nil
}

func (s *echoStream) Close() error { return nil }

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

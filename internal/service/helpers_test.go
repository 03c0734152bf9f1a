package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"github.com/lynnbot/assistant-server-go/internal/feishu"
	"github.com/lynnbot/assistant-server-go/internal/model"
)

type mockCredentialRepo struct {
	mock.Mock
}

func (m *mockCredentialRepo) FindByUserID(ctx context.Context, userOpenID string) (*model.CredentialRecord, error) {
	args := m.Called(ctx, userOpenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CredentialRecord), args.Error(1)
}

func (m *mockCredentialRepo) Upsert(ctx context.Context, params model.UpsertCredentialParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockCredentialRepo) Delete(ctx context.Context, userOpenID string) error {
	args := m.Called(ctx, userOpenID)
	return args.Error(0)
}

func (m *mockCredentialRepo) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type mockTurnRepo struct {
	mock.Mock
}

func (m *mockTurnRepo) Append(ctx context.Context, sessionID string, role model.Role, content string) error {
	args := m.Called(ctx, sessionID, role, content)
	return args.Error(0)
}

func (m *mockTurnRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Turn, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Turn), args.Error(1)
}

func (m *mockTurnRepo) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

type mockKnowledgeRepo struct {
	mock.Mock
}

func (m *mockKnowledgeRepo) ListAll(ctx context.Context) ([]model.KnowledgeEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.KnowledgeEntry), args.Error(1)
}

func (m *mockKnowledgeRepo) Create(ctx context.Context, content string) (*model.KnowledgeEntry, error) {
	args := m.Called(ctx, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.KnowledgeEntry), args.Error(1)
}

type staticUserTokens struct {
	token string
	err   error
}

func (s staticUserTokens) GetUserToken(ctx context.Context, userID string) (string, error) {
	return s.token, s.err
}

// fakeFeishu serves the subset of the open platform the services call.
type fakeFeishu struct {
	mu sync.Mutex

	tenantCalls   int
	refreshCalls  int
	exchangeCalls int
	refreshFail   bool
	noPrimary     bool
	events        string
	lastBody      map[string]any
	requests      []string
	sent          []string
}

func (f *fakeFeishu) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, _ := io.ReadAll(r.Body)
	f.lastBody = nil
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &f.lastBody)
	}
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/auth/v3/tenant_access_token/internal":
		f.tenantCalls++
		w.Write([]byte(`{"code":0,"msg":"ok","tenant_access_token":"t-tenant","expire":7200}`))
	case r.URL.Path == "/authen/v1/refresh_access_token":
		f.refreshCalls++
		if f.refreshFail {
			w.Write([]byte(`{"code":20026,"msg":"refresh token invalid"}`))
			return
		}
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"access_token":"u-new","refresh_token":"ur-new","expires_in":7200,"open_id":"ou_1"}}`))
	case r.URL.Path == "/authen/v1/access_token":
		f.exchangeCalls++
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"access_token":"u-first","refresh_token":"ur-first","expires_in":7200,"open_id":"ou_1"}}`))
	case r.URL.Path == "/calendar/v4/calendars":
		if f.noPrimary {
			w.Write([]byte(`{"code":0,"data":{"calendar_list":[{"calendar_id":"shared","type":"shared"}]}}`))
			return
		}
		w.Write([]byte(`{"code":0,"data":{"calendar_list":[{"calendar_id":"primary-cal","type":"primary"}]}}`))
	case r.URL.Path == "/calendar/v4/calendars/primary-cal/events" && r.Method == http.MethodGet:
		events := f.events
		if events == "" {
			events = "[]"
		}
		w.Write([]byte(`{"code":0,"data":{"items":` + events + `,"has_more":false}}`))
	case r.URL.Path == "/calendar/v4/calendars/primary-cal/events" && r.Method == http.MethodPost:
		w.Write([]byte(`{"code":0,"data":{"event":{"event_id":"evt-new","summary":"created"}}}`))
	case strings.HasPrefix(r.URL.Path, "/calendar/v4/calendars/primary-cal/events/"):
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	case r.URL.Path == "/im/v1/messages":
		if content, ok := f.lastBody["content"].(string); ok {
			f.sent = append(f.sent, content)
		}
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"msg":"not found"}`))
	}
}

func (f *fakeFeishu) counts() (tenant, refresh, exchange int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenantCalls, f.refreshCalls, f.exchangeCalls
}

func (f *fakeFeishu) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeFeishu) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeFeishu) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newFakeFeishu(t *testing.T) (*fakeFeishu, *feishu.Client) {
	t.Helper()
	fake := &fakeFeishu{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, feishu.NewClient(srv.URL, 5*time.Second)
}

// newTestRedis connects to TEST_REDIS_URL (default DB 15 on localhost) and
// skips the test when no server answers.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() { client.Close() })
	return client
}

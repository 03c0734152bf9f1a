package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/lynnbot/assistant-server-go/internal/model"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

var testNow = time.Date(2025, 9, 3, 10, 0, 0, 0, time.UTC)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func callResponse(calls ...*genai.FunctionCall) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, &genai.Part{FunctionCall: c})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromParts(parts, genai.RoleModel)}},
	}
}

func newMessageEvent(text string, created time.Time) *model.Event {
	content, _ := json.Marshal(map[string]string{"text": text})
	ms := strconv.FormatInt(created.UnixMilli(), 10)
	ev := &model.Event{Schema: "2.0"}
	ev.Header.EventID = "ev_1"
	ev.Header.EventType = model.EventTypeMessageReceive
	ev.Header.CreateTime = ms
	ev.Event.Sender.SenderType = model.SenderTypeUser
	ev.Event.Sender.SenderID.OpenID = "ou_1"
	ev.Event.Message.MessageID = "om_1"
	ev.Event.Message.MessageType = model.MessageTypeText
	ev.Event.Message.Content = string(content)
	ev.Event.Message.CreateTime = ms
	return ev
}

type fakeModel struct {
	mu        sync.Mutex
	responses []*genai.GenerateContentResponse
	errs      map[int]error
	panicOn   int
	calls     [][]*genai.Content
	configs   []*genai.GenerateContentConfig
	tokens    int32
	tokenErr  error
}

func (m *fakeModel) GenerateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, append([]*genai.Content(nil), contents...))
	m.configs = append(m.configs, cfg)
	if m.panicOn == idx+1 {
		panic("model exploded")
	}
	if err := m.errs[idx]; err != nil {
		return nil, err
	}
	if idx >= len(m.responses) {
		return textResponse(""), nil
	}
	return m.responses[idx], nil
}

func (m *fakeModel) CountTokens(ctx context.Context, contents []*genai.Content) (int32, error) {
	return m.tokens, m.tokenErr
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memTurn struct {
	role model.Role
	text string
}

type fakeMemory struct {
	mu       sync.Mutex
	turns    map[string][]memTurn
	reads    int
	readErr  error
	clearErr error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{turns: map[string][]memTurn{}}
}

func (f *fakeMemory) Append(ctx context.Context, sessionID string, role model.Role, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[sessionID] = append(f.turns[sessionID], memTurn{role: role, text: text})
}

func (f *fakeMemory) Read(ctx context.Context, sessionID string) ([]*genai.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]*genai.Content, 0, len(f.turns[sessionID]))
	for _, t := range f.turns[sessionID] {
		role := genai.RoleModel
		if t.role == model.RoleUser {
			role = genai.RoleUser
		}
		out = append(out, genai.NewContentFromText(t.text, genai.Role(role)))
	}
	return out, nil
}

func (f *fakeMemory) Clear(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.turns, sessionID)
	return nil
}

func (f *fakeMemory) session(sessionID string) []memTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]memTurn(nil), f.turns[sessionID]...)
}

type sentReply struct {
	openID string
	text   string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (f *fakeReplier) SendText(ctx context.Context, openID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentReply{openID: openID, text: text})
	return f.err
}

func (f *fakeReplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeCalendar struct {
	mu      sync.Mutex
	result  string
	queries [][2]string
	created []service.CreateEventParams
	updated []service.UpdateEventParams
	deleted []string
}

func (c *fakeCalendar) QueryEvents(ctx context.Context, userID, startTime, endTime string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, [2]string{startTime, endTime})
	return c.result
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, userID string, p service.CreateEventParams) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, p)
	return c.result
}

func (c *fakeCalendar) UpdateEvent(ctx context.Context, userID, eventID string, p service.UpdateEventParams) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, p)
	return c.result
}

func (c *fakeCalendar) DeleteEvent(ctx context.Context, userID, eventID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, eventID)
	return c.result
}

type fakeKnowledge struct {
	answer  string
	err     error
	queries []string
}

func (k *fakeKnowledge) Retrieve(ctx context.Context, query string) (string, error) {
	k.queries = append(k.queries, query)
	return k.answer, k.err
}

type fakeDeduper struct {
	seen map[string]bool
}

func (d *fakeDeduper) FirstSeen(ctx context.Context, messageID string) bool {
	if d.seen[messageID] {
		return false
	}
	d.seen[messageID] = true
	return true
}

type fakeLimiter struct {
	allowed bool
	keys    []string
}

func (l *fakeLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	l.keys = append(l.keys, key)
	return l.allowed, time.Now().Add(window)
}

type fakeTracker struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (t *fakeTracker) CaptureError(ctx context.Context, err error, tags map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
	t.tags = append(t.tags, tags)
}

func (t *fakeTracker) Flush(time.Duration) {}

type noCredentials struct{}

func (noCredentials) GetUserToken(ctx context.Context, userID string) (string, error) {
	return "", service.ErrNoCredential
}

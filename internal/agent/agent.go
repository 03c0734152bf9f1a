// Package agent runs one chat message through the model, dispatching at most
// one tool call, and delivers the answer back to the user.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/lynnbot/assistant-server-go/internal/audit"
	"github.com/lynnbot/assistant-server-go/internal/config"
	"github.com/lynnbot/assistant-server-go/internal/errtrack"
	"github.com/lynnbot/assistant-server-go/internal/metrics"
	"github.com/lynnbot/assistant-server-go/internal/model"
	redisutil "github.com/lynnbot/assistant-server-go/internal/redis"
)

// Model is the subset of the Gemini client the loop uses.
type Model interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	CountTokens(ctx context.Context, contents []*genai.Content) (int32, error)
}

type Memory interface {
	Append(ctx context.Context, sessionID string, role model.Role, text string)
	Read(ctx context.Context, sessionID string) ([]*genai.Content, error)
	Clear(ctx context.Context, sessionID string) error
}

type Replier interface {
	SendText(ctx context.Context, openID, text string) error
}

type MessageDeduper interface {
	FirstSeen(ctx context.Context, messageID string) bool
}

type RateLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

// Deps are the collaborators of an Agent. Deduper, Limiter, Metrics and
// Tracker are optional.
type Deps struct {
	Model   Model
	Memory  Memory
	Tools   *Registry
	Replier Replier
	Deduper MessageDeduper
	Limiter RateLimiter
	Metrics *metrics.Metrics
	Tracker errtrack.Tracker
}

type Options struct {
	Location      *time.Location
	StaleAfter    time.Duration
	UserRateLimit int // messages per minute, 0 disables
}

type Agent struct {
	Deps
	opts Options
	now  func() time.Time
}

func New(deps Deps, opts Options) *Agent {
	if deps.Tools == nil {
		deps.Tools = NewRegistry()
	}
	if deps.Tracker == nil {
		deps.Tracker = errtrack.Noop{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = config.MessageStaleAfter
	}
	return &Agent{Deps: deps, opts: opts, now: time.Now}
}

// Handle processes one decoded event to completion. It never panics and
// reports failures to the user and the error tracker itself.
func (a *Agent) Handle(ctx context.Context, event *model.Event) {
	if !a.accept(event) {
		return
	}

	userID := event.SenderOpenID()
	messageID := event.Event.Message.MessageID
	text := strings.TrimSpace(event.Text())

	if a.Deduper != nil && !a.Deduper.FirstSeen(ctx, messageID) {
		log.Info().Str("userId", userID).Str("messageId", messageID).Msg("duplicate message ignored")
		return
	}
	if text == "" {
		log.Info().Str("userId", userID).Str("messageId", messageID).
			Str("messageType", event.Event.Message.MessageType).Msg("ignoring message without text")
		return
	}

	if text == ResetCommand {
		a.reset(ctx, userID)
		return
	}

	if !a.allow(ctx, userID) {
		a.send(ctx, userID, slowDownReply)
		return
	}

	a.run(ctx, userID, messageID, text)
}

func (a *Agent) accept(event *model.Event) bool {
	if event == nil {
		return false
	}
	if event.Header.EventType != model.EventTypeMessageReceive {
		log.Debug().Str("eventType", event.Header.EventType).Msg("ignoring event type")
		return false
	}
	if event.Event.Sender.SenderType != model.SenderTypeUser || event.SenderOpenID() == "" {
		log.Debug().Str("senderType", event.Event.Sender.SenderType).Msg("ignoring non-user sender")
		return false
	}
	created, ok := event.CreatedAt()
	if !ok {
		return true
	}
	if age := a.now().Sub(created); age > a.opts.StaleAfter {
		log.Info().
			Str("userId", event.SenderOpenID()).
			Str("messageId", event.Event.Message.MessageID).
			Dur("age", age).
			Msg("ignoring stale message")
		return false
	}
	return true
}

func (a *Agent) allow(ctx context.Context, userID string) bool {
	if a.Limiter == nil || a.opts.UserRateLimit <= 0 {
		return true
	}
	allowed, resetAt := a.Limiter.CheckLimit(ctx, redisutil.UserRateLimitKey(userID), a.opts.UserRateLimit, time.Minute)
	if !allowed {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventRateLimitExceed,
			UserID: userID,
			Details: map[string]interface{}{
				"limit":   a.opts.UserRateLimit,
				"resetAt": resetAt,
			},
		})
	}
	return allowed
}

func (a *Agent) reset(ctx context.Context, userID string) {
	if err := a.Memory.Clear(ctx, userID); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to reset history")
		a.Tracker.CaptureError(ctx, err, map[string]string{"userId": userID, "stage": "reset"})
		a.send(ctx, userID, apologyReply)
		return
	}
	audit.Log(ctx, audit.Event{Type: audit.EventHistoryReset, UserID: userID})
	a.send(ctx, userID, resetReply)
}

func (a *Agent) run(ctx context.Context, userID, messageID, text string) {
	rm := newRunMetrics(userID, text, a.now())
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("agent panic: %v", r)
			log.Error().Str("runId", rm.RunID).Str("stack", string(debug.Stack())).Msg("agent run panicked")
		}
		if runErr != nil {
			a.fail(ctx, rm, messageID, runErr)
			rm.emit(a.Metrics, metrics.StatusError, a.now())
			return
		}
		rm.emit(a.Metrics, metrics.StatusSuccess, a.now())
	}()

	runErr = a.converse(ctx, rm, text)
}

func (a *Agent) converse(ctx context.Context, rm *RunMetrics, text string) error {
	a.Memory.Append(ctx, rm.SessionID, model.RoleUser, text)

	history, err := a.Memory.Read(ctx, rm.SessionID)
	if err != nil {
		return err
	}
	contents := withUserMessage(history, text)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt(a.now(), a.opts.Location, a.Tools.Has(ToolCreateCalendarEvent))}},
		},
		Tools: a.Tools.Declarations(),
	}

	if tokens, err := a.Model.CountTokens(ctx, contents); err != nil {
		log.Warn().Err(err).Str("runId", rm.RunID).Msg("token count failed")
	} else {
		rm.TokenCount = tokens
	}

	resp, err := a.generate(ctx, rm, contents, cfg)
	if err != nil {
		return err
	}

	var answer string
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		call := calls[0]
		if len(calls) > 1 {
			ignored := make([]string, 0, len(calls)-1)
			for _, c := range calls[1:] {
				ignored = append(ignored, c.Name)
			}
			log.Warn().Str("runId", rm.RunID).Strs("ignored", ignored).Msg("model requested several tools, using the first")
		}

		rm.Decision = "tool:" + call.Name
		if !a.Tools.Has(call.Name) {
			rm.label = DecisionUnknownTool
		}
		result := a.dispatch(ctx, rm, call)

		contents = append(contents,
			modelTurn(resp, call),
			genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse(call.Name, map[string]any{"content": result}),
			}, genai.RoleUser),
		)

		resp, err = a.generate(ctx, rm, contents, cfg)
		if err != nil {
			return err
		}
	} else {
		rm.Decision = DecisionDirect
	}

	answer = strings.TrimSpace(resp.Text())
	if answer == "" {
		log.Warn().Str("runId", rm.RunID).Msg("model returned no text")
		answer = fallbackAnswer
	}

	a.Memory.Append(ctx, rm.SessionID, model.RoleModel, answer)
	a.send(ctx, rm.SessionID, answer)
	return nil
}

// modelTurn replays the first candidate with every function call except the
// dispatched one removed. Other parts, thought signatures included, are kept.
func modelTurn(resp *genai.GenerateContentResponse, call *genai.FunctionCall) *genai.Content {
	var src *genai.Content
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		src = resp.Candidates[0].Content
	}
	if src == nil {
		return genai.NewContentFromParts([]*genai.Part{{FunctionCall: call}}, genai.RoleModel)
	}

	parts := make([]*genai.Part, 0, len(src.Parts))
	for _, p := range src.Parts {
		if p == nil || (p.FunctionCall != nil && p.FunctionCall != call) {
			continue
		}
		parts = append(parts, p)
	}
	return &genai.Content{Role: genai.RoleModel, Parts: parts}
}

func (a *Agent) generate(ctx context.Context, rm *RunMetrics, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	start := time.Now()
	resp, err := a.Model.GenerateContent(ctx, contents, cfg)
	rm.ModelTime += time.Since(start)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("model returned no response")
	}
	return resp, nil
}

func (a *Agent) dispatch(ctx context.Context, rm *RunMetrics, call *genai.FunctionCall) string {
	start := time.Now()
	result, known := a.Tools.Call(ctx, rm.SessionID, call.Name, call.Args)
	if known {
		a.Metrics.ToolCall(call.Name)
	}
	log.Info().
		Str("runId", rm.RunID).
		Str("tool", call.Name).
		Bool("known", known).
		Int("resultLength", len(result)).
		Dur("elapsed", time.Since(start)).
		Msg("tool dispatched")
	return result
}

func (a *Agent) fail(ctx context.Context, rm *RunMetrics, messageID string, err error) {
	log.Error().Err(err).Str("runId", rm.RunID).Str("userId", rm.SessionID).Str("messageId", messageID).Msg("agent run failed")
	a.Tracker.CaptureError(ctx, err, map[string]string{
		"userId":    rm.SessionID,
		"runId":     rm.RunID,
		"messageId": messageID,
		"decision":  rm.Decision,
	})
	if rm.SessionID != "" {
		a.send(ctx, rm.SessionID, apologyReply)
	}
}

// send delivers a reply once; failures are logged and dropped.
func (a *Agent) send(ctx context.Context, userID, text string) {
	if err := a.Replier.SendText(ctx, userID, text); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to deliver reply")
	}
}

// withUserMessage appends the current message unless the history read back
// already ends with it.
func withUserMessage(history []*genai.Content, text string) []*genai.Content {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last != nil && last.Role == genai.RoleUser && len(last.Parts) > 0 && last.Parts[len(last.Parts)-1].Text == text {
			return history
		}
	}
	return append(history, genai.NewContentFromText(text, genai.RoleUser))
}

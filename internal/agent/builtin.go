package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	apperrors "github.com/lynnbot/assistant-server-go/internal/errors"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

const (
	ToolKnowledgeRetriever  = "knowledge_retriever"
	ToolGetCalendarEvents   = "get_calendar_events"
	ToolCreateCalendarEvent = "create_calendar_event"
	ToolUpdateCalendarEvent = "update_calendar_event"
	ToolDeleteCalendarEvent = "delete_calendar_event"
)

// KnowledgeSource answers free-text questions from the knowledge base.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Calendar operates on a user's primary calendar and reports in text.
type Calendar interface {
	QueryEvents(ctx context.Context, userID, startTime, endTime string) string
	CreateEvent(ctx context.Context, userID string, p service.CreateEventParams) string
	UpdateEvent(ctx context.Context, userID, eventID string, p service.UpdateEventParams) string
	DeleteEvent(ctx context.Context, userID, eventID string) string
}

// DefaultTools returns the read tools, plus the calendar write tools when
// writeTools is set.
func DefaultTools(knowledge KnowledgeSource, calendar Calendar, writeTools bool) []Tool {
	tools := []Tool{
		&knowledgeTool{source: knowledge},
		&queryEventsTool{calendar: calendar},
	}
	if writeTools {
		tools = append(tools,
			&createEventTool{calendar: calendar},
			&updateEventTool{calendar: calendar},
			&deleteEventTool{calendar: calendar},
		)
	}
	return tools
}

type knowledgeTool struct {
	source KnowledgeSource
}

func (t *knowledgeTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolKnowledgeRetriever,
		Description: "Looks up the user's stored knowledge: projects, preferences, notes and other personal facts. Pass the question in natural language.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": stringSchema("The question to look up, e.g. \"What is project Atlas about?\""),
			},
			Required: []string{"query"},
		},
	}
}

func (t *knowledgeTool) Call(ctx context.Context, userID string, args map[string]any) string {
	query := stringArg(args, "query")
	if query == "" {
		return "The knowledge lookup needs a non-empty query."
	}

	answer, err := t.source.Retrieve(ctx, query)
	if err != nil {
		reason := err.Error()
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Message != "" {
			reason = appErr.Message
		}
		log.Warn().Err(err).Str("userId", userID).Msg("knowledge retrieval failed")
		return fmt.Sprintf("Knowledge retrieval failed (%s). Tell the user the information could not be looked up right now.", reason)
	}
	if answer == "" {
		return "No relevant information was found in the knowledge base."
	}
	return answer
}

type queryEventsTool struct {
	calendar Calendar
}

func (t *queryEventsTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolGetCalendarEvents,
		Description: "Lists the events on the user's primary calendar between start_time and end_time. Use it for any question about the schedule, meetings or free time.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"start_time": stringSchema("Window start in RFC3339, e.g. 2025-09-03T00:00:00+08:00"),
				"end_time":   stringSchema("Window end in RFC3339, e.g. 2025-09-04T00:00:00+08:00"),
			},
			Required: []string{"start_time", "end_time"},
		},
	}
}

func (t *queryEventsTool) Call(ctx context.Context, userID string, args map[string]any) string {
	return t.calendar.QueryEvents(ctx, userID, stringArg(args, "start_time"), stringArg(args, "end_time"))
}

type createEventTool struct {
	calendar Calendar
}

func (t *createEventTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolCreateCalendarEvent,
		Description: "Creates an event on the user's primary calendar with a 15 minute reminder.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"summary":     stringSchema("Event title"),
				"start_time":  stringSchema("Start in RFC3339"),
				"end_time":    stringSchema("End in RFC3339"),
				"description": stringSchema("Optional event description"),
				"attendee_open_ids": {
					Type:        genai.TypeArray,
					Description: "Optional open_ids of users to invite",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
				"create_video_meeting": {
					Type:        genai.TypeBoolean,
					Description: "Attach a video meeting link",
				},
			},
			Required: []string{"summary", "start_time", "end_time"},
		},
	}
}

func (t *createEventTool) Call(ctx context.Context, userID string, args map[string]any) string {
	return t.calendar.CreateEvent(ctx, userID, service.CreateEventParams{
		Summary:            stringArg(args, "summary"),
		StartTime:          stringArg(args, "start_time"),
		EndTime:            stringArg(args, "end_time"),
		Description:        stringArg(args, "description"),
		AttendeeOpenIDs:    stringsArg(args, "attendee_open_ids"),
		CreateVideoMeeting: boolArg(args, "create_video_meeting"),
	})
}

type updateEventTool struct {
	calendar Calendar
}

func (t *updateEventTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolUpdateCalendarEvent,
		Description: "Changes an existing event. Only the given fields are updated. Look the event up first to get its ID.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"event_id":    stringSchema("ID of the event to change"),
				"summary":     stringSchema("New title"),
				"start_time":  stringSchema("New start in RFC3339"),
				"end_time":    stringSchema("New end in RFC3339"),
				"description": stringSchema("New description"),
				"attendee_open_ids": {
					Type:        genai.TypeArray,
					Description: "Replacement list of attendee open_ids; an empty list removes all attendees",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"event_id"},
		},
	}
}

func (t *updateEventTool) Call(ctx context.Context, userID string, args map[string]any) string {
	return t.calendar.UpdateEvent(ctx, userID, stringArg(args, "event_id"), service.UpdateEventParams{
		Summary:         stringArg(args, "summary"),
		StartTime:       stringArg(args, "start_time"),
		EndTime:         stringArg(args, "end_time"),
		Description:     stringArg(args, "description"),
		AttendeeOpenIDs: stringsArg(args, "attendee_open_ids"),
	})
}

type deleteEventTool struct {
	calendar Calendar
}

func (t *deleteEventTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ToolDeleteCalendarEvent,
		Description: "Deletes an event from the user's primary calendar. Confirm with the user before calling.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"event_id": stringSchema("ID of the event to delete"),
			},
			Required: []string{"event_id"},
		},
	}
}

func (t *deleteEventTool) Call(ctx context.Context, userID string, args map[string]any) string {
	return t.calendar.DeleteEvent(ctx, userID, stringArg(args, "event_id"))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/feishu"
)

const (
	reminderMinutes = 15
	eventTimeLayout = "2006-01-02 15:04"
)

// Fallback layouts accepted when the model omits the zone offset; they are
// read in the assistant's time zone.
var localTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

type CreateEventParams struct {
	Summary            string
	StartTime          string
	EndTime            string
	Description        string
	AttendeeOpenIDs    []string
	CreateVideoMeeting bool
}

// UpdateEventParams holds optional fields; empty strings and a nil slice mean
// "leave unchanged".
type UpdateEventParams struct {
	Summary         string
	StartTime       string
	EndTime         string
	Description     string
	AttendeeOpenIDs []string
}

// CalendarTools operates on the requesting user's primary calendar. Every
// method returns text for the model; failures are described, never returned.
type CalendarTools struct {
	tokens  UserTokenSource
	api     *feishu.Client
	loc     *time.Location
	authURL string
}

func NewCalendarTools(tokens UserTokenSource, api *feishu.Client, loc *time.Location, authURL string) *CalendarTools {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarTools{tokens: tokens, api: api, loc: loc, authURL: authURL}
}

// UnauthorizedMessage tells the user how to grant calendar access.
func (c *CalendarTools) UnauthorizedMessage() string {
	return fmt.Sprintf("The user has not authorized calendar access yet. Ask them to open this link and approve access, then try again: %s", c.authURL)
}

func (c *CalendarTools) prepare(ctx context.Context, userID string) (token, calendarID, failure string) {
	token, err := c.tokens.GetUserToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoCredential) {
			log.Error().Err(err).Str("userId", userID).Msg("unexpected credential error")
		}
		return "", "", c.UnauthorizedMessage()
	}

	calendarID, err = c.api.PrimaryCalendarID(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to resolve primary calendar")
		return "", "", fmt.Sprintf("Could not find the user's primary calendar: %v", err)
	}
	return token, calendarID, ""
}

func (c *CalendarTools) QueryEvents(ctx context.Context, userID, startTime, endTime string) string {
	start, err := c.parseTime(startTime)
	if err != nil {
		return fmt.Sprintf("Could not understand the time range: start_time=%q, end_time=%q. Use RFC3339, e.g. 2025-09-03T10:00:00+08:00.", startTime, endTime)
	}
	end, err := c.parseTime(endTime)
	if err != nil {
		return fmt.Sprintf("Could not understand the time range: start_time=%q, end_time=%q. Use RFC3339, e.g. 2025-09-03T10:00:00+08:00.", startTime, endTime)
	}

	token, calendarID, failure := c.prepare(ctx, userID)
	if failure != "" {
		return failure
	}

	events, err := c.api.ListEvents(ctx, token, calendarID, start.Unix(), end.Unix(), c.loc.String())
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to list calendar events")
		return fmt.Sprintf("Querying the calendar failed: %v", err)
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		if e.Status == "cancelled" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- Event: %q, from %s to %s [ID: %s]",
			e.Summary, c.formatEventTime(e.StartTime), c.formatEventTime(e.EndTime), e.EventID))
	}
	if len(lines) == 0 {
		return "There are no events on the user's primary calendar in this time range."
	}
	return "Events on the user's primary calendar:\n" + strings.Join(lines, "\n")
}

func (c *CalendarTools) CreateEvent(ctx context.Context, userID string, p CreateEventParams) string {
	start, startErr := c.parseTime(p.StartTime)
	end, endErr := c.parseTime(p.EndTime)
	if startErr != nil || endErr != nil {
		return fmt.Sprintf("Could not create the event: the times could not be parsed (start=%q, end=%q). Use RFC3339, e.g. 2025-09-03T10:00:00+08:00.", p.StartTime, p.EndTime)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return "Could not create the event: a title (summary) is required."
	}

	token, calendarID, failure := c.prepare(ctx, userID)
	if failure != "" {
		return failure
	}

	in := feishu.EventInput{
		Summary:     p.Summary,
		Description: p.Description,
		StartTime:   feishu.EventTime{Timestamp: strconv.FormatInt(start.Unix(), 10)},
		EndTime:     feishu.EventTime{Timestamp: strconv.FormatInt(end.Unix(), 10)},
		Reminders:   []feishu.Reminder{{Type: "popup", Minutes: reminderMinutes}},
		Attendees:   attendees(p.AttendeeOpenIDs),
	}
	if p.CreateVideoMeeting {
		in.VideoMeeting = &feishu.VideoMeeting{Enable: true}
	}

	event, err := c.api.CreateEvent(ctx, token, calendarID, in)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to create calendar event")
		return fmt.Sprintf("Creating the event failed: %v", err)
	}

	log.Info().Str("userId", userID).Str("eventId", event.EventID).Msg("calendar event created")
	return fmt.Sprintf("Event %q was created. Event ID: %s", p.Summary, event.EventID)
}

func (c *CalendarTools) UpdateEvent(ctx context.Context, userID, eventID string, p UpdateEventParams) string {
	var patch feishu.EventPatch
	if p.Summary != "" {
		patch.Summary = &p.Summary
	}
	if p.Description != "" {
		patch.Description = &p.Description
	}
	if p.StartTime != "" || p.EndTime != "" {
		start, end, ok := c.parseOptionalTimes(p.StartTime, p.EndTime)
		if !ok {
			return fmt.Sprintf("Could not update the event: the times could not be parsed (start=%q, end=%q). Use RFC3339, e.g. 2025-09-03T10:00:00+08:00.", p.StartTime, p.EndTime)
		}
		patch.StartTime = start
		patch.EndTime = end
	}
	if p.AttendeeOpenIDs != nil {
		list := attendees(p.AttendeeOpenIDs)
		if list == nil {
			list = []feishu.Attendee{}
		}
		patch.Attendees = &list
	}
	if patch.Empty() {
		return "Nothing to update: no new title, time, description or attendees were given."
	}
	if strings.TrimSpace(eventID) == "" {
		return "Could not update the event: an event ID is required. Query the calendar first to find it."
	}

	token, calendarID, failure := c.prepare(ctx, userID)
	if failure != "" {
		return failure
	}

	if err := c.api.PatchEvent(ctx, token, calendarID, eventID, patch); err != nil {
		log.Error().Err(err).Str("userId", userID).Str("eventId", eventID).Msg("failed to update calendar event")
		return fmt.Sprintf("Updating the event failed: %v", err)
	}

	log.Info().Str("userId", userID).Str("eventId", eventID).Msg("calendar event updated")
	return fmt.Sprintf("Event (ID: %s) was updated.", eventID)
}

func (c *CalendarTools) DeleteEvent(ctx context.Context, userID, eventID string) string {
	if strings.TrimSpace(eventID) == "" {
		return "Could not delete the event: an event ID is required. Query the calendar first to find it."
	}

	token, calendarID, failure := c.prepare(ctx, userID)
	if failure != "" {
		return failure
	}

	if err := c.api.DeleteEvent(ctx, token, calendarID, eventID); err != nil {
		log.Error().Err(err).Str("userId", userID).Str("eventId", eventID).Msg("failed to delete calendar event")
		return fmt.Sprintf("Deleting the event failed: %v", err)
	}

	log.Info().Str("userId", userID).Str("eventId", eventID).Msg("calendar event deleted")
	return fmt.Sprintf("Event (ID: %s) was deleted.", eventID)
}

func (c *CalendarTools) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (c *CalendarTools) formatEventTime(t feishu.EventTime) string {
	if sec, ok := t.Unix(); ok {
		return time.Unix(sec, 0).In(c.loc).Format(eventTimeLayout)
	}
	if t.Date != "" {
		return t.Date + " (all day)"
	}
	return "unknown time"
}

// parseOptionalTimes parses whichever of start and end is non-empty.
func (c *CalendarTools) parseOptionalTimes(start, end string) (*feishu.EventTime, *feishu.EventTime, bool) {
	var out [2]*feishu.EventTime
	for i, s := range [2]string{start, end} {
		if s == "" {
			continue
		}
		t, err := c.parseTime(s)
		if err != nil {
			return nil, nil, false
		}
		out[i] = &feishu.EventTime{Timestamp: strconv.FormatInt(t.Unix(), 10)}
	}
	return out[0], out[1], true
}

func attendees(openIDs []string) []feishu.Attendee {
	if len(openIDs) == 0 {
		return nil
	}
	out := make([]feishu.Attendee, 0, len(openIDs))
	for _, id := range openIDs {
		out = append(out, feishu.Attendee{Type: "user", UserID: id, UserIDType: "open_id"})
	}
	return out
}

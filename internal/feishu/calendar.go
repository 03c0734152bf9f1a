package feishu

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

var ErrNoPrimaryCalendar = errors.New("primary calendar not found")

// maxEventPages bounds pagination when listing events in one window.
const maxEventPages = 10

type Calendar struct {
	CalendarID string `json:"calendar_id"`
	Summary    string `json:"summary"`
	Type       string `json:"type"`
	Role       string `json:"role"`
}

type calendarList struct {
	CalendarList []Calendar `json:"calendar_list"`
	HasMore      bool       `json:"has_more"`
	PageToken    string     `json:"page_token"`
}

// PrimaryCalendarID lists the user's calendars and returns the one typed
// "primary".
func (c *Client) PrimaryCalendarID(ctx context.Context, userToken string) (string, error) {
	var resp envelope[calendarList]
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/calendar/v4/calendars",
		bearer: userToken,
	}, &resp)
	if err != nil {
		return "", err
	}
	for _, cal := range resp.Data.CalendarList {
		if cal.Type == "primary" {
			return cal.CalendarID, nil
		}
	}
	return "", ErrNoPrimaryCalendar
}

// EventTime is either an epoch-seconds timestamp or an RFC3339 string.
type EventTime struct {
	Timestamp string `json:"timestamp,omitempty"`
	RFC3339   string `json:"rfc3339,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Date      string `json:"date,omitempty"`
}

// Unix returns the timestamp in epoch seconds, or ok=false for all-day
// events that only carry a date.
func (t EventTime) Unix() (int64, bool) {
	sec, err := strconv.ParseInt(t.Timestamp, 10, 64)
	if err != nil {
		return 0, false
	}
	return sec, true
}

type Reminder struct {
	Type    string `json:"type,omitempty"`
	Minutes int    `json:"minutes"`
}

type Attendee struct {
	Type       string `json:"type,omitempty"`
	UserID     string `json:"user_id"`
	UserIDType string `json:"user_id_type,omitempty"`
}

type VideoMeeting struct {
	Enable bool `json:"enable"`
}

type CalendarEvent struct {
	EventID     string    `json:"event_id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	StartTime   EventTime `json:"start_time"`
	EndTime     EventTime `json:"end_time"`
	Status      string    `json:"status,omitempty"`
}

// EventInput is the create body. Optional fields are omitted when empty.
type EventInput struct {
	Summary      string        `json:"summary"`
	Description  string        `json:"description,omitempty"`
	StartTime    EventTime     `json:"start_time"`
	EndTime      EventTime     `json:"end_time"`
	Reminders    []Reminder    `json:"reminders,omitempty"`
	Attendees    []Attendee    `json:"attendees,omitempty"`
	VideoMeeting *VideoMeeting `json:"video_meeting,omitempty"`
}

// EventPatch is a sparse update body; nil fields are left untouched.
// A non-nil Attendees pointing at an empty list clears the attendees.
type EventPatch struct {
	Summary     *string     `json:"summary,omitempty"`
	Description *string     `json:"description,omitempty"`
	StartTime   *EventTime  `json:"start_time,omitempty"`
	EndTime     *EventTime  `json:"end_time,omitempty"`
	Attendees   *[]Attendee `json:"attendees,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p EventPatch) Empty() bool {
	return p.Summary == nil && p.Description == nil && p.StartTime == nil && p.EndTime == nil && p.Attendees == nil
}

type eventList struct {
	Items     []CalendarEvent `json:"items"`
	HasMore   bool            `json:"has_more"`
	PageToken string          `json:"page_token"`
}

// ListEvents returns the events in [start, end) given as epoch seconds.
func (c *Client) ListEvents(ctx context.Context, userToken, calendarID string, start, end int64, timezone string) ([]CalendarEvent, error) {
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start, 10))
	q.Set("end_time", strconv.FormatInt(end, 10))
	if timezone != "" {
		q.Set("timezone", timezone)
	}

	var events []CalendarEvent
	for page := 0; page < maxEventPages; page++ {
		var resp envelope[eventList]
		err := c.do(ctx, request{
			method: http.MethodGet,
			path:   "/calendar/v4/calendars/" + url.PathEscape(calendarID) + "/events",
			query:  q,
			bearer: userToken,
		}, &resp)
		if err != nil {
			return nil, err
		}
		events = append(events, resp.Data.Items...)
		if !resp.Data.HasMore || resp.Data.PageToken == "" {
			break
		}
		q.Set("page_token", resp.Data.PageToken)
	}
	return events, nil
}

type eventResult struct {
	Event CalendarEvent `json:"event"`
}

func (c *Client) CreateEvent(ctx context.Context, userToken, calendarID string, in EventInput) (*CalendarEvent, error) {
	var resp envelope[eventResult]
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/calendar/v4/calendars/" + url.PathEscape(calendarID) + "/events",
		bearer: userToken,
		body:   in,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data.Event, nil
}

func (c *Client) PatchEvent(ctx context.Context, userToken, calendarID, eventID string, patch EventPatch) error {
	return c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/calendar/v4/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID),
		bearer: userToken,
		body:   patch,
	}, nil)
}

func (c *Client) DeleteEvent(ctx context.Context, userToken, calendarID, eventID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   "/calendar/v4/calendars/" + url.PathEscape(calendarID) + "/events/" + url.PathEscape(eventID),
		bearer: userToken,
	}, nil)
}

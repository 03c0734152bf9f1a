package agent

import (
	"fmt"
	"strings"
	"time"
)

const (
	ResetCommand = "/reset"

	resetReply     = "Memory reset, we can start a fresh conversation."
	apologyReply   = "Sorry, the AI service is busy or hit an internal error. Please try again in a moment."
	fallbackAnswer = "Sorry, I could not come up with an answer. Could you rephrase the question?"
	slowDownReply  = "You are sending messages too quickly. Please wait a minute and try again."
)

const basePrompt = `You are Lynn, a personal assistant working inside Feishu.

Rules:
1. Tools are your only source of information about the user. Never invent schedules, projects or facts.
2. For any question about the schedule, meetings, calendar or free time you MUST call get_calendar_events.
3. For any question about projects, preferences, notes or other personal facts you MUST call knowledge_retriever.
4. If a tool returns no information, say honestly that nothing was found.
5. Tool results may describe a problem, for example missing calendar authorization. Relay it to the user in plain words and include any link it contains.
`

const writeToolsPrompt = `6. To add, change or remove events use create_calendar_event, update_calendar_event or delete_calendar_event. Look events up first to get their IDs, and confirm with the user before deleting.
`

// SystemPrompt builds the instruction for one run. now is rendered in loc
// so relative dates like "tomorrow" resolve in the user's zone.
func SystemPrompt(now time.Time, loc *time.Location, writeTools bool) string {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var b strings.Builder
	b.WriteString(basePrompt)
	if writeTools {
		b.WriteString(writeToolsPrompt)
	}
	fmt.Fprintf(&b, "\nThe current time is %s (%s, %s).\n",
		local.Format(time.RFC3339), local.Format("Monday"), loc.String())
	b.WriteString("All times passed to tools must be RFC3339 with an explicit offset, e.g. '2025-09-03T10:00:00+08:00'.\n")
	return b.String()
}

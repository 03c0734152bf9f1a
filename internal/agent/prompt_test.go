package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPrompt(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	t.Run("renders the current time in the assistant zone", func(t *testing.T) {
		prompt := SystemPrompt(testNow, loc, false)

		assert.Contains(t, prompt, "2025-09-03T18:00:00+08:00")
		assert.Contains(t, prompt, "Wednesday")
		assert.Contains(t, prompt, "Asia/Shanghai")
		assert.Contains(t, prompt, "RFC3339")
		assert.Contains(t, prompt, ToolGetCalendarEvents)
		assert.Contains(t, prompt, ToolKnowledgeRetriever)
		assert.NotContains(t, prompt, ToolCreateCalendarEvent)
	})

	t.Run("mentions write tools when enabled", func(t *testing.T) {
		prompt := SystemPrompt(testNow, loc, true)

		assert.Contains(t, prompt, ToolCreateCalendarEvent)
		assert.Contains(t, prompt, ToolDeleteCalendarEvent)
	})

	t.Run("nil location falls back to UTC", func(t *testing.T) {
		assert.Contains(t, SystemPrompt(testNow, nil, false), "2025-09-03T10:00:00Z")
	})
}

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chris/anchor/internal/llm"
	"github.com/chris/anchor/internal/plan"
)

// TurnInput is everything the model sees for one turn.
type TurnInput struct {
	Now     time.Time
	Flow    plan.MessageType // set for scheduled triggers
	Context *plan.DailyContext
	Hint    string // yesterday's suggested task
	Message string
}

// BuildTurnPrompt renders the user prompt for one turn.
func BuildTurnPrompt(in TurnInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current time: %s (%s)\n", in.Now.Format("Monday 15:04"), in.Now.Location())
	if in.Flow != "" {
		fmt.Fprintf(&b, "Scheduled check-in: %s\n", in.Flow)
	}

	b.WriteString("\n## Today's context\n")
	if in.Context == nil {
		b.WriteString("None yet. This is the first message today.\n")
	} else {
		ctxJSON, _ := json.MarshalIndent(in.Context, "", "  ") // plain structs; marshal cannot fail
		b.Write(ctxJSON)
		b.WriteString("\n")
	}

	if in.Hint != "" {
		fmt.Fprintf(&b, "\n## Suggested yesterday for today\n%s\n", in.Hint)
	}

	b.WriteString("\n## User message\n")
	if in.Message == "" {
		b.WriteString("(none, you are starting the conversation)\n")
	} else {
		fmt.Fprintf(&b, "%q\n", in.Message)
	}

	b.WriteString("\n")
	b.WriteString(llm.OutputContract)
	return b.String()
}

// Static openers used when a scheduled check-in cannot reach the model.
const (
	morningOpener = "Good morning! What's the one task that would make today a success?"
	eveningOpener = "Evening check-in: how did today's task go? Did you get it done?"
)

func staticOpener(flow plan.MessageType, c *plan.DailyContext) string {
	if flow == plan.Reflection {
		if c != nil && c.CurrentTask != "" {
			return fmt.Sprintf("Evening check-in: how did %q go today? Did you get it done?", c.CurrentTask)
		}
		return eveningOpener
	}
	return morningOpener
}

package oracle

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You operate an Android phone on behalf of a user. You are shown the UI elements
currently on screen and a goal. Choose exactly ONE next action.

Respond with a single JSON object and nothing else:
{"action": "...", "index": 0, "text": "...", "direction": "...", "purpose": "...", "rationale": "..."}

Actions:
- "tap": tap element "index".
- "tap_and_type": tap element "index" then type "text".
- "swipe": swipe in "direction" (up, down, left, right).
- "press_back", "press_home", "wait".
- "done": only when the goal has been fully achieved and state.submitted is true.

Purpose (optional) names what the action achieves: select_media, caption, submit,
follow, search, dismiss, navigate.

Rules:
- "index" must be an index from the element table.
- Dismiss dialogs and prompts that block the goal.
- If unsure, prefer "press_back" over guessing.`

// buildPrompt renders the goal context and a compact element table.
func buildPrompt(snap *schemas.ScreenSnapshot, goal schemas.GoalContext, maxElements int) string {
	var b strings.Builder

	ctxJSON, err := json.Marshal(goal)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	b.WriteString("GOAL CONTEXT:\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nELEMENTS (index | id | text | description | clickable | bounds):\n")

	written := 0
	for _, e := range snap.Elements {
		// Unlabelled, non-interactive containers carry no signal.
		if e.Text == "" && e.Description == "" && !e.Clickable {
			continue
		}
		if written == maxElements {
			fmt.Fprintf(&b, "... %d more elements omitted\n", snap.Len()-e.Index)
			break
		}
		fmt.Fprintf(&b, "%d | %s | %s | %s | %t | %s\n",
			e.Index, shortID(e.ID), oneLine(e.Text), oneLine(e.Description), e.Clickable, e.Bounds)
		written++
	}
	return b.String()
}

func shortID(id string) string {
	if i := strings.LastIndex(id, "id/"); i >= 0 {
		return id[i+3:]
	}
	return id
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	return llmutil.Truncate(s, 80)
}

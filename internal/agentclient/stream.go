package agentclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cockroachdb/errors"
)

// turn folds the runtime's stream events for one message into console
// lines and the final answer.
type turn struct {
	console *Console
	// blocks maps a content block index of the current model message to
	// its tool_use id; inputs collects the streamed arguments per id.
	blocks map[int]string
	inputs map[string]*strings.Builder
	text   strings.Builder
	err    error
}

func newTurn(console *Console) *turn {
	return &turn{
		console: console,
		blocks:  map[int]string{},
		inputs:  map[string]*strings.Builder{},
	}
}

func (t *turn) apply(evt api.StreamEvent) {
	switch evt.Type {
	case api.EventMessageStart:
		t.text.Reset()
		t.blocks = map[int]string{}
	case api.EventContentBlockStart:
		if evt.Index != nil && evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
			t.blocks[*evt.Index] = evt.ContentBlock.ID
			t.inputs[evt.ContentBlock.ID] = &strings.Builder{}
		}
	case api.EventContentBlockDelta:
		t.delta(evt)
	case api.EventToolExecutionStart:
		args := "{}"
		if b, ok := t.inputs[evt.ToolUseID]; ok && b.Len() > 0 {
			args = b.String()
		}
		t.console.ToolCall(evt.Name, args)
	case api.EventToolExecutionResult:
		t.console.ToolResult(evt.Name, resultText(evt.Output))
	case api.EventError:
		t.err = errors.Newf("%v", evt.Output)
	}
}

func (t *turn) delta(evt api.StreamEvent) {
	if evt.Delta == nil {
		return
	}
	switch evt.Delta.Type {
	case "text_delta":
		t.text.WriteString(evt.Delta.Text)
	case "input_json_delta":
		if evt.Index == nil {
			return
		}
		b, ok := t.inputs[t.blocks[*evt.Index]]
		if !ok {
			return
		}
		// Each chunk is a JSON string holding a slice of the arguments.
		var chunk string
		if err := json.Unmarshal(evt.Delta.PartialJSON, &chunk); err == nil {
			b.WriteString(chunk)
		}
	}
}

// answer is the text of the last model message.
func (t *turn) answer() string {
	return t.text.String()
}

func resultText(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["output"].(string); ok {
			return s
		}
	case nil:
		return ""
	}
	return fmt.Sprint(output)
}

// preview returns the first n characters of s followed by "...".
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s + "..."
	}
	return string([]rune(s)[:n]) + "..."
}

package agentclient

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/cexll/agentsdk-go/pkg/tool"
	"github.com/charmbracelet/lipgloss"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// resultPreviewLen is how much of a tool result verbose mode shows.
const resultPreviewLen = 100

// HelpExamples are printed by the help command.
var HelpExamples = []string{
	"Summarize the CSV file named sample.csv",
	"What's in sample.parquet?",
	"How many rows does sample.csv have?",
	"Compare sample.csv and sample.parquet",
}

// Console renders operator-facing output of the chat client.
type Console struct {
	out    io.Writer
	errOut io.Writer

	title  lipgloss.Style
	user   lipgloss.Style
	agent  lipgloss.Style
	tool   lipgloss.Style
	result lipgloss.Style
	errSty lipgloss.Style
	muted  lipgloss.Style
}

func NewConsole(out, errOut io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	er := lipgloss.NewRenderer(errOut)
	return &Console{
		out:    out,
		errOut: errOut,
		title:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		user:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFFF")),
		agent:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		tool:   r.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		result: r.NewStyle().Foreground(lipgloss.Color("#A8A8A8")),
		errSty: er.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87")),
		muted:  r.NewStyle().Faint(true),
	}
}

func (c *Console) Tools(tools []*mcp.Tool) {
	fmt.Fprintln(c.out, c.title.Render("Available tools:"))
	for _, t := range tools {
		fmt.Fprintf(c.out, "  - %s: %s\n", t.Name, t.Description)
	}
}

// ToolDetails prints each tool with its parameters.
func (c *Console) ToolDetails(tools []*mcp.Tool) {
	for _, t := range tools {
		fmt.Fprintln(c.out, c.title.Render(t.Name))
		fmt.Fprintf(c.out, "  %s\n", t.Description)
		schema, err := convertSchema(t.InputSchema)
		if err != nil {
			continue
		}
		required := make(map[string]bool, len(schema.Required))
		for _, name := range schema.Required {
			required[name] = true
		}
		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			var typ, desc string
			if prop, ok := schema.Properties[name].(map[string]interface{}); ok {
				typ, _ = prop["type"].(string)
				desc, _ = prop["description"].(string)
			}
			if required[name] {
				typ += ", required"
			}
			fmt.Fprintf(c.out, "    %s (%s): %s\n", name, typ, desc)
		}
	}
}

func (c *Console) Ready(model string) {
	fmt.Fprintln(c.out, c.muted.Render(fmt.Sprintf("Agent ready (model: %s)", model)))
}

func (c *Console) Banner() {
	fmt.Fprintln(c.out, c.title.Render("mixdata chat"))
	fmt.Fprintln(c.out, "Ask about the files in the data directory. Type 'help' for examples, 'exit' to quit.")
}

func (c *Console) Prompt() {
	fmt.Fprint(c.out, "\n> ")
}

func (c *Console) Help() {
	fmt.Fprintln(c.out, c.title.Render("Example questions:"))
	for _, ex := range HelpExamples {
		fmt.Fprintf(c.out, "  - %s\n", ex)
	}
}

func (c *Console) User(msg string) {
	fmt.Fprintf(c.out, "%s %s\n", c.user.Render("User:"), msg)
}

func (c *Console) Agent(answer string) {
	fmt.Fprintf(c.out, "%s %s\n", c.agent.Render("Agent:"), answer)
}

// ToolCall prints a tool call with its JSON arguments.
func (c *Console) ToolCall(name, args string) {
	fmt.Fprintln(c.out, c.tool.Render(fmt.Sprintf("🔧 Tool %s called with args %s", name, args)))
}

// ToolResult prints the start of a tool result.
func (c *Console) ToolResult(name, output string) {
	fmt.Fprintln(c.out, c.result.Render(fmt.Sprintf("📋 Tool %s result: %s", name, preview(output, resultPreviewLen))))
}

func (c *Console) Answer(answer string) {
	fmt.Fprintln(c.out, answer)
}

func (c *Console) Error(err error) {
	fmt.Fprintln(c.errOut, c.errSty.Render(fmt.Sprintf("❌ Error: %v", err)))
}

func (c *Console) Goodbye() {
	fmt.Fprintln(c.out, "\nGoodbye!")
}

func convertSchema(input any) (*tool.JSONSchema, error) {
	if input == nil {
		return &tool.JSONSchema{Type: "object", Properties: map[string]interface{}{}}, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var generic struct {
		Type       string                 `json:"type"`
		Properties map[string]interface{} `json:"properties"`
		Required   []string               `json:"required"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	schema := &tool.JSONSchema{Type: generic.Type, Properties: generic.Properties, Required: generic.Required}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Properties == nil {
		schema.Properties = map[string]interface{}{}
	}
	return schema, nil
}

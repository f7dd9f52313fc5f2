package agentclient

import (
	"context"
	"os"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	sdkconfig "github.com/cexll/agentsdk-go/pkg/config"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/cockroachdb/errors"

	"github.com/stellarlinkco/mixdata/internal/config"
)

// SystemPrompt is the fixed instruction given to the agent.
const SystemPrompt = `You are a helpful assistant for analyzing data files.
You can summarize CSV and Parquet files stored in the data directory using the tools you are given.
Always call a tool to look at a file before describing it, and always say clearly which file you analyzed.
If a tool reports that a file was not found or could not be read, tell the user exactly that.`

// Runtime is the part of the agent framework the client needs (allows mocking in tests).
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	RunStream(ctx context.Context, req api.Request) (<-chan api.StreamEvent, error)
	Close()
}

// runtimeWrapper wraps api.Runtime to implement Runtime interface
type runtimeWrapper struct {
	rt *api.Runtime
}

func (r *runtimeWrapper) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeWrapper) RunStream(ctx context.Context, req api.Request) (<-chan api.StreamEvent, error) {
	return r.rt.RunStream(ctx, req)
}

func (r *runtimeWrapper) Close() {
	_ = r.rt.Close()
}

// RuntimeFactory creates a Runtime bound to the tools of the given MCP
// server specs.
type RuntimeFactory func(ctx context.Context, cfg *config.Config, servers []string) (Runtime, error)

// DefaultRuntimeFactory creates the agentsdk-go runtime. The framework
// connects to each server and registers its tools; its built-in tools stay
// off and conversation history is kept in memory only.
func DefaultRuntimeFactory(ctx context.Context, cfg *config.Config, servers []string) (Runtime, error) {
	if len(servers) == 0 {
		return nil, errors.New("no tool host to bind to the agent")
	}

	root := config.ConfigDir()
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "create agent project root")
	}

	rulesEnabled := false
	historyDays := 0
	rt, err := api.New(ctx, api.Options{
		ProjectRoot:         root,
		ModelFactory:        NewModelFactory(cfg),
		SystemPrompt:        SystemPrompt,
		MaxIterations:       cfg.Agent.MaxToolIterations,
		Timeout:             time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		MCPServers:          servers,
		EnabledBuiltinTools: []string{},
		RulesEnabled:        &rulesEnabled,
		SettingsOverrides:   &sdkconfig.Settings{CleanupPeriodDays: &historyDays},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create runtime")
	}
	return &runtimeWrapper{rt: rt}, nil
}

// NewModelFactory picks the model provider. "openai" covers Ollama and any
// other OpenAI-compatible endpoint.
func NewModelFactory(cfg *config.Config) api.ModelFactory {
	temperature := cfg.Agent.Temperature
	switch cfg.Provider.Type {
	case "anthropic":
		return &model.AnthropicProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	default:
		return &model.OpenAIProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stellarlinkco/mixdata/internal/agentclient"
	"github.com/stellarlinkco/mixdata/internal/config"
	"github.com/stellarlinkco/mixdata/internal/datasummary"
	"github.com/stellarlinkco/mixdata/internal/toolhost"
)

var envKeys = []string{
	"MIXDATA_MODEL", "MIXDATA_API_KEY", "OLLAMA_API_KEY", "MIXDATA_PROVIDER",
	"MIXDATA_BASE_URL", "OLLAMA_HOST", "MIXDATA_SERVER_URL", "MIXDATA_TRANSPORT",
	"MIXDATA_HOST", "MIXDATA_PORT", "MIXDATA_DATA_DIR", "MIXDATA_LOG_LEVEL",
	"MIXDATA_LOG_FORMAT", "MIXDATA_REFRESH_SCHEDULE",
}

// isolate points HOME and the data directory at temp dirs and returns the
// data directory.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	dataDir := filepath.Join(tmpDir, "data")
	t.Setenv("MIXDATA_DATA_DIR", dataDir)
	t.Setenv("MIXDATA_LOG_LEVEL", "error")
	return dataDir
}

type output struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (o *output) options() Options {
	return Options{Stdin: strings.NewReader(""), Stdout: &o.stdout, Stderr: &o.stderr}
}

func execute(t *testing.T, opts Options, args ...string) error {
	t.Helper()
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// inMemoryHost serves dataDir on an in-process tool host and returns the
// client side of the connection.
func inMemoryHost(t *testing.T, dataDir string) mcp.Transport {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := toolhost.NewRegistry(datasummary.NewSummarizer(dataDir, datasummary.Options{PreviewRows: 5, Logger: logger}))
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	clientT, serverT := mcp.NewInMemoryTransports()
	if _, err := toolhost.NewMCPServer(reg, logger).Connect(context.Background(), serverT, nil); err != nil {
		t.Fatalf("server Connect error: %v", err)
	}
	return clientT
}

func writeSample(t *testing.T, dataDir string) {
	t.Helper()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "sample.csv"), []byte(defaultSampleCSV), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
}

// mockRuntime answers every prompt by summarizing sample.csv from dataDir,
// or with a fixed error. RunStream replays the answer as the framework's
// tool and text events.
type mockRuntime struct {
	dataDir string
	servers []string
	prompts []string
	err     error
}

func (m *mockRuntime) summarize(ctx context.Context, req api.Request) (string, error) {
	m.prompts = append(m.prompts, req.Prompt)
	if m.err != nil {
		return "", m.err
	}
	reg, err := toolhost.NewRegistry(datasummary.NewSummarizer(m.dataDir, datasummary.Options{PreviewRows: 5}))
	if err != nil {
		return "", err
	}
	op, _ := reg.Lookup(toolhost.SummarizeCSV)
	return op.Invoke(ctx, json.RawMessage(`{"filename":"sample.csv"}`))
}

func (m *mockRuntime) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	out, err := m.summarize(ctx, req)
	if err != nil {
		return nil, err
	}
	return &api.Response{Result: &api.Result{Output: "Summary: " + out}}, nil
}

func (m *mockRuntime) RunStream(ctx context.Context, req api.Request) (<-chan api.StreamEvent, error) {
	ch := make(chan api.StreamEvent, 8)
	defer close(ch)
	out, err := m.summarize(ctx, req)
	if err != nil {
		isErr := true
		ch <- api.StreamEvent{Type: api.EventError, Output: err.Error(), IsError: &isErr}
		return ch, nil
	}
	idx := 0
	input, _ := json.Marshal(`{"filename":"sample.csv"}`)
	ch <- api.StreamEvent{Type: api.EventMessageStart}
	ch <- api.StreamEvent{Type: api.EventContentBlockStart, Index: &idx,
		ContentBlock: &api.ContentBlock{Type: "tool_use", ID: "call_1", Name: toolhost.SummarizeCSV}}
	ch <- api.StreamEvent{Type: api.EventContentBlockDelta, Index: &idx,
		Delta: &api.Delta{Type: "input_json_delta", PartialJSON: input}}
	ch <- api.StreamEvent{Type: api.EventToolExecutionStart, ToolUseID: "call_1", Name: toolhost.SummarizeCSV}
	ch <- api.StreamEvent{Type: api.EventToolExecutionResult, ToolUseID: "call_1", Name: toolhost.SummarizeCSV,
		Output: map[string]any{"output": out}}
	ch <- api.StreamEvent{Type: api.EventMessageStart}
	ch <- api.StreamEvent{Type: api.EventContentBlockDelta, Index: &idx,
		Delta: &api.Delta{Type: "text_delta", Text: "Summary: " + out}}
	return ch, nil
}

func (m *mockRuntime) Close() {}

func mockRuntimeFactory(rt *mockRuntime) agentclient.RuntimeFactory {
	return func(_ context.Context, _ *config.Config, servers []string) (agentclient.Runtime, error) {
		rt.servers = servers
		return rt, nil
	}
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd(Options{})
	for _, name := range []string{"serve", "chat", "tools", "convert", "onboard", "status"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("missing %s command", name)
		}
	}

	chat, _, _ := cmd.Find([]string{"chat"})
	if chat.Flags().Lookup("message") == nil {
		t.Error("message flag should exist")
	}
	convert, _, _ := cmd.Find([]string{"convert"})
	for _, flag := range []string{"in", "out"} {
		if convert.Flags().Lookup(flag) == nil {
			t.Errorf("%s flag should exist", flag)
		}
	}
}

func TestWriteIfNotExists(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")
	var out bytes.Buffer

	writeIfNotExists(&out, path, "test content")
	writeIfNotExists(&out, path, "new content")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "test content" {
		t.Errorf("content = %q, want 'test content'", string(data))
	}
	if strings.Count(out.String(), "Created:") != 1 {
		t.Errorf("expected one Created line, got: %s", out.String())
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                         "not set",
		"ollama":                   "set",
		"sk-ant-test-key-12345678": "sk-a...5678",
	}
	for key, want := range tests {
		if got := maskKey(key); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestProviderDisplay(t *testing.T) {
	if got := providerDisplay(""); !strings.Contains(got, "default") {
		t.Errorf("providerDisplay(\"\") = %q", got)
	}
	if got := providerDisplay("openai"); !strings.Contains(got, "Ollama") {
		t.Errorf("providerDisplay(openai) = %q", got)
	}
	if got := providerDisplay("anthropic"); got != "anthropic" {
		t.Errorf("providerDisplay(anthropic) = %q", got)
	}
}

func TestRunOnboard(t *testing.T) {
	dataDir := isolate(t)
	var out output

	if err := execute(t, out.options(), "onboard"); err != nil {
		t.Fatalf("onboard error: %v", err)
	}

	if _, err := os.Stat(config.ConfigPath()); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "sample.csv")); err != nil {
		t.Errorf("sample.csv was not created: %v", err)
	}
	if !strings.Contains(out.stdout.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.stdout.String())
	}
	if !strings.Contains(out.stdout.String(), "mixdata serve") {
		t.Errorf("missing next steps: %s", out.stdout.String())
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	dataDir := isolate(t)
	if err := config.SaveConfig(config.DefaultConfig()); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}
	writeSample(t, dataDir)
	if err := os.WriteFile(filepath.Join(dataDir, "sample.csv"), []byte("a\n1\n"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	var out output
	if err := execute(t, out.options(), "onboard"); err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if !strings.Contains(out.stdout.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.stdout.String())
	}
	data, _ := os.ReadFile(filepath.Join(dataDir, "sample.csv"))
	if string(data) != "a\n1\n" {
		t.Errorf("existing sample.csv was overwritten: %q", string(data))
	}
}

func TestRunStatus(t *testing.T) {
	isolate(t)
	var out output

	if err := execute(t, out.options(), "status"); err != nil {
		t.Fatalf("status error: %v", err)
	}

	got := out.stdout.String()
	for _, want := range []string{
		"Config:",
		"Model: llama3.2",
		"API Key: set",
		"Tool host: http://127.0.0.1:8000/sse (sse)",
		"not found (run 'mixdata onboard')",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %s", want, got)
		}
	}
}

func TestRunStatus_WithAPIKeyAndData(t *testing.T) {
	dataDir := isolate(t)
	t.Setenv("MIXDATA_API_KEY", "sk-ant-test-key-12345678")
	writeSample(t, dataDir)
	if err := os.WriteFile(filepath.Join(dataDir, "sample.parquet"), nil, 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	var out output
	if err := execute(t, out.options(), "status"); err != nil {
		t.Fatalf("status error: %v", err)
	}
	got := out.stdout.String()
	if !strings.Contains(got, "API Key: sk-a...5678") {
		t.Errorf("API key should be masked in output: %s", got)
	}
	if !strings.Contains(got, "(1 csv, 1 parquet)") {
		t.Errorf("missing data file counts: %s", got)
	}
}

func TestRunStatus_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("MIXDATA_TRANSPORT", "carrier-pigeon")

	var out output
	if err := execute(t, out.options(), "status"); err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(out.stdout.String(), "Config: error") {
		t.Errorf("expected config error, got: %s", out.stdout.String())
	}
}

func TestRunConvert(t *testing.T) {
	dataDir := isolate(t)
	writeSample(t, dataDir)

	var out output
	if err := execute(t, out.options(), "convert"); err != nil {
		t.Fatalf("convert error: %v", err)
	}

	dst := filepath.Join(dataDir, "sample.parquet")
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("parquet file not written: %v", err)
	}
	if !strings.Contains(out.stdout.String(), "Parquet file created: "+dst+" (5 rows, 5 columns)") {
		t.Errorf("unexpected output: %s", out.stdout.String())
	}

	s := datasummary.NewSummarizer(dataDir, datasummary.Options{PreviewRows: 5})
	summary, err := s.Summarize(context.Background(), datasummary.KindParquet, "sample.parquet")
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if summary.Rows != 5 || len(summary.Columns) != 5 {
		t.Errorf("summary = %d rows, %d columns", summary.Rows, len(summary.Columns))
	}
}

func TestRunConvert_CustomPaths(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	dst := filepath.Join(dir, "out.parquet")
	if err := os.WriteFile(src, []byte("x,y\n1,a\n"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	var out output
	if err := execute(t, out.options(), "convert", "--in", src, "--out", dst); err != nil {
		t.Fatalf("convert error: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("parquet file not written: %v", err)
	}
}

func TestRunConvert_MissingSource(t *testing.T) {
	isolate(t)
	var out output
	if err := execute(t, out.options(), "convert"); err == nil {
		t.Error("expected error for missing sample.csv")
	}
}

func TestRunChat_SingleMessage(t *testing.T) {
	dataDir := isolate(t)
	writeSample(t, dataDir)

	rt := &mockRuntime{dataDir: dataDir}
	var out output
	opts := out.options()
	opts.RuntimeFactory = mockRuntimeFactory(rt)
	opts.Transport = inMemoryHost(t, dataDir)

	if err := execute(t, opts, "chat", "-m", "Summarize sample.csv"); err != nil {
		t.Fatalf("chat error: %v", err)
	}

	got := out.stdout.String()
	if !strings.Contains(got, "summarize_csv_file") {
		t.Errorf("tool list not printed: %s", got)
	}
	if !strings.Contains(got, "Summary: CSV file 'sample.csv' has 5 rows and 5 columns.") {
		t.Errorf("answer not printed: %s", got)
	}
	if strings.Contains(got, "🔧 Tool") {
		t.Errorf("single message mode should not trace tool calls: %s", got)
	}
	if len(rt.prompts) != 1 || rt.prompts[0] != "Summarize sample.csv" {
		t.Errorf("prompts = %v", rt.prompts)
	}
	if len(rt.servers) != 1 || rt.servers[0] != "http+sse://127.0.0.1:8000/sse" {
		t.Errorf("servers = %v", rt.servers)
	}
}

func TestRunChat_SingleMessage_Error(t *testing.T) {
	dataDir := isolate(t)
	rt := &mockRuntime{err: errors.New("model offline")}
	var out output
	opts := out.options()
	opts.RuntimeFactory = mockRuntimeFactory(rt)
	opts.Transport = inMemoryHost(t, dataDir)

	err := execute(t, opts, "chat", "-m", "hello")
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("expected runtime error, got %v", err)
	}
}

func TestRunChat_REPLMode(t *testing.T) {
	dataDir := isolate(t)
	writeSample(t, dataDir)

	rt := &mockRuntime{dataDir: dataDir}
	var out output
	opts := out.options()
	opts.RuntimeFactory = mockRuntimeFactory(rt)
	opts.Transport = inMemoryHost(t, dataDir)
	opts.Stdin = strings.NewReader("help\n\n   \nWhat is in sample.csv?\nexit\nnever sent\n")

	if err := execute(t, opts, "chat"); err != nil {
		t.Fatalf("chat error: %v", err)
	}

	got := out.stdout.String()
	for _, want := range []string{
		"Example questions:",
		"User: What is in sample.csv?",
		`🔧 Tool summarize_csv_file called with args {"filename":"sample.csv"}`,
		"📋 Tool summarize_csv_file result: CSV file 'sample.csv' has 5 rows",
		"Agent: Summary:",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %s", want, got)
		}
	}
	if len(rt.prompts) != 1 {
		t.Errorf("prompts = %v, want exactly one", rt.prompts)
	}
}

func TestRunChat_REPLMode_Error(t *testing.T) {
	dataDir := isolate(t)
	rt := &mockRuntime{err: errors.New("model offline")}
	var out output
	opts := out.options()
	opts.RuntimeFactory = mockRuntimeFactory(rt)
	opts.Transport = inMemoryHost(t, dataDir)
	opts.Stdin = strings.NewReader("first\nsecond\n")

	if err := execute(t, opts, "chat"); err != nil {
		t.Fatalf("chat should recover from errors, got %v", err)
	}
	if strings.Count(out.stderr.String(), "❌ Error:") != 2 {
		t.Errorf("expected two errors on stderr, got: %s", out.stderr.String())
	}
	if len(rt.prompts) != 2 {
		t.Errorf("prompts = %v, want two", rt.prompts)
	}
}

func TestRunChat_ToolHostUnavailable(t *testing.T) {
	isolate(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	t.Setenv("MIXDATA_SERVER_URL", "http://"+addr+"/sse")

	rt := &mockRuntime{}
	var out output
	opts := out.options()
	opts.RuntimeFactory = mockRuntimeFactory(rt)

	err = execute(t, opts, "chat", "-m", "hello")
	if err == nil || !strings.Contains(err.Error(), "connect to tool host") {
		t.Errorf("expected connect error, got %v", err)
	}
	if rt.servers != nil {
		t.Error("runtime should not be created without a tool host")
	}
}

func TestRunTools(t *testing.T) {
	dataDir := isolate(t)
	var out output
	opts := out.options()
	opts.Transport = inMemoryHost(t, dataDir)

	if err := execute(t, opts, "tools"); err != nil {
		t.Fatalf("tools error: %v", err)
	}
	got := out.stdout.String()
	for _, want := range []string{
		toolhost.SummarizeCSV,
		toolhost.SummarizeParquet,
		"filename (string, required)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %s", want, got)
		}
	}
}

func TestRunServe_StopsOnSignal(t *testing.T) {
	dataDir := isolate(t)
	writeSample(t, dataDir)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	sigCh := make(chan os.Signal, 1)

	var out output
	opts := out.options()
	opts.Host = toolhost.Options{Listener: ln, SignalChan: sigCh}

	done := make(chan error, 1)
	go func() { done <- execute(t, opts, "serve") }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tool host did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	sigCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after signal")
	}
}

func TestRefreshJob(t *testing.T) {
	dataDir := isolate(t)
	writeSample(t, dataDir)
	t.Setenv("MIXDATA_REFRESH_SCHEDULE", "@every 10m")
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	job := refreshJob(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if job.Schedule != "@every 10m" {
		t.Errorf("schedule = %q", job.Schedule)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("refresh error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "sample.parquet")); err != nil {
		t.Errorf("parquet file not written: %v", err)
	}
}

func TestRunServe_InvalidRefreshSchedule(t *testing.T) {
	isolate(t)
	t.Setenv("MIXDATA_REFRESH_SCHEDULE", "whenever")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer ln.Close()

	var out output
	opts := out.options()
	opts.Host = toolhost.Options{Listener: ln, SignalChan: make(chan os.Signal, 1)}
	if err := execute(t, opts, "serve"); err == nil {
		t.Error("expected error for invalid refresh schedule")
	}
}

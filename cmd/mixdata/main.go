package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/mixdata/internal/agentclient"
	"github.com/stellarlinkco/mixdata/internal/config"
	"github.com/stellarlinkco/mixdata/internal/cron"
	"github.com/stellarlinkco/mixdata/internal/dataprep"
	"github.com/stellarlinkco/mixdata/internal/logging"
	"github.com/stellarlinkco/mixdata/internal/toolhost"
)

var version = "dev"

// Options for running commands with custom dependencies
type Options struct {
	RuntimeFactory agentclient.RuntimeFactory
	// Transport replaces the HTTP transport to the tool host.
	Transport mcp.Transport
	// Host carries the listener and signal channel used by serve.
	Host   toolhost.Options
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

func newRootCmd(opts Options) *cobra.Command {
	opts = opts.withDefaults()

	rootCmd := &cobra.Command{
		Use:           "mixdata",
		Short:         "mixdata - chat with a local model about CSV and Parquet files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(opts.Stdout)
	rootCmd.SetErr(opts.Stderr)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tool host (MCP over SSE and streamable HTTP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	var message string
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent, or send a single message with -m",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, message)
		},
	}
	chatCmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List the operations offered by the tool host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd.Context(), opts)
		},
	}

	var in, out string
	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a CSV file in the data directory to Parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), opts, in, out)
		},
	}
	convertCmd.Flags().StringVar(&in, "in", "", "CSV file to read (default <data>/"+dataprep.DefaultSource+")")
	convertCmd.Flags().StringVar(&out, "out", "", "Parquet file to write (default <data>/"+dataprep.DefaultDestination+")")

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(opts)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show mixdata status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}

	rootCmd.AddCommand(serveCmd, chatCmd, toolsCmd, convertCmd, onboardCmd, statusCmd)
	return rootCmd
}

func main() {
	toolhost.Version = version
	if err := newRootCmd(Options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the command logger on stderr.
func loadConfig(opts Options) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load config")
	}
	return cfg, logging.Setup(opts.Stderr, cfg.Log.Level, cfg.Log.Format), nil
}

func runServe(ctx context.Context, opts Options) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	hostOpts := opts.Host
	hostOpts.Logger = logger
	host, err := toolhost.New(cfg, hostOpts)
	if err != nil {
		return errors.Wrap(err, "create tool host")
	}
	if info, err := os.Stat(cfg.Data.Dir); err != nil || !info.IsDir() {
		logger.Warn("data directory not found", "dir", cfg.Data.Dir)
	}

	if cfg.Data.RefreshSchedule != "" {
		jobs := cron.NewService(logger.With("component", "cron"))
		if err := jobs.AddJob(refreshJob(cfg, logger)); err != nil {
			return err
		}
		jobs.Start(ctx)
		defer jobs.Stop()
	}
	return host.Run(ctx)
}

// refreshJob rebuilds sample.parquet from sample.csv in the data directory.
func refreshJob(cfg *config.Config, logger *slog.Logger) cron.Job {
	src := filepath.Join(cfg.Data.Dir, dataprep.DefaultSource)
	dst := filepath.Join(cfg.Data.Dir, dataprep.DefaultDestination)
	return cron.Job{
		Name:     "refresh-parquet",
		Schedule: cfg.Data.RefreshSchedule,
		Run: func(ctx context.Context) error {
			_, err := dataprep.Convert(ctx, src, dst, dataprep.Options{Logger: logger})
			return err
		},
	}
}

func newClient(cfg *config.Config, logger *slog.Logger, opts Options) *agentclient.Client {
	return agentclient.New(cfg, agentclient.Options{
		RuntimeFactory: opts.RuntimeFactory,
		Transport:      opts.Transport,
		Stdout:         opts.Stdout,
		Stderr:         opts.Stderr,
		Logger:         logger,
	})
}

// runChat runs one message when message is set and the interactive loop
// otherwise. The loop ends on exit, end of input, SIGINT or SIGTERM.
func runChat(ctx context.Context, opts Options, message string) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	client := newClient(cfg, logger, opts)
	defer client.Close()

	if err := client.Setup(ctx); err != nil {
		return err
	}
	if message != "" {
		return client.Ask(ctx, message)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.Interactive(ctx, opts.Stdin)
}

func runTools(ctx context.Context, opts Options) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	client := newClient(cfg, logger, opts)
	defer client.Close()
	return client.PrintTools(ctx)
}

func runConvert(ctx context.Context, opts Options, in, out string) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if in == "" {
		in = filepath.Join(cfg.Data.Dir, dataprep.DefaultSource)
	}
	if out == "" {
		out = filepath.Join(cfg.Data.Dir, dataprep.DefaultDestination)
	}

	res, err := dataprep.Convert(ctx, in, out, dataprep.Options{Logger: logger})
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.Stdout, "Parquet file created: %s (%d rows, %d columns)\n", res.Destination, res.Rows, len(res.Columns))
	return nil
}

func runOnboard(opts Options) error {
	cfgPath := config.ConfigPath()
	stdout := opts.Stdout

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return errors.Wrap(err, "write config")
		}
		fmt.Fprintf(stdout, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(stdout, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	dir := cfg.Data.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create data dir")
	}
	writeIfNotExists(stdout, filepath.Join(dir, dataprep.DefaultSource), defaultSampleCSV)

	fmt.Fprintf(stdout, "Data directory ready: %s\n", dir)
	fmt.Fprintln(stdout, "\nNext steps:")
	fmt.Fprintln(stdout, "  1. Start Ollama and run 'ollama pull "+cfg.Agent.Model+"'")
	fmt.Fprintln(stdout, "  2. Run 'mixdata convert' to create "+dataprep.DefaultDestination)
	fmt.Fprintln(stdout, "  3. Run 'mixdata serve' in one terminal")
	fmt.Fprintln(stdout, "  4. Run 'mixdata chat' in another")
	return nil
}

func runStatus(opts Options) error {
	stdout := opts.Stdout
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stdout, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(stdout, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(stdout, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(stdout, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(stdout, "Base URL: %s\n", cfg.Provider.BaseURL)
	fmt.Fprintf(stdout, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(stdout, "Tool host: %s (%s)\n", cfg.Server.Endpoint(), cfg.Server.Transport)

	entries, err := os.ReadDir(cfg.Data.Dir)
	if err != nil {
		fmt.Fprintf(stdout, "Data: %s not found (run 'mixdata onboard')\n", cfg.Data.Dir)
		return nil
	}
	var csvFiles, parquetFiles int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv":
			csvFiles++
		case ".parquet":
			parquetFiles++
		}
	}
	fmt.Fprintf(stdout, "Data: %s (%d csv, %d parquet)\n", cfg.Data.Dir, csvFiles, parquetFiles)
	return nil
}

func providerDisplay(t string) string {
	if t == "" || t == config.DefaultProviderType {
		return "openai (default, Ollama compatible)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(w io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(w, "  Created: %s\n", path)
	}
}

const defaultSampleCSV = `id,name,category,price,in_stock
1,Notebook,stationery,3.5,true
2,Desk lamp,furniture,24.99,true
3,Backpack,bags,39,false
4,Pencil set,stationery,5.25,true
5,Monitor stand,furniture,,false
`

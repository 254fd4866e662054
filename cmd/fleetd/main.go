// Command fleetd is the CLI for the fleet orchestration engine.
//
// Usage:
//
//	fleetd run agent --config fleet.yaml researcher "find open issues"
//	fleetd run team --config fleet.yaml squad "triage the backlog"
//	fleetd run workflow --config fleet.yaml scan-and-notify
//	fleetd validate --config fleet.yaml
//	fleetd info --config fleet.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"

	"github.com/orcaforge/fleet"
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/eventbus"
	"github.com/orcaforge/fleet/modelgateway"
	"github.com/orcaforge/fleet/orchestrator"
	"github.com/orcaforge/fleet/toolclient"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Info     InfoCmd     `cmd:"" help:"List agents, teams, and workflows defined in a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for the configuration file format."`
	Run      RunCmd      `cmd:"" help:"Run an agent, team, or workflow to completion."`
	Cancel   CancelCmd   `cmd:"" help:"Cancel a running execution by id."`
	Provider ProviderCmd `cmd:"" help:"Install, start, stop, restart, or uninstall a tool/trigger provider."`

	Config   string `short:"c" help:"Path to YAML configuration file." type:"path" default:"fleet.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := fleet.GetVersion()
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		if buildInfo.Main.Version != "(devel)" && buildInfo.Main.Version != "" {
			info.Version = buildInfo.Main.Version
		}
	}
	fmt.Println(info.String())
	return nil
}

// ValidateCmd loads and validates a configuration file without running anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	_ = config.LoadEnv(envSiblingOf(cli.Config))
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// InfoCmd lists the agents, teams, and workflows a configuration declares.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	_ = config.LoadEnv(envSiblingOf(cli.Config))
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Println("Agents:")
	for id, a := range cfg.Agents {
		fmt.Printf("  - %s (%s/%s)\n", id, a.ModelProvider, a.Model)
	}
	fmt.Println("Teams:")
	for id, t := range cfg.Teams {
		fmt.Printf("  - %s (%s, %d members)\n", id, t.Mode, len(t.Members))
	}
	fmt.Println("Workflows:")
	for id, wf := range cfg.Workflows {
		fmt.Printf("  - %s (%d nodes)\n", id, len(wf.Nodes))
	}
	return nil
}

// SchemaCmd prints the JSON Schema derived from config.Config, for a
// config-authoring UI or editor integration to validate against.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:           true,
	}
	schema := reflector.Reflect(&config.Config{})
	schema.Title = "fleet configuration schema"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	var out []byte
	var err error
	if c.Compact {
		out, err = json.Marshal(schema)
	} else {
		out, err = json.MarshalIndent(schema, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// RunCmd dispatches a single agent, team, or workflow execution and blocks
// until it reaches a terminal state.
type RunCmd struct {
	Agent    RunAgentCmd    `cmd:"" help:"Run a single agent."`
	Team     RunTeamCmd     `cmd:"" help:"Run a team."`
	Workflow RunWorkflowCmd `cmd:"" help:"Run a workflow."`
}

// RunAgentCmd runs a single agent to completion.
type RunAgentCmd struct {
	AgentID string `arg:"" help:"Agent id, as declared in the configuration file."`
	Task    string `arg:"" help:"Task description handed to the agent."`
	Session string `help:"Session id to accumulate the conversation into. Empty runs without a session."`
}

func (c *RunAgentCmd) Run(cli *CLI) error {
	ctx, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	rec, err := o.RunAgent(ctx, c.AgentID, c.Task, c.Session)
	if err != nil {
		return err
	}
	printRecord(rec)
	return statusErr(string(rec.Status))
}

// RunTeamCmd runs a team to completion.
type RunTeamCmd struct {
	TeamID  string `arg:"" help:"Team id, as declared in the configuration file."`
	Task    string `arg:"" help:"Task description handed to the team."`
	Session string `help:"Session id to accumulate the conversation into. Empty runs without a session."`
}

func (c *RunTeamCmd) Run(cli *CLI) error {
	ctx, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	rec, err := o.RunTeam(ctx, c.TeamID, c.Task, c.Session)
	if err != nil {
		return err
	}
	printRecord(rec)
	return statusErr(string(rec.Status))
}

// RunWorkflowCmd runs a workflow to completion.
type RunWorkflowCmd struct {
	WorkflowID string `arg:"" help:"Workflow id, as declared in the configuration file."`
}

func (c *RunWorkflowCmd) Run(cli *CLI) error {
	ctx, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	rec, err := o.RunWorkflow(ctx, c.WorkflowID)
	if err != nil {
		return err
	}
	printRecord(rec)
	return statusErr(string(rec.Status))
}

// ProviderCmd groups the Provider Lifecycle Manager's operator surface:
// install records a provider's binary without running it, start/stop/
// restart manage its subprocess and Catalog registration, and uninstall
// removes its installation record entirely.
type ProviderCmd struct {
	Install   ProviderInstallCmd   `cmd:"" help:"Record a provider's binary path for later start."`
	Start     ProviderStartCmd     `cmd:"" help:"Launch an installed provider and register its tools."`
	Stop      ProviderStopCmd      `cmd:"" help:"Deregister and terminate a running provider."`
	Restart   ProviderRestartCmd   `cmd:"" help:"Stop then start an installed provider."`
	Uninstall ProviderUninstallCmd `cmd:"" help:"Stop (if running) and forget a provider's installation."`
}

// ProviderInstallCmd records a provider's binary path and startup
// environment with the Provider Lifecycle Manager's manifest.
type ProviderInstallCmd struct {
	Name string   `arg:"" help:"Provider name, as it will appear in the Catalog."`
	Path string   `arg:"" help:"Path to the provider's go-plugin subprocess binary."`
	Env  []string `help:"Environment variables passed to the subprocess, as KEY=VALUE." short:"e"`
}

func (c *ProviderInstallCmd) Run(cli *CLI) error {
	_, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	env := map[string]string{}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	if err := o.InstallProvider(c.Name, c.Path, env); err != nil {
		return err
	}
	fmt.Printf("installed %s (%s)\n", c.Name, c.Path)
	return nil
}

// ProviderStartCmd launches an installed provider's subprocess and
// registers its discovered tools in the Catalog.
type ProviderStartCmd struct {
	Name string `arg:"" help:"Provider name, as given to install."`
}

func (c *ProviderStartCmd) Run(cli *CLI) error {
	ctx, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	if err := o.StartProvider(ctx, c.Name); err != nil {
		return err
	}
	fmt.Printf("started %s\n", c.Name)
	return nil
}

// ProviderStopCmd deregisters and terminates a running provider.
type ProviderStopCmd struct {
	Name string `arg:"" help:"Provider name, as given to install."`
}

func (c *ProviderStopCmd) Run(cli *CLI) error {
	_, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	if err := o.StopProvider(c.Name); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", c.Name)
	return nil
}

// ProviderRestartCmd stops then starts an installed provider.
type ProviderRestartCmd struct {
	Name string `arg:"" help:"Provider name, as given to install."`
}

func (c *ProviderRestartCmd) Run(cli *CLI) error {
	ctx, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	if err := o.RestartProvider(ctx, c.Name); err != nil {
		return err
	}
	fmt.Printf("restarted %s\n", c.Name)
	return nil
}

// ProviderUninstallCmd stops a running provider (if any) and removes its
// installation record.
type ProviderUninstallCmd struct {
	Name string `arg:"" help:"Provider name, as given to install."`
}

func (c *ProviderUninstallCmd) Run(cli *CLI) error {
	_, o, err := bootstrap(cli)
	if err != nil {
		return err
	}
	if err := o.UninstallProvider(c.Name); err != nil {
		return err
	}
	fmt.Printf("uninstalled %s\n", c.Name)
	return nil
}

// CancelCmd is a placeholder for operator tooling built on top of a running
// fleetd process; a standalone CLI invocation has no in-process execution to
// cancel, since each run command already blocks to completion.
type CancelCmd struct {
	ExecutionID string `arg:"" help:"Execution id to cancel."`
}

func (c *CancelCmd) Run(cli *CLI) error {
	return fmt.Errorf("cancel: %s: no running execution in this process; cancellation applies to a long-lived fleetd instance", c.ExecutionID)
}

func printRecord(rec orchestrator.Record) {
	fmt.Printf("execution: %s\n", rec.ID)
	fmt.Printf("status:    %s\n", rec.Status)
	if rec.FinalAnswer != "" {
		fmt.Printf("answer:    %s\n", rec.FinalAnswer)
	}
	if rec.Status == orchestrator.StatusError {
		for _, ev := range rec.Events {
			if ev.Tag == eventbus.TagError {
				fmt.Printf("error:     %s\n", ev.Message)
			}
		}
	}
}

func statusErr(status string) error {
	if status == string(orchestrator.StatusError) {
		return fmt.Errorf("execution finished with status %s", status)
	}
	return nil
}

// bootstrap loads the configuration file, wires an Orchestrator, registers
// model adapters from environment variables, and installs a signal-driven
// cancellation context for the command about to run.
func bootstrap(cli *CLI) (context.Context, *orchestrator.Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cli.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cli.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	_ = config.LoadEnv(envSiblingOf(cli.Config))
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}

	transport := toolclient.NewHTTPTransport(cfg.ExecutionTimeouts.PerToolCall())
	o, err := orchestrator.New(cfg, transport, logger)
	if err != nil {
		return nil, nil, err
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		o.RegisterAdapter(modelgateway.NewOpenAIAdapter(key, os.Getenv("OPENAI_BASE_URL")))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		o.RegisterAdapter(modelgateway.NewAnthropicAdapter(key, os.Getenv("ANTHROPIC_BASE_URL")))
	}

	for _, reconcileErr := range o.ReconcileProviders(ctx) {
		logger.Warn("provider reconciliation failed", "error", reconcileErr)
	}

	return ctx, o, nil
}

func envSiblingOf(configPath string) string {
	dir := configPath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i+1] + ".env"
		}
	}
	return ".env"
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("fleetd"),
		kong.Description("fleet - config-first AI agent orchestration engine"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

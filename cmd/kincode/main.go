// Kin Code — an interactive coding assistant agent core.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kinra-ai/kin-code/pkg/agent"
	"github.com/kinra-ai/kin-code/pkg/config"
	"github.com/kinra-ai/kin-code/pkg/core"
	"github.com/kinra-ai/kin-code/pkg/logger"
	"github.com/kinra-ai/kin-code/pkg/paths"
	"github.com/kinra-ai/kin-code/pkg/providers"
	"github.com/kinra-ai/kin-code/pkg/providers/openaicompat"
	"github.com/kinra-ai/kin-code/pkg/tools"
)

var version = "dev"

type cliFlags struct {
	prompt          string
	promptSet       bool
	autoApprove     bool
	plan            bool
	agentName       string
	maxTurns        int
	maxPrice        float64
	enabledTools    []string
	output          string
	kinHome         string
	showVersion     bool
	continueSession bool
	resumeSessionID string
}

func main() {
	log := logger.New(logger.InfoLevel)

	flags := &cliFlags{}
	root := newRootCmd(flags, log)
	if err := root.Execute(); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd(flags *cliFlags, log *logger.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kin-code [initial_prompt]",
		Short: "Interactive coding-assistant agent core",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.showVersion {
				fmt.Println(version)
				return nil
			}
			if flags.continueSession && flags.resumeSessionID != "" {
				return fmt.Errorf("--continue and --resume are mutually exclusive")
			}
			var initialPrompt string
			if len(args) == 1 {
				initialPrompt = args[0]
			}
			return run(cmd.Context(), flags, initialPrompt, log)
		},
	}

	cmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "programmatic mode: read prompt from this value, else stdin")
	cmd.Flags().Lookup("prompt").NoOptDefVal = "-"
	cmd.Flags().BoolVar(&flags.autoApprove, "auto-approve", false, "skip interactive tool approval")
	cmd.Flags().BoolVar(&flags.plan, "plan", false, "run under the read-only plan profile")
	cmd.Flags().StringVar(&flags.agentName, "agent", "default", "agent profile to run under")
	cmd.Flags().IntVar(&flags.maxTurns, "max-turns", 0, "stop after N turns (programmatic mode)")
	cmd.Flags().Float64Var(&flags.maxPrice, "max-price", 0, "stop once session cost exceeds this many dollars (programmatic mode)")
	cmd.Flags().StringArrayVar(&flags.enabledTools, "enabled-tools", nil, "restrict to this tool (repeatable)")
	cmd.Flags().StringVar(&flags.output, "output", "text", "output format: text|json|streaming")
	cmd.Flags().StringVar(&flags.kinHome, "kin-home", "", "override KIN_HOME")
	cmd.Flags().BoolVarP(&flags.showVersion, "version", "v", false, "print version and exit")
	cmd.Flags().BoolVarP(&flags.continueSession, "continue", "c", false, "resume the most recently saved session")
	cmd.Flags().StringVar(&flags.resumeSessionID, "resume", "", "resume a specific session id")

	cmd.AddCommand(newSetupCmd(), newAddProviderCmd())
	return cmd
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive onboarding wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("--setup is not implemented in this core; edit config.toml directly")
		},
	}
}

func newAddProviderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-provider",
		Short: "Register a new LLM provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("--add-provider is not implemented in this core; edit config.toml directly")
		},
	}
}

func run(ctx context.Context, flags *cliFlags, initialPrompt string, log *logger.Logger) error {
	kinHome := os.Getenv("KIN_HOME")
	if flags.kinHome != "" {
		kinHome = flags.kinHome
	}
	p := paths.New(kinHome)
	if err := p.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare %s: %w", p.Home, err)
	}

	cfg, err := config.Load(p.ConfigFile(), p.EnvFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	promptText, programmatic, err := resolvePrompt(flags)
	if err != nil {
		return err
	}

	loop, err := buildLoop(cfg, flags, log)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	switch {
	case flags.resumeSessionID != "":
		messages, err := loadSession(p, flags.resumeSessionID)
		if err != nil {
			return fmt.Errorf("resume session %q: %w", flags.resumeSessionID, err)
		}
		sessionID = flags.resumeSessionID
		loop.ReloadWithInitialMessages(messages)
	case flags.continueSession:
		id, messages, err := loadLatestSession(p)
		if err != nil {
			return fmt.Errorf("continue session: %w", err)
		}
		if id != "" {
			sessionID = id
			loop.ReloadWithInitialMessages(messages)
		}
	}

	events := make([]core.Event, 0)
	loop.SetObserver(func(e core.Event) {
		events = append(events, e)
		if flags.output == "streaming" {
			emitJSONLine(os.Stdout, e)
		}
	})

	userMessage := initialPrompt
	if programmatic {
		userMessage = promptText
	}

	actErr := loop.Act(ctx, userMessage)
	if err := saveSession(p, sessionID, loop.History.Messages); err != nil {
		log.Error("save session", "error", err)
	}
	if actErr != nil {
		return fmt.Errorf("agent loop: %w", actErr)
	}

	switch flags.output {
	case "json":
		emitJSONLine(os.Stdout, map[string]any{"events": events})
	case "text":
		fmt.Println(finalAssistantText(events))
	}

	return nil
}

func resolvePrompt(flags *cliFlags) (text string, programmatic bool, err error) {
	if !flags.promptSetFromFlag() {
		return "", false, nil
	}
	if flags.prompt != "-" {
		return flags.prompt, true, nil
	}

	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", true, nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", false, fmt.Errorf("read stdin: %w", err)
	}
	return string(data), true, nil
}

func (f *cliFlags) promptSetFromFlag() bool {
	return f.prompt != ""
}

func finalAssistantText(events []core.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == core.EventAssistant {
			return events[i].Content
		}
	}
	return ""
}

func emitJSONLine(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func buildLoop(cfg *config.Config, flags *cliFlags, log *logger.Logger) (*agent.Loop, error) {
	alias := cfg.LLM.DefaultModel
	entry, ok := cfg.Models[alias]
	if !ok {
		return nil, fmt.Errorf("model alias %q not configured", alias)
	}
	model := config.ResolveModel(alias, entry)

	backend := buildBackend(cfg, model)
	client := providers.NewClient(backend, fmt.Sprintf("session-%d", time.Now().UnixNano()%1_000_000))

	manager := tools.NewManager()
	manager.Register(tools.NewReadFileTool(cfg.Agents.Workspace, cfg.Agents.RestrictToWorkspace), core.ToolConfig{Permission: core.PermissionAlways})
	manager.Register(tools.NewWriteFileTool(cfg.Agents.Workspace, cfg.Agents.RestrictToWorkspace), core.ToolConfig{Permission: core.PermissionAsk})
	manager.Register(tools.NewShellTool(cfg.Agents.Workspace, 0), core.ToolConfig{Permission: core.PermissionAsk})
	manager.Register(tools.NewSubagentTool(cfg.Agents.SubagentProfiles), core.ToolConfig{Permission: core.PermissionAlways})

	for name, entry := range cfg.Tools.Per {
		manager.SetToolConfig(name, config.ResolveToolConfig(entry))
	}
	if len(cfg.MCP.Servers) > 0 {
		mcpTools, err := tools.LoadMCPTools(context.Background(), mcpServerConfigs(cfg.MCP.Servers))
		if err != nil {
			log.Error("mcp discovery", "error", err)
		}
		for _, t := range mcpTools {
			manager.Register(t, core.ToolConfig{Permission: core.PermissionAsk})
		}
	}
	if err := manager.ApplyFilters(append(flags.enabledTools, cfg.Tools.Enabled...), cfg.Tools.Disabled); err != nil {
		return nil, err
	}

	runner := agent.NewToolRunner(manager, core.RejectAllApproval{}, flags.autoApprove)

	mw := agent.NewMiddlewarePipeline()
	if flags.maxTurns > 0 {
		mw.Add(&agent.TurnLimitMiddleware{MaxTurns: flags.maxTurns})
	} else if cfg.Agents.MaxTurns > 0 {
		mw.Add(&agent.TurnLimitMiddleware{MaxTurns: cfg.Agents.MaxTurns})
	}
	if flags.maxPrice > 0 {
		mw.Add(&agent.PriceLimitMiddleware{MaxPrice: flags.maxPrice})
	} else if cfg.Agents.MaxPriceUSD > 0 {
		mw.Add(&agent.PriceLimitMiddleware{MaxPrice: cfg.Agents.MaxPriceUSD})
	}
	if model.ContextWindow > 0 {
		threshold := cfg.Agents.AutoCompactPercent
		if threshold == 0 {
			threshold = 0.85
		}
		contextWindow := model.ContextWindow
		mw.Add(&agent.AutoCompactMiddleware{ThresholdPercent: threshold, MaxContext: contextWindow})
		mw.Add(agent.NewContextWarningMiddleware(&contextWindow))
	}

	profile := agent.ProfileDefault
	if flags.plan {
		profile = agent.ProfilePlan
	}
	mw.Add(agent.NewPlanAgentMiddleware(func() bool { return profile == agent.ProfilePlan }))

	systemPrompt := fmt.Sprintf("You are Kin Code, an interactive coding assistant running in the %q profile.", profile)
	loop := agent.NewLoop(systemPrompt, model, manager, client, runner, mw)
	loop.Profile = profile

	registry := agent.NewRegistry(resolveModels(cfg), func(p agent.Profile) (*agent.Loop, error) {
		return buildLoop(cfg, flags, log)
	}, func(m core.ModelConfig) (providers.Backend, error) {
		return buildBackend(cfg, m), nil
	}, 25)
	loop.SetSubagentSpawner(func(ctx context.Context, p agent.Profile, task string, capabilityTags []string) (tools.SubagentResult, error) {
		return registry.SpawnSubagent(ctx, string(p), task, capabilityTags)
	})

	return loop, nil
}

// sessionFile is the on-disk shape of <KIN_HOME>/sessions/<id>.json: the
// full message history. "The most recent session" for --continue is picked
// by the file's modification time on disk, not by a field stored here.
type sessionFile struct {
	Messages []core.Message `json:"messages"`
}

func sessionPath(p *paths.Paths, id string) string {
	return filepath.Join(p.SessionsDir(), id+".json")
}

func saveSession(p *paths.Paths, id string, messages []core.Message) error {
	data, err := json.Marshal(sessionFile{Messages: messages})
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(p, id), data, 0o600)
}

func loadSession(p *paths.Paths, id string) ([]core.Message, error) {
	data, err := os.ReadFile(sessionPath(p, id))
	if err != nil {
		return nil, err
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}
	return sf.Messages, nil
}

// loadLatestSession returns the id/messages of the most recently modified
// session file, or ("", nil, nil) if no session has ever been saved.
func loadLatestSession(p *paths.Paths) (string, []core.Message, error) {
	entries, err := os.ReadDir(p.SessionsDir())
	if err != nil {
		return "", nil, err
	}

	var latestName string
	var latestModTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latestName == "" || info.ModTime().After(latestModTime) {
			latestName = entry.Name()
			latestModTime = info.ModTime()
		}
	}
	if latestName == "" {
		return "", nil, nil
	}

	id := strings.TrimSuffix(latestName, ".json")
	messages, err := loadSession(p, id)
	if err != nil {
		return "", nil, err
	}
	return id, messages, nil
}

func buildBackend(cfg *config.Config, model core.ModelConfig) providers.Backend {
	return openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, model.Name, model.ToolCallFormat, model.ReasoningMode)
}

func mcpServerConfigs(entries []config.MCPServerEntry) []tools.MCPServerConfig {
	out := make([]tools.MCPServerConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, tools.MCPServerConfig{
			Name:             e.Name,
			Enabled:          e.Enabled,
			Transport:        e.Transport,
			Command:          e.Command,
			Args:             e.Args,
			URL:              e.URL,
			StartupTimeoutMS: e.StartupTimeoutMS,
			CallTimeoutMS:    e.CallTimeoutMS,
		})
	}
	return out
}

func resolveModels(cfg *config.Config) map[string]core.ModelConfig {
	out := make(map[string]core.ModelConfig, len(cfg.Models))
	for alias, entry := range cfg.Models {
		out[alias] = config.ResolveModel(alias, entry)
	}
	return out
}

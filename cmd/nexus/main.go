// Command nexus is the thin entrypoint for the agent runtime core: it
// loads config, constructs the ten core components, and drives one agent
// run per invocation from stdin/flags (SPEC_FULL.md §2). It is glue, not a
// new core component, and carries none of the invariants of §8 — those
// live in the packages it wires together.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/budget"
	"github.com/haasonsaas/nexus/internal/config"
	agentctx "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/internal/executor"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/permission"
	"github.com/haasonsaas/nexus/internal/processmgr"
	"github.com/haasonsaas/nexus/internal/requestbuilder"
	"github.com/haasonsaas/nexus/internal/rules"
	"github.com/haasonsaas/nexus/internal/security"
	"github.com/haasonsaas/nexus/internal/sessionstore"
	"github.com/haasonsaas/nexus/internal/tasks"
	"github.com/haasonsaas/nexus/internal/tools/exec"
	"github.com/haasonsaas/nexus/internal/tools/sandbox"
	task "github.com/haasonsaas/nexus/internal/tools/task"
	"github.com/haasonsaas/nexus/internal/toolregistry"
	"github.com/haasonsaas/nexus/internal/usage"
	"github.com/haasonsaas/nexus/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON5 config file ($include-merged)")
	sessionID := flag.String("session", "", "existing session id to continue; a new one is created if empty")
	agentID := flag.String("agent", "default", "agent id attributed to new sessions")
	prompt := flag.String("prompt", "", "the user message; read from stdin if empty")
	flag.Parse()

	if err := run(*configPath, *sessionID, *agentID, *prompt); err != nil {
		fmt.Fprintln(os.Stderr, "nexus:", err)
		os.Exit(1)
	}
}

func run(configPath, sessionID, agentID, prompt string) error {
	ctx := context.Background()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	store, err := buildSessionStore(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	prices := builtinPrices()
	tenantBudget := budget.NewTracker(cfg.Budget.MaxUSD, prices)
	runBudget := tenantBudget.WithTenant(nil) // single-tenant CLI: per-run == tenant scope

	client, err := buildModelClient(cfg)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	processes := processmgr.New()
	defer processes.Close()

	if findings, err := security.CheckPath(cfg.Tools.Sandbox.WorkspaceRoot); err != nil {
		logger.Warn(ctx, "workspace permission audit failed", "error", err)
	} else {
		for _, f := range findings {
			if f.Severity == security.SeverityCritical || f.Severity == security.SeverityHigh {
				logger.Warn(ctx, "workspace permission finding", "check_id", f.CheckID, "severity", string(f.Severity), "detail", f.Detail)
			}
		}
	}

	execManager := exec.NewManager(cfg.Tools.Sandbox.WorkspaceRoot)
	tools := toolregistry.New()
	_ = tools.RegisterDynamic(exec.NewExecTool("Bash", execManager))
	_ = tools.RegisterDynamic(exec.NewProcessTool(execManager))

	// execute_code runs untrusted snippets in a pooled container sandbox
	// (Docker by default, Firecracker/Daytona when configured) rather than
	// the host-process Bash tool above — spec's Tool Sandbox isolation
	// surface for arbitrary-language code, not just shell commands.
	if codeExec, err := sandbox.NewExecutor(
		sandbox.WithWorkspaceRoot(cfg.Tools.Sandbox.WorkspaceRoot),
		sandbox.WithNetworkEnabled(cfg.Tools.Sandbox.NetworkEnabled),
	); err != nil {
		logger.Warn(ctx, "sandbox executor unavailable, execute_code tool disabled", "error", err)
	} else {
		_ = tools.RegisterDynamic(codeExec)
		defer codeExec.Close()
	}

	taskRegistry := tasks.New(store)
	promptBuilder := requestbuilder.New(
		"You are Nexus, an autonomous coding and research agent.",
		"",
		requestbuilder.PromptMode(""),
	)

	contextWindow := cfg.Session.Compaction.ContextWindowTokens
	if contextWindow <= 0 {
		if tokens, ok := agentctx.GetModelContextWindow(defaultModel(cfg)); ok {
			contextWindow = tokens
		}
	}

	execCfg := executor.Config{
		MaxIterations:           cfg.Tools.Execution.MaxIterations,
		ContextWindowTokens:     contextWindow,
		CompactThresholdPercent: cfg.Session.Compaction.ThresholdPercent,
		CompactKeepLastN:        cfg.Session.Compaction.KeepLastN,
		DefaultModel:            defaultModel(cfg),
	}

	permEngine := permission.New(
		permission.Mode(cfg.Tools.Execution.Approval.Mode),
		cfg.Tools.Execution.Approval.Allow,
		cfg.Tools.Execution.Approval.Deny,
	)

	execCtx := &toolregistry.ExecutionContext{
		WorkspaceRoot:  cfg.Tools.Sandbox.WorkspaceRoot,
		NetworkEnabled: cfg.Tools.Sandbox.NetworkEnabled,
		NetworkAllow:   cfg.Tools.Sandbox.NetworkAllow,
		Permission:     permEngine,
		Processes:      processes,
		MaxOutputBytes: cfg.Tools.Sandbox.MaxOutputBytes,
	}

	hookManager := hooks.New()

	deps := executor.Deps{
		Client:    client,
		Tools:     tools,
		Hooks:     hookManager,
		Budget:    runBudget,
		Rules:     rules.New(nil),
		ExecCtx:   execCtx,
		Sessions:  store,
		Prices:    prices,
		Tasks:     taskRegistry,
		Processes: processes,
		Logger:    logger,
	}

	spawn := func(agentType string) *executor.Executor {
		return executor.New(deps, execCfg, promptBuilder)
	}
	_ = tools.RegisterDynamic(task.New(taskRegistry, spawn))
	_ = tools.RegisterDynamic(task.NewOutput(taskRegistry))

	ex := executor.New(deps, execCfg, promptBuilder)

	session, seed, err := loadOrCreateSession(ctx, store, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("load/create session: %w", err)
	}

	text := prompt
	if text == "" {
		text, err = readStdin()
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
	}
	userMsg := models.Message{
		UUID:      uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   []models.ContentBlock{models.NewTextBlock(text)},
		CreatedAt: time.Now(),
	}

	usageTracker := usage.NewTracker(usage.DefaultTrackerConfig())

	events := ex.Run(ctx, session, seed, userMsg, nil)
	for ev := range events {
		switch ev.Type {
		case models.AgentEventModelDelta:
			if ev.Stream != nil {
				fmt.Print(ev.Stream.Delta)
			}
		case models.AgentEventRunFinished:
			fmt.Println()
			if ev.Result != nil && ev.Result.Result != nil {
				result := ev.Result.Result
				logger.Info(ctx, "run finished",
					"session_id", session.ID, "state", string(result.State),
					"iterations", result.Iterations, "tool_calls", result.ToolCalls)

				usageTracker.Record(usage.Record{
					ID:       result.UUID,
					Provider: client.Name(),
					Model:    defaultModel(cfg),
					Usage: usage.Usage{
						InputTokens:      int64(result.Usage.InputTokens),
						OutputTokens:     int64(result.Usage.OutputTokens),
						CacheReadTokens:  int64(result.Usage.CacheReadTokens),
						CacheWriteTokens: int64(result.Usage.CacheWriteTokens),
					},
					Cost: result.Metrics.TotalCostUSD,
				})
				totals := usageTracker.GetTotals(client.Name(), defaultModel(cfg))
				logger.Info(ctx, "usage summary", "tokens", usage.FormatUsage(totals), "cost", usage.FormatUSD(result.Metrics.TotalCostUSD))
			}
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(), nil
	}
	return config.Load(path)
}

func defaultModel(cfg *config.Config) string {
	if p, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok && p.DefaultModel != "" {
		return p.DefaultModel
	}
	return "claude-sonnet-4-5"
}

func buildModelClient(cfg *config.Config) (modelclient.Client, error) {
	provider := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	return modelclient.NewAnthropicClient(modelclient.AnthropicConfig{
		APIKey:       provider.APIKey,
		BaseURL:      provider.BaseURL,
		DefaultModel: defaultModel(cfg),
	})
}

func buildSessionStore(cfg config.PersistenceConfig) (sessionstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return sessionstore.NewMemoryStore(), nil
	case "journal":
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return sessionstore.NewJournalStore(cfg.JournalDir, cwd), nil
	case "postgres":
		return sessionstore.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported persistence backend %q", cfg.Backend)
	}
}

func loadOrCreateSession(ctx context.Context, store sessionstore.Store, sessionID, agentID string) (*models.Session, []models.Message, error) {
	if sessionID != "" {
		session, messages, err := store.Load(ctx, sessionID)
		if err == nil {
			return session, sessionstore.Branch(messages, derefOrEmpty(session.CurrentLeafID)), nil
		}
		if err != sessionstore.ErrNotFound {
			return nil, nil, err
		}
	}
	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		State:     models.SessionCreated,
		Kind:      models.SessionKindMain,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Save(ctx, session); err != nil {
		return nil, nil, err
	}
	return session, nil, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func readStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// builtinPrices is a minimal Anthropic price table used when no
// Budget.PricingFile override is configured; SPEC_FULL.md's Config loader
// supports overriding this via PricingFile, not yet wired in this CLI.
func builtinPrices() map[string]models.ModelPrice {
	return map[string]models.ModelPrice{
		"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
		"claude-opus-4":     {InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5, CacheWritePerMTok: 18.75},
		"claude-haiku-4-5":  {InputPerMTok: 0.8, OutputPerMTok: 4, CacheReadPerMTok: 0.08, CacheWritePerMTok: 1},
	}
}

// Package runtime implements the runtime coordinator of SPEC_FULL §4.11:
// lifecycle (init/start/shutdown), the delivery tick that drives the
// message processor, submission of user tasks, and the stop/terminate
// control-plane API.
//
// Grounded on the teacher's internal/gateway/lifecycle.go (Start/Stop
// sequencing: start background workers in dependency order, best-effort,
// logged-not-fatal error handling on the shutdown path) adapted from a
// channel gateway's many subsystems down to this runtime's smaller,
// fixed set of collaborators.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/conversation"
	"github.com/agentmesh/runtime/internal/llmclient"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/persistence"
	"github.com/agentmesh/runtime/internal/processor"
	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/toolexec"
	"github.com/agentmesh/runtime/internal/turn"
	"github.com/agentmesh/runtime/pkg/models"
)

// defaultPollInterval is how often the delivery tick scans for eligible
// agents when Config.SchedulePollInterval is unset.
const defaultPollInterval = 50 * time.Millisecond

// Config are the inputs New needs to wire a Runtime.
type Config struct {
	// RootPrompt seeds the root agent's role prompt on first init.
	RootPrompt string

	// ArtifactsDir is the local artifact store's backing directory.
	ArtifactsDir string

	// RuntimeDir is the directory holding the snapshot database; empty
	// disables persistence entirely (Init creates a fresh, unrestored
	// organization every time, and Start/Shutdown never snapshot).
	RuntimeDir string

	// SnapshotSchedule is a cron expression (supports "@every Nh/m/s") for
	// the periodic snapshot job; empty uses persistence.DefaultSchedule.
	SnapshotSchedule string

	// LLMServicesPath/DefaultLLMServicesPath feed the LLM service registry
	// (local shadows default, never merged — see internal/llmservice).
	LLMServicesPath        string
	DefaultLLMServicesPath string

	// DefaultServiceID is used when a role declares no preferred service.
	DefaultServiceID string

	// MaxConcurrentTurns bounds the message processor's in-flight turn
	// count; <= 0 is treated as 1 by internal/processor.
	MaxConcurrentTurns int

	// MaxConcurrentLLMRequests sizes internal/llmclient's per-service
	// semaphores (services without their own override); it does not bound
	// the total across services. <= 0 falls back to 3 with a logged warning.
	MaxConcurrentLLMRequests int

	// SchedulePollInterval paces the delivery tick; <= 0 uses
	// defaultPollInterval.
	SchedulePollInterval time.Duration

	Logger *slog.Logger
}

// Runtime wires every core collaborator (bus, organization, tool executor,
// conversation manager, turn driver, LLM client, message processor) and
// drives their lifecycle.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	Bus           *bus.Bus
	State         *runtimestate.Manager
	Org           *multiagent.Organization
	Registry      *llmservice.Registry
	Artifacts     artifacts.Store
	Router        *multiagent.CapabilityRouter
	ToolRegistry  *toolexec.Registry
	ToolExecutor  *toolexec.Executor
	Conversations *conversation.Manager
	LLM           *llmclient.Client
	Driver        *turn.Driver
	Processor     *processor.Processor
	Snapshots     *persistence.Snapshotter

	store  *persistence.Store
	cancel context.CancelFunc
	loopWG sync.WaitGroup
}

// New constructs every collaborator but performs no I/O beyond opening the
// artifact store directory; call Init to restore/create runtime state and
// Start to begin scheduling.
func New(cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New()
	state := runtimestate.New()

	registry, err := llmservice.NewRegistry(cfg.LLMServicesPath, cfg.DefaultLLMServicesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load llm service registry: %w", err)
	}

	org := multiagent.New(b, state, registry, cfg.DefaultServiceID)

	store, err := artifacts.NewLocalStore(cfg.ArtifactsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	router := multiagent.NewCapabilityRouter(store, registry, org, logger)

	toolRegistry := toolexec.NewRegistry()
	if err := toolexec.RegisterCoreTools(toolRegistry); err != nil {
		return nil, fmt.Errorf("register core tools: %w", err)
	}
	if err := toolexec.RegisterAuxiliaryTools(toolRegistry); err != nil {
		return nil, fmt.Errorf("register auxiliary tools: %w", err)
	}

	roleLookup := func(roleID string) ([]string, bool) {
		role, ok := org.GetRole(roleID)
		if !ok {
			return nil, false
		}
		return role.ToolGroups, true
	}
	toolExecutor := toolexec.NewExecutor(toolRegistry, roleLookup)

	conv := conversation.New(nil, logger)
	llm := llmclient.New(registry, org, state, cfg.MaxConcurrentLLMRequests, logger)
	driver := turn.New(org, b, state, conv, toolExecutor, store, router, llm, logger)
	proc := processor.New(b, state, org.ListAgents, driver.RunTurn, cfg.MaxConcurrentTurns, logger)

	rt := &Runtime{
		cfg:           cfg,
		logger:        logger,
		Bus:           b,
		State:         state,
		Org:           org,
		Registry:      registry,
		Artifacts:     store,
		Router:        router,
		ToolRegistry:  toolRegistry,
		ToolExecutor:  toolExecutor,
		Conversations: conv,
		LLM:           llm,
		Driver:        driver,
		Processor:     proc,
	}

	if cfg.RuntimeDir != "" {
		if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
			return nil, fmt.Errorf("create runtime dir: %w", err)
		}
		snapStore, err := persistence.Open(filepath.Join(cfg.RuntimeDir, "snapshot.db"), logger)
		if err != nil {
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
		rt.store = snapStore
		rt.Snapshots = persistence.NewSnapshotter(snapStore, org, conv, state, b, logger)
	}

	return rt, nil
}

// Init restores a prior snapshot (if persistence is enabled and one
// exists), creates the root agent if still absent, and starts the
// LLM-services catalog watcher. Never fails on a missing/empty catalog
// (SPEC_FULL §4.3); a watcher error is logged, not returned, matching the
// registry's own never-fatal posture.
func (r *Runtime) Init(ctx context.Context) error {
	if r.Snapshots != nil {
		if err := r.Snapshots.Restore(ctx); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}
	if _, err := r.Org.EnsureRootAgent(r.cfg.RootPrompt); err != nil {
		return fmt.Errorf("ensure root agent: %w", err)
	}
	if err := r.Registry.WatchForChanges(); err != nil {
		r.logger.Warn("llm services catalog watch failed to start", "error", err)
	}
	return nil
}

// Start begins the delivery tick: a ticker-driven goroutine that repeatedly
// drains every eligible agent via the message processor, bounded by
// MaxConcurrentTurns. It returns immediately; call Shutdown to stop it.
func (r *Runtime) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	interval := r.cfg.SchedulePollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	r.loopWG.Add(1)
	go func() {
		defer r.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				r.Processor.DeliverOneRound(loopCtx)
			}
		}
	}()

	if r.Snapshots != nil {
		if err := r.Snapshots.Start(r.cfg.SnapshotSchedule); err != nil {
			r.logger.Warn("periodic snapshot schedule failed to start, persistence is shutdown-only", "error", err)
		}
	}
}

// SubmitRequirement implements submitRequirement(text): it allocates a
// taskId and sends a seed message to root, whose own tool use (typically
// spawn_agent_with_task) creates the entry agent for the task.
func (r *Runtime) SubmitRequirement(text string) (taskID, rootMessageID string, err error) {
	taskID = uuid.NewString()
	msg := r.Bus.Send(&models.Message{
		From:    models.UserAgentID,
		To:      models.RootAgentID,
		TaskID:  taskID,
		Payload: models.Payload{Text: text},
	})
	return taskID, msg.ID, nil
}

// SubmitMessage implements POST /api/send's normalization rule (SPEC_FULL
// §6, property 5): an empty attachments slice normalizes to a plain-text
// payload; text and attachments both empty is rejected as missing_text.
// Attachment payloads otherwise pass through verbatim.
func (r *Runtime) SubmitMessage(to, text string, attachments []models.Attachment) (string, error) {
	if text == "" && len(attachments) == 0 {
		return "", rterr.New(rterr.CodeMissingText, "")
	}
	msg := r.Bus.Send(&models.Message{
		From: models.UserAgentID,
		To:   to,
		Payload: models.Payload{
			Text:        text,
			Attachments: attachments,
		},
	})
	return msg.ID, nil
}

// AbortAgentLlmCall implements the stop API: sets status to stopping so the
// turn driver's halting checks skip any tool calls not yet invoked and the
// LLM client's abort check short-circuits its next retry attempt. The turn
// driver resolves stopping to the terminal stopped status once the
// in-flight turn (if any) observes it and returns.
func (r *Runtime) AbortAgentLlmCall(agentID string) error {
	if !r.Org.SetAgentStatus(agentID, models.StatusStopping) {
		return rterr.New(rterr.CodeAgentNotFound, "agent %q not found", agentID)
	}
	return nil
}

// TerminateAgent implements the stronger terminate API: in addition to
// halting, it marks the agent permanently ineligible for scheduling
// (internal/multiagent.Organization.TerminateAgent sets it Terminated,
// which internal/processor's eligibility check excludes).
func (r *Runtime) TerminateAgent(ctx context.Context, agentID string) error {
	return r.Org.TerminateAgent(ctx, agentID)
}

// Shutdown ceases scheduling, waits for in-flight turns to return, performs
// one final synchronous snapshot (if persistence is enabled), and closes
// the LLM-services file watcher. It does not abort in-flight LLM calls
// itself — callers that need every agent quiesced first should call
// AbortAgentLlmCall per agent before Shutdown.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.loopWG.Wait()
	r.Processor.Wait()

	if r.Snapshots != nil {
		if err := r.Snapshots.Stop(ctx); err != nil {
			r.logger.Error("final snapshot failed", "error", err)
		}
		if r.store != nil {
			if err := r.store.Close(); err != nil {
				r.logger.Error("error closing snapshot store", "error", err)
			}
		}
	}

	if err := r.Registry.Close(); err != nil {
		r.logger.Error("error closing llm services watcher", "error", err)
	}
	return nil
}

// Package httpapi implements the HTTP surface of SPEC_FULL §6: message
// send, agent listing/abort, artifact upload/download, LLM/LLM-service
// configuration CRUD, org-template CRUD, the UI-command long-poll bridge,
// and the ambient /metrics and /healthz endpoints.
//
// Grounded on the teacher's internal/gateway/http_server.go
// (net/http.ServeMux assembly, promhttp.Handler() mount, /healthz JSON
// shape) — this runtime's minimal surface does not need the teacher's
// router library, matching SPEC_FULL §6's explicit stdlib-only decision
// for the core's HTTP surface.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/orgtemplate"
	"github.com/agentmesh/runtime/internal/processor"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/uibridge"
	"github.com/agentmesh/runtime/pkg/models"
)

// maxArtifactUploadBytes enforces the 10 MB upload limit server-side
// (client-side enforcement is a UI concern, out of this package's scope).
const maxArtifactUploadBytes = 10 << 20

// Runtime is the subset of *internal/runtime.Runtime the HTTP surface
// needs. Declared as an interface here (rather than importing the concrete
// type) so this package never needs to import internal/runtime, avoiding a
// cycle should the runtime package ever want to mount this server itself.
type Runtime interface {
	// SubmitMessage sends a message to an agent, normalizing an empty
	// attachments slice to a plain-text payload. Returns CodeMissingText
	// (via *rterr.Error) when both text and attachments are empty.
	SubmitMessage(to, text string, attachments []models.Attachment) (messageID string, err error)
	AbortAgentLlmCall(agentID string) error
}

// Server wires every HTTP handler against the runtime's public
// collaborators.
type Server struct {
	runtime   Runtime
	bus       *bus.Bus
	state     *runtimestate.Manager
	org       *multiagent.Organization
	artifacts artifacts.Store
	registry  *llmservice.Registry
	templates *orgtemplate.Registry
	bridge    *uibridge.Bridge
	processor *processor.Processor
	logger    *slog.Logger

	mu          sync.RWMutex
	llmDefaults llmDefaults

	metrics metricsSet
	promReg *prometheus.Registry
	server  *http.Server
}

// Config are the collaborators a Server is built from.
type Config struct {
	Runtime   Runtime
	Bus       *bus.Bus
	State     *runtimestate.Manager
	Org       *multiagent.Organization
	Artifacts artifacts.Store
	Registry  *llmservice.Registry
	Templates *orgtemplate.Registry
	Bridge    *uibridge.Bridge
	Processor *processor.Processor
	Logger    *slog.Logger
}

type metricsSet struct {
	turnsGauge    prometheus.GaugeFunc
	inFlightGauge prometheus.GaugeFunc
	queueGauge    prometheus.GaugeFunc
}

// New builds a Server. Call Mux to get the assembled handler, or
// ListenAndServe to also own the listener lifecycle.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runtime:   cfg.Runtime,
		bus:       cfg.Bus,
		state:     cfg.State,
		org:       cfg.Org,
		artifacts: cfg.Artifacts,
		registry:  cfg.Registry,
		templates: cfg.Templates,
		bridge:    cfg.Bridge,
		processor: cfg.Processor,
		logger:    logger,
	}
	s.llmDefaults = llmDefaults{MaxConcurrentLlmRequests: 3}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	reg := prometheus.NewRegistry()

	s.metrics.turnsGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentmesh_turns_total",
		Help: "Total turns dispatched by the message processor since startup.",
	}, func() float64 {
		if s.processor == nil {
			return 0
		}
		return float64(s.processor.TurnsStarted())
	})
	s.metrics.inFlightGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentmesh_inflight_turns",
		Help: "Turns currently in flight (proxy for in-flight LLM calls).",
	}, func() float64 {
		if s.state == nil {
			return 0
		}
		return float64(s.state.ActiveCount())
	})
	s.metrics.queueGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "agentmesh_queue_depth",
		Help: "Sum of pending inbox messages across all known agents.",
	}, func() float64 {
		return float64(s.totalQueueDepth())
	})

	reg.MustRegister(s.metrics.turnsGauge, s.metrics.inFlightGauge, s.metrics.queueGauge)
	s.promReg = reg
}

func (s *Server) totalQueueDepth() int {
	if s.org == nil || s.bus == nil {
		return 0
	}
	total := 0
	for _, agent := range s.org.ListAgents() {
		total += s.bus.InboxSize(agent.AgentID)
	}
	return total
}

// Mux assembles the full ServeMux: the documented API surface plus
// /metrics and /healthz.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/agents", s.handleListAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentAction)
	mux.HandleFunc("/api/artifacts", s.handlePostArtifact)
	mux.HandleFunc("/api/artifacts/", s.handleGetArtifact)
	mux.HandleFunc("/api/config/llm", s.handleLLMConfig)
	mux.HandleFunc("/api/config/llm-services", s.handleLLMServicesCollection)
	mux.HandleFunc("/api/config/llm-services/", s.handleLLMServicesItem)
	mux.HandleFunc("/api/org-templates", s.handleOrgTemplatesCollection)
	mux.HandleFunc("/api/org-templates/", s.handleOrgTemplatesItem)
	mux.HandleFunc("/api/ui-commands/poll", s.handleUICommandsPoll)
	mux.HandleFunc("/api/ui-commands/result", s.handleUICommandsResult)

	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)

	return mux
}

// ListenAndServe starts the HTTP server on addr and blocks until ctx is
// canceled, then shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

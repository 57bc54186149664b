// Package gateway is the composition root: it constructs every component in
// dependency order, wires their cross-cutting event channels together, and
// exposes the Start/Shutdown lifecycle the HTTP server runs under.
// Grounded on backend/server/server.go's New/Start/Shutdown.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dock108/aicli-gateway/broadcast"
	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/devices"
	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/permission"
	"github.com/dock108/aicli-gateway/push"
	"github.com/dock108/aicli-gateway/queue"
	"github.com/dock108/aicli-gateway/registry"
	"github.com/dock108/aicli-gateway/runner"
	"github.com/dock108/aicli-gateway/server"
	"github.com/dock108/aicli-gateway/tasks"
)

const pushQueueName = "push"

// Gateway owns every component and the live session state that sits between
// them (which InteractiveSession backs which sessionId).
type Gateway struct {
	cfg   *config.Config
	clock config.Clock

	Registry    *registry.Registry
	Queue       *queue.Queue
	JobQueue    *queue.Manager
	Runner      *runner.Manager
	Tasks       *tasks.Manager
	Broadcaster *broadcast.Broadcaster
	Devices     *devices.Registry
	Permission  *permission.Manager
	Push        *push.Notifier

	taskEmitter *gatewayTaskEmitter

	sessMu   sync.Mutex
	sessions map[string]*runner.InteractiveSession

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	http *http.Server

	pushQueueStop func()
}

// New constructs every component in dependency order and
// wires their side channels (devices/permission → push, tasks → broadcast,
// registry/devices/permission events → logging and topic broadcast).
// transport is the deployment's push provider; pass a no-op transport (see
// NewLoggingTransport) when none is configured.
func New(cfg *config.Config, transport push.Transport) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		cfg:            cfg,
		clock:          config.ClockFor(cfg),
		sessions:       make(map[string]*runner.InteractiveSession),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	g.Registry = registry.NewRegistry(cfg, &registryEmitterAdapter{g: g})
	g.Queue = queue.NewQueue(cfg)
	g.JobQueue = queue.NewManager(cfg)
	g.Runner = runner.NewManager(cfg)
	g.Broadcaster = broadcast.NewBroadcaster(cfg, g.Registry, g.Queue, &broadcastNotifierAdapter{})
	g.Devices = devices.NewRegistry(cfg, &devicesEmitterAdapter{g: g})
	g.Push = push.NewNotifier(cfg, transport)
	g.Permission = permission.NewManager(cfg, &permissionEmitterAdapter{g: g}, &permissionAppNotifierAdapter{g: g}, nil, nil)

	g.taskEmitter = newGatewayTaskEmitter(g.Broadcaster)
	g.Tasks = tasks.NewManager(g.clock, cfg.LongTaskThresholdMs, g.taskEmitter, &pushTaskNotifierAdapter{g: g})

	log.Info().Msg("gateway: components initialized")
	return g, nil
}

// Start begins background housekeeping (health monitor, device timeout
// sweep, push queue drain) and listens for HTTP. It blocks until the HTTP
// server stops.
func (g *Gateway) Start() error {
	g.Registry.StartHealthMonitoring()
	g.Devices.StartTimeoutMonitor()
	g.startPushQueue()

	router := server.NewRouter(g.cfg, server.WSHandler(g.Registry, g, g.shutdownCtx))

	g.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port),
		Handler: router,
	}

	log.Info().Str("addr", g.http.Addr).Str("env", g.cfg.Env).Msg("gateway: HTTP server starting")
	err := g.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting work in the reverse order Start brought it up,
// giving live WebSocket handlers a moment to observe cancellation before the
// HTTP server and registry close under them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	log.Info().Msg("gateway: shutting down")

	g.shutdownCancel()
	time.Sleep(100 * time.Millisecond)

	if g.http != nil {
		if err := g.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway: http shutdown error")
		}
	}

	if g.pushQueueStop != nil {
		g.pushQueueStop()
	}
	g.Devices.StopTimeoutMonitor()
	g.Registry.StopHealthMonitoring()
	g.Broadcaster.Shutdown()
	g.Registry.Shutdown()

	log.Info().Msg("gateway: shutdown complete")
	return nil
}

func (g *Gateway) startPushQueue() {
	ticks, stop := g.clock.NewTicker(time.Second)
	g.pushQueueStop = stop
	go func() {
		for range ticks {
			g.JobQueue.Process(pushQueueName, g.handlePushJob)
		}
	}()
}

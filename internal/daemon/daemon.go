package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/diegosucaria/deedee-sub000/internal/logger"
	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/commandqueue"
	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"github.com/diegosucaria/deedee-sub000/pkg/coretools"
	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/diegosucaria/deedee-sub000/pkg/federation"
	"github.com/diegosucaria/deedee-sub000/pkg/hooks"
	"github.com/diegosucaria/deedee-sub000/pkg/memory"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
	"github.com/diegosucaria/deedee-sub000/pkg/vault"
)

// Daemon owns every long-lived component of the assistant.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	opts   options

	// Core modules
	queue         *commandqueue.CommandQueue
	conversations *conversation.Store
	facts         *memory.Store
	vault         *vault.Vault
	federation    *federation.Registry
	toolExecutor  *toolexecutor.ToolExecutor
	agentRunner   *agent.Runner
	hookManager   *hooks.Manager

	// Services
	cronService     *cron.Service
	jobStore        cron.Store
	channelRegistry *channels.Registry
	adminServer     *http.Server

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool                        `json:"running"`
	StartTime time.Time                   `json:"start_time"`
	Uptime    time.Duration               `json:"uptime"`
	Channels  []string                    `json:"channels"`
	Jobs      int                         `json:"jobs"`
	Providers []federation.ProviderStatus `json:"providers"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		opts:   collectOptions(opts),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := tracing.InitOpenTelemetry("deedee"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// abortInit releases whatever a failed New managed to open.
func (d *Daemon) abortInit() {
	d.cancel()
	d.closeStores()
	_ = observability.GetAuditLogger().Close()
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.config.WorkspacePath, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	d.queue = commandqueue.New()
	d.logger.Info().Msg("Command queue initialized")

	if err := observability.InitAuditLogger(d.config.Logging.AuditFile); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	}

	hookManager, err := newHookManager(d.config.Hooks, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create hook manager: %w", err)
	}
	d.hookManager = hookManager

	conversations, err := conversation.NewStore(d.config.ConversationsDir())
	if err != nil {
		return fmt.Errorf("failed to create conversation store: %w", err)
	}
	d.conversations = conversations

	facts, err := memory.Open(d.config.FactsPath())
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	d.facts = facts

	v, err := vault.Open(vault.Config{
		Root:   d.config.Vault.Path,
		DBPath: filepath.Join(d.config.DataDir, "vault.db"),
		Watch:  d.config.Vault.Watch,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	d.vault = v

	fedLogger := d.logger.GetZerolog()
	d.federation = federation.New(federation.Options{
		Providers:        ProviderConfigs(d.config),
		Connect:          d.opts.connector,
		OnConnectFailure: d.onProviderConnectFailure,
		Logger:           &fedLogger,
	})

	d.toolExecutor = toolexecutor.New(toolexecutor.Options{
		Federation:     d.federation,
		Policy:         toolexecutor.NewToolPolicy(d.config.Tools.Disabled),
		DefaultTimeout: time.Duration(d.config.Tools.TimeoutSeconds) * time.Second,
		MaxOutputBytes: d.config.Tools.MaxOutputBytes,
	})
	d.logger.Info().Msg("Tool executor initialized")

	return nil
}

func (d *Daemon) initializeServices() error {
	// Channels first: the runner sends through the registry.
	d.channelRegistry = channels.NewRegistry(d.dispatchInbound)
	for _, ch := range d.opts.channels {
		if err := d.channelRegistry.Register(ch); err != nil {
			return fmt.Errorf("failed to register channel: %w", err)
		}
	}

	models, router, err := d.buildModels()
	if err != nil {
		return err
	}

	settings := agent.DefaultSettings()
	if d.config.Agent.SystemPrompt != "" {
		settings.SystemPrompt = d.config.Agent.SystemPrompt
	}
	settings.HistoryLimit = d.config.Agent.HistoryLimit
	settings.MaxIterations = d.config.Agent.MaxIterations
	settings.ProgressEvery = d.config.Agent.ProgressEvery
	settings.ThinkingDelay = time.Duration(d.config.Agent.ThinkingDelayMs) * time.Millisecond
	settings.ToolTimeout = time.Duration(d.config.Tools.TimeoutSeconds) * time.Second
	settings.MaxTokens = d.config.Models.MaxTokens
	settings.Temperature = d.config.Models.Temperature
	settings.ThinkingNotice = d.config.Agent.Notices.Thinking
	settings.WorkingNotice = d.config.Agent.Notices.Working
	settings.StuckNotice = d.config.Agent.Notices.Stuck
	settings.ErrorNotice = d.config.Agent.Notices.Error

	runner, err := agent.NewRunner(agent.Config{
		Log:          d.conversations,
		Tools:        d.toolExecutor,
		CommandQueue: d.queue,
		Router:       router,
		Models:       models,
		Sender:       d.channelRegistry,
		Settings:     settings,
		OnTurnFailed: d.onTurnFailed,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.agentRunner = runner
	d.logger.Info().Msg("Agent runner initialized")

	if d.config.Scheduler.Enabled {
		if err := d.initializeScheduler(); err != nil {
			return err
		}
	}

	if err := coretools.Register(d.toolExecutor, d.coreToolOptions()); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}
	observability.SetManifestTools(d.toolExecutor.GetToolCount())
	d.logger.Info().Int("tools", d.toolExecutor.GetToolCount()).Strs("names", d.toolExecutor.ListTools()).Msg("Core tools registered")

	if d.config.Admin.Enabled {
		d.adminServer = &http.Server{
			Addr:              d.config.Admin.Addr,
			Handler:           NewAdminRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return nil
}

func (d *Daemon) coreToolOptions() coretools.Options {
	opts := coretools.Options{
		Facts:     d.facts,
		FilesRoot: d.config.WorkspacePath,
		Vault:     d.vault,
		Aliases:   d.config.Aliases,
		Calendar:  &localCalendar{store: d.facts, loc: d.config.Location()},
		Messaging: true,
		Location:  d.config.Location(),
	}
	if d.cronService != nil {
		opts.Scheduler = d.cronService
	}
	if d.config.Email.Enabled {
		opts.Mail = newMailbox(d.facts, d.config.Email)
	}
	if d.opts.images != nil {
		opts.Images = d.opts.images
	} else if d.config.Media.Enabled {
		if profile, ok := d.config.ProfileFor("openai"); ok {
			opts.Images = coretools.NewOpenAIImages(profile.APIKey, d.config.Media.ImageModel)
		} else {
			d.logger.Warn().Msg("Media generation enabled but no openai profile is configured")
		}
	}
	return opts
}

// Start starts every service. It returns once they are running.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting deedee daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.federation.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start tool federation: %w", err)
	}
	logger.Info().Int("tools", d.federation.Manifest().Len()).Msg("Tool federation started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.vault.Sync(d.ctx); err != nil {
			logger.Warn().Err(err).Msg("Initial vault sync failed")
		}
	}()

	if d.cronService != nil {
		if err := d.cronService.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start cron service: %w", err)
		}
		logger.Info().Msg("Cron service started")
	}

	if err := d.channelRegistry.StartAll(d.ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}
	logger.Info().Strs("channels", d.channelRegistry.Names()).Msg("Channels started")

	if d.adminServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			logger.Info().Str("addr", d.adminServer.Addr).Msg("Admin server listening")
			if err := d.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Admin server failed")
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	d.hookManager.Fire(d.ctx, hooks.EventDaemonStarted, map[string]interface{}{"pid": os.Getpid()})

	logger.Info().Msg("Daemon started")
	return nil
}

// Stop stops services in reverse order and waits for running turns.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping deedee daemon")

	if err := d.hookManager.Trigger(context.Background(), hooks.EventDaemonStopping, map[string]interface{}{"pid": os.Getpid()}); err != nil {
		logger.Warn().Err(err).Msg("daemon.stopping hooks failed")
	}

	if err := d.channelRegistry.StopAll(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to stop channels")
	}

	if d.adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop admin server")
		}
		cancel()
	}

	if d.cronService != nil {
		if err := d.cronService.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop cron service")
		}
	}

	d.eventLoop.HandleShutdown()
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}

	if err := d.federation.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close tool federation")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.hookManager.Wait()
	d.closeStores()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) closeStores() {
	if d.vault != nil {
		if err := d.vault.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close vault")
		}
		d.vault = nil
	}
	if d.facts != nil {
		if err := d.facts.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close memory store")
		}
		d.facts = nil
	}
	if closer, ok := d.jobStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close job store")
		}
	}
	d.jobStore = nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	status := Status{Running: d.running, StartTime: d.startTime}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	d.mu.RUnlock()

	status.Channels = d.channelRegistry.Names()
	if d.cronService != nil {
		status.Jobs = len(d.cronService.ListJobs())
	}
	status.Providers = d.federation.Providers()
	return status
}

// Wait blocks until SIGINT or SIGTERM, or until ctx is done.
func (d *Daemon) Wait(ctx context.Context) {
	waitForSignal(ctx)
}

// HandleMessage runs one inbound message through the assistant.
func (d *Daemon) HandleMessage(ctx context.Context, msg channels.InboundMessage) (agent.TurnResult, error) {
	return d.agentRunner.HandleMessage(ctx, msg)
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config { return d.config }

// GetCronService returns the scheduler, nil when disabled
func (d *Daemon) GetCronService() *cron.Service { return d.cronService }

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor { return d.toolExecutor }

// GetChannelRegistry returns the channel registry
func (d *Daemon) GetChannelRegistry() *channels.Registry { return d.channelRegistry }

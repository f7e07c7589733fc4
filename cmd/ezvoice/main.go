package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.design/x/hotkey/mainthread"
	"golang.org/x/sync/errgroup"

	"github.com/yok-tottii/ezvoice/internal/api"
	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/background"
	"github.com/yok-tottii/ezvoice/internal/config"
	"github.com/yok-tottii/ezvoice/internal/hotkey"
	"github.com/yok-tottii/ezvoice/internal/logger"
	"github.com/yok-tottii/ezvoice/internal/observe"
	"github.com/yok-tottii/ezvoice/internal/pause"
	"github.com/yok-tottii/ezvoice/internal/permissions"
	"github.com/yok-tottii/ezvoice/internal/playback"
	"github.com/yok-tottii/ezvoice/internal/recognition"
	"github.com/yok-tottii/ezvoice/internal/recording"
	"github.com/yok-tottii/ezvoice/internal/server"
	"github.com/yok-tottii/ezvoice/internal/speech"
	"github.com/yok-tottii/ezvoice/internal/speechcache"
)

const version = "0.1.0"

// App holds all application state
type App struct {
	configPath string
	config     *config.Config
	logger     *logger.Logger
	provider   *observe.Provider
	metrics    *observe.Metrics

	store      *speechcache.BadgerStore
	exec       *background.Executor
	queue      *playback.Queue
	speech     *speech.Service
	state      *recognition.Coordinator
	controller *recording.Controller
	perms      *permissions.PermissionChecker
	httpServer *server.Server

	ctx       context.Context
	hotkeyMu  sync.Mutex
	hotkeyMgr *hotkey.Manager
}

func main() {
	// Hotkey registration on macOS must happen on the main thread
	mainthread.Init(func() {
		configPath := flag.String("config", config.GetConfigPath(), "path to the configuration file (.json or .yaml)")
		flag.Parse()

		if err := run(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "ezvoice: %v\n", err)
			os.Exit(1)
		}
	})
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{configPath: configPath, ctx: ctx}
	if err := app.init(ctx); err != nil {
		app.close()
		return err
	}
	defer app.close()

	app.logger.Info("ezvoice v%s started", version)
	return app.serve(ctx)
}

func (a *App) init(ctx context.Context) error {
	var err error

	a.config, err = config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}

	loggerConfig, err := a.config.LoggerConfig()
	if err != nil {
		return fmt.Errorf("failed to resolve log settings: %w", err)
	}
	a.logger, err = logger.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger.Info("Loaded config from %s", a.configPath)

	a.provider, err = observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "ezvoice",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.metrics, err = a.provider.Metrics()
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}

	if err := audio.Initialize(); err != nil {
		return err
	}

	if err := a.initSpeech(); err != nil {
		return err
	}
	if err := a.initCapture(); err != nil {
		return err
	}

	a.perms = permissions.NewPermissionChecker()
	if err := a.perms.RequireMicrophone(); err != nil {
		a.logger.Warn("Capture will fail until microphone access is granted: %v", err)
	}

	a.hotkeyMgr = hotkey.New()
	if err := a.ReloadHotkey(); err != nil {
		// Capture stays reachable through the HTTP surface
		a.logger.Warn("Push-to-talk disabled: %v", err)
	}

	a.initServer()
	return nil
}

func (a *App) initSpeech() error {
	storeConfig, err := a.config.CacheStoreConfig()
	if err != nil {
		return fmt.Errorf("failed to resolve cache settings: %w", err)
	}
	a.store, err = speechcache.Open(storeConfig, a.logger)
	if err != nil {
		return err
	}

	a.exec = background.New(background.Config{
		QueueSize: background.DefaultConfig().QueueSize,
		Logger:    a.logger.With("background"),
	})

	codec := speechcache.NewCodec(a.store, a.exec,
		speechcache.WithCodecLogger(a.logger),
		speechcache.WithCodecMetrics(a.metrics),
	)

	cfg := a.config.Clone()
	a.queue = playback.New(audio.OpenOutput,
		playback.Config{Params: a.config.OutputParams(), ChunkSize: cfg.Playback.ChunkSize},
		playback.WithLogger(a.logger),
		playback.WithMetrics(a.metrics),
		playback.WithListener(playback.ListenerFuncs{
			Error: func(id string, err error) {
				a.logger.Warn("Playback of %s failed: %v", id, err)
			},
		}),
	)

	a.speech = speech.New(a.store, codec, a.queue, a.exec,
		speech.WithLogger(a.logger),
		speech.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initCapture() error {
	cfg := a.config.Clone()

	a.state = recognition.NewCoordinator()
	a.state.Subscribe(func(old, new recognition.State) {
		a.logger.Debug("Recognition state %s -> %s", old, new)
	})

	opts := []recording.Option{
		recording.WithLogger(a.logger),
		recording.WithMetrics(a.metrics),
		recording.WithInitBackoff(a.config.InitBackoff()),
		recording.WithMaxDuration(a.config.MaxRecordDuration()),
		recording.WithListener(a.captureListener(cfg.Cache.ConfirmationKey)),
	}

	if cfg.Pause.Enabled {
		detector, err := pause.New(a.config.PauseDetectorConfig(), nil)
		if err != nil {
			return err
		}
		opts = append(opts, recording.WithPauseDetector(detector))
	}

	if cfg.Recording.CaptureFile != "" {
		path, err := config.ExpandPath(cfg.Recording.CaptureFile)
		if err != nil {
			return fmt.Errorf("failed to resolve capture file: %w", err)
		}
		opts = append(opts, recording.WithFileSink(path))
	}

	var err error
	a.controller, err = recording.New(a.config.InputParams(), audio.OpenInput, a.state, opts...)
	if err != nil {
		return fmt.Errorf("failed to create capture controller: %w", err)
	}
	return nil
}

// captureListener logs capture progress and plays the confirmation
// utterance once a capture ends normally.
func (a *App) captureListener(confirmationKey string) recording.Listener {
	var bytes int
	return recording.ListenerFuncs{
		Started: func() {
			bytes = 0
			a.logger.Info("Recording started")
		},
		Buffer: func(buf []byte) {
			bytes += len(buf)
		},
		Pause: func() {
			a.logger.Info("Pause detected, ending capture")
		},
		Ended: func() {
			a.logger.Info("Recording ended (%d bytes)", bytes)
			if confirmationKey == "" {
				return
			}
			// callbacks run on the capture goroutine, keep decompression off it
			if err := a.speech.PlayCachedAsync(confirmationKey); err != nil {
				a.logger.Warn("Failed to schedule confirmation: %v", err)
			}
		},
		FileWriteComplete: func(path string) {
			a.logger.Info("Capture written to %s", path)
		},
		Error: func(code recording.ErrorCode, err error) {
			a.logger.Error("Capture failed (%s): %v", code, err)
		},
	}
}

func (a *App) initServer() {
	cfg := a.config.Clone()
	if !cfg.Server.Enabled {
		return
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Server.Port
	a.httpServer = server.New(serverConfig, server.WithLogger(a.logger))

	handler := api.New(api.Deps{
		Config:          a.config,
		ConfigPath:      a.configPath,
		Capture:         a.controller,
		Speech:          a.speech,
		State:           func() string { return a.state.Get().String() },
		ListDevices:     audio.ListDevices,
		Permissions:     a.perms,
		Logger:          a.logger,
		OnHotkeyChanged: a.ReloadHotkey,
	})
	handler.RegisterRoutes(a.httpServer.GetMux())
	a.httpServer.Handle("/metrics", a.provider.Handler())
}

// ReloadHotkey registers the hotkey from the current config, restoring the
// previous one when the new combination cannot be registered.
func (a *App) ReloadHotkey() error {
	a.hotkeyMu.Lock()
	defer a.hotkeyMu.Unlock()

	newConfig, err := hotkey.FromConfig(a.config.Clone().Hotkey)
	if err != nil {
		return err
	}

	for _, c := range hotkey.CheckConflicts(newConfig.Combo) {
		a.logger.Warn("Hotkey %s conflicts with %s (%s)", newConfig.Combo, c.Name, c.Description)
	}

	wasRunning := a.hotkeyMgr.IsRunning()
	oldConfig := a.hotkeyMgr.GetConfig()
	if wasRunning {
		if err := a.hotkeyMgr.Close(); err != nil {
			return fmt.Errorf("failed to unregister old hotkey: %w", err)
		}
	}

	if err := a.hotkeyMgr.Register(newConfig); err != nil {
		if wasRunning {
			if rollbackErr := a.hotkeyMgr.Register(oldConfig); rollbackErr != nil {
				return fmt.Errorf("failed to register new hotkey and rollback failed: %w, rollback error: %v", err, rollbackErr)
			}
			go hotkey.Bind(a.ctx, a.hotkeyMgr.Events(), a.controller, a.logger.With("hotkey"))
		}
		return err
	}

	go hotkey.Bind(a.ctx, a.hotkeyMgr.Events(), a.controller, a.logger.With("hotkey"))
	a.logger.Info("Hotkey registered: %s (%s)", newConfig.Combo, newConfig.Mode)
	return nil
}

func (a *App) serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.httpServer != nil {
		g.Go(func() error {
			return a.httpServer.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")
		a.controller.ForceShutdown()
		a.controller.Wait()
		a.speech.Stop(true)
		return nil
	})

	return g.Wait()
}

func (a *App) close() {
	if a.hotkeyMgr != nil {
		if err := a.hotkeyMgr.Close(); err != nil && a.logger != nil {
			a.logger.Warn("%v", err)
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.exec != nil {
		a.exec.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to close speech cache: %v", err)
		}
	}
	_ = audio.Terminate()
	if a.provider != nil {
		_ = a.provider.Shutdown(context.Background())
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

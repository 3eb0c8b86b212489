package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lockstep-server/internal/agent"
	"lockstep-server/internal/domain"
	"lockstep-server/internal/engine"
	"lockstep-server/internal/infrastructure/banlist"
	"lockstep-server/internal/infrastructure/storage"
	"lockstep-server/internal/network"
	"lockstep-server/internal/server"
	"lockstep-server/internal/sim"
	"lockstep-server/internal/version"
	"lockstep-server/pkg/logger"
	"lockstep-server/pkg/utils"
)

func init() {
	logger.Init()
}

func main() {
	// 1. Парсинг конфигурации
	var (
		configPath string
		port       int
		seed       string
		connect    string
		name       string
		company    int
		password   string
		bot        bool
		cmdlog     string
	)
	flag.StringVar(&configPath, "config", "", "Path to JSON config (defaults if empty)")
	flag.IntVar(&port, "port", 0, "HTTP/WebSocket port (overrides config)")
	flag.StringVar(&seed, "seed", "", "Master seed: number or any string (random if empty)")
	flag.StringVar(&connect, "connect", "", "Join a server at ws://host:port/ws instead of hosting")
	flag.StringVar(&name, "name", "player", "Client name when joining")
	flag.IntVar(&company, "company", int(domain.CompanySpectator), "Company to join (255 = spectator)")
	flag.StringVar(&password, "password", "", "Server password when joining")
	flag.BoolVar(&bot, "bot", false, "Play with a built-in bot when joining")
	flag.StringVar(&cmdlog, "cmdlog", "", "Directory for the binary command log (overrides config)")
	flag.Parse()

	logger.Log.Info("Starting lockstep server...")
	logger.Log.Info(version.String())

	cfg := engine.NewConfig()
	if configPath != "" {
		var err error
		if cfg, err = engine.LoadConfigFile(configPath); err != nil {
			logger.Log.Fatal("Config error: ", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Log.Fatal("Config error: ", err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if cmdlog != "" {
		cfg.CommandLogPath = cmdlog
	}
	if seed != "" {
		cfg.Seed = utils.SeedFromString(seed)
		logger.Log.Infof("🎲 Using explicit Master Seed: %d", cfg.Seed)
	} else if configPath == "" {
		cfg.Seed = utils.RandomSeed()
		logger.Log.Infof("🎲 Using random Master Seed: %d", cfg.Seed)
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal("Invalid config: ", err)
	}

	// Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if connect != "" {
		err = runClient(ctx, cfg, connect, name, domain.CompanyID(company), password, bot)
	} else {
		err = runHost(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Fatal(err)
	}
	logger.Log.Info("Done.")
}

// runHost поднимает сервер: симуляция, хранилища, HTTP и цикл кадров.
func runHost(ctx context.Context, cfg engine.Config) error {
	opts := engine.Options{}

	saves, err := storage.NewSavegameStore(cfg.DiagnosticsDir)
	if err != nil {
		return err
	}
	world := sim.New(cfg.Seed, saves)
	opts.Simulation = world
	opts.Console = world

	if cfg.BanDBPath != "" {
		bans, err := banlist.Open(cfg.BanDBPath)
		if err != nil {
			return err
		}
		defer bans.Close()
		opts.Bans = bans
	} else {
		opts.Bans = banlist.NewMemory()
	}

	if cfg.CommandLogPath != "" {
		logs, err := storage.NewCommandLogService(cfg.CommandLogPath)
		if err != nil {
			return err
		}
		w, err := logs.Create(cfg.Seed, time.Now().Unix())
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Log.WithError(err).Warn("failed to close command log")
			}
			logger.Log.WithField("path", w.Path()).Info("💾 Command log saved")
		}()
		opts.CommandLog = w
	}

	game, err := engine.NewServer(cfg, opts)
	if err != nil {
		return err
	}

	var admin *server.AdminAuth
	if cfg.AdminPasswordHash != "" {
		admin, err = server.NewAdminAuth(cfg.AdminPasswordHash, time.Duration(cfg.AdminTokenTTL)*time.Second)
		if err != nil {
			return err
		}
	}

	srv := server.New(game, cfg.Port, admin)
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Log.Fatal("Server start error: ", err)
		}
	}()

	err = engine.Run(ctx, game, cfg)
	logger.Log.Info("Shutting down...")
	game.Shutdown()
	return err
}

// runClient входит в чужую игру. С -bot клиент сам строит дороги и станции.
func runClient(ctx context.Context, cfg engine.Config, url, name string, company domain.CompanyID,
	password string, withBot bool) error {

	dial := func(ctx context.Context) (network.Socket, error) {
		return network.Dial(ctx, url)
	}
	saves, err := storage.NewSavegameStore(cfg.DiagnosticsDir)
	if err != nil {
		return err
	}
	// Сид не важен: состояние придет с сервера
	world := sim.New(0, saves)
	client, err := engine.NewClient(cfg, engine.Options{Simulation: world}, engine.ClientOptions{
		Name:     name,
		Company:  company,
		Password: password,
		Dial:     dial,
		OnChat: func(from domain.ClientID, text string) {
			logger.Log.WithField("from", from).Info("💬 ", text)
		},
		OnRcon: func(line string) {
			logger.Log.Info("rcon: ", line)
		},
	})
	if err != nil {
		return err
	}

	sock, err := dial(ctx)
	if err != nil {
		return err
	}
	if err := client.Connect(sock); err != nil {
		return err
	}
	defer client.Quit()

	if withBot {
		return engine.Run(ctx, agent.NewBot(client, world, utils.SeedFromString(name), 15), cfg)
	}
	return engine.Run(ctx, client, cfg)
}

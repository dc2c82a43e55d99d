package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/CCasusensa/kinoko-sub000/internal/central"
	"github.com/CCasusensa/kinoko-sub000/internal/channel"
	"github.com/CCasusensa/kinoko-sub000/internal/config"
	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/handler"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/persist"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
	"github.com/CCasusensa/kinoko-sub000/internal/script"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/worldd.toml"
	if p := os.Getenv("KINOKO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting world server",
		zap.String("name", cfg.Server.Name),
		zap.Int("worldId", cfg.Server.WorldID),
		zap.Int("channels", cfg.Channel.Count))

	// 3. Database: migrations first, then the runtime pool
	if err := persist.Migrate(cfg.Database.DSN, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := persist.Connect(ctx, cfg.Database.DSN, int32(cfg.Database.MaxOpenConns), cfg.Database.ConnMaxLifetime.Std(), log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	accountRepo := persist.NewAccountRepo(pool)
	characterRepo := persist.NewCharacterRepo(pool)

	// 4. Game data catalog and conversation scripts
	tables, err := data.LoadAll(cfg.Data.TablesDir)
	if err != nil {
		return fmt.Errorf("load game data: %w", err)
	}
	log.Info("game data loaded",
		zap.Int("maps", tables.Maps.Count()),
		zap.Int("mobs", tables.Mobs.Count()),
		zap.Int("items", tables.Items.Count()),
		zap.Int("skills", tables.Skills.Count()))

	scripts := script.NewManager(log)
	if err := scripts.LoadDir(cfg.Data.ScriptsDir); err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	log.Info("scripts compiled", zap.Int("count", scripts.Count()))

	// 5. Shared scheduler
	scheduler := sched.New(log)
	defer scheduler.Close()

	// 6. Central directory process
	centralAddr := fmt.Sprintf("%s:%d", cfg.Central.Host, cfg.Central.Port)
	directory, err := central.NewServer(centralAddr, int32(cfg.Server.WorldID), cfg.Central.TicketTTL.Std(), scheduler, log)
	if err != nil {
		return fmt.Errorf("central: %w", err)
	}
	go directory.Serve()
	defer directory.Close()

	// 7. Packet handlers, shared by every channel
	registry := packet.NewRegistry(log)
	handler.RegisterAll(registry, log)

	// 8. Channel nodes
	deps := channel.Deps{
		Log:        log,
		Tables:     tables,
		Scripts:    scripts,
		Accounts:   accountRepo,
		Characters: characterRepo,
		Scheduler:  scheduler,
		Registry:   registry,
	}
	nodes := make([]*channel.Node, 0, cfg.Channel.Count)
	for i := 0; i < cfg.Channel.Count; i++ {
		node := channel.NewNode(channel.Config{
			Host:           cfg.Channel.Host,
			Port:           int32(cfg.Channel.BasePort + i),
			CentralAddr:    centralAddr,
			RequestTimeout: cfg.Central.RequestTimeout.Std(),
			OutQueueSize:   cfg.Network.OutQueueSize,
			TickInterval:   cfg.Channel.TickInterval.Std(),
			DropTTL:        cfg.Channel.DropTTL.Std(),
			ReactorTTL:     cfg.Channel.ReactorTTL.Std(),
			ExpRate:        cfg.Rates.ExpRate,
			DropRate:       cfg.Rates.DropRate,
			MesoRate:       cfg.Rates.MesoRate,
		}, deps)
		if err := node.Start(ctx); err != nil {
			for _, n := range nodes {
				n.Stop()
			}
			return fmt.Errorf("start channel %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}

	log.Info("world server ready", zap.String("central", centralAddr))

	// 9. Run until signalled
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	for _, n := range nodes {
		n.Stop()
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.File == "" {
		return zapCfg.Build()
	}

	// Log file with rotation, alongside stderr.
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(encoder, zapcore.AddSync(rotator), level)

	console, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return console.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}

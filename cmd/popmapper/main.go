package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/netgraph/popmapper/internal/asnlookup"
	"github.com/netgraph/popmapper/internal/config"
	"github.com/netgraph/popmapper/internal/metrics"
	"github.com/netgraph/popmapper/internal/pipeline"
	"github.com/netgraph/popmapper/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "process":
		runProcess(os.Args[2:])
	case "graph":
		runGraph(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: popmapper <command> <subcommand> [options]")
	fmt.Println()
	fmt.Println("process parse --geoipdb <asndb> [--countrydb <db>] <trace>")
	fmt.Println("process dump_ips --geoipdb <asndb> <trace>")
	fmt.Println("process preprocess_traces --geoipdb <asndb> <glob>")
	fmt.Println("process load_IP_data <attr_file>")
	fmt.Println("process load_peering_data <file>")
	fmt.Println("process assign_pops [--reset] [--process_failed]")
	fmt.Println("process process_joins [--log_joins PATH]")
	fmt.Println("process cleanup [--ip_links]")
	fmt.Println()
	fmt.Println("graph create --save PREFIX [-c NUM_CLIENTS] [--client_data FILE]")
	fmt.Println("             [-d NUM_DESTS] [--destinations FILE] [--tor_relays FILE]")
	fmt.Println("             [--dot] [--workers N]")
	fmt.Println("graph cleanup")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

// flagSet is a minimal positional/flag splitter in the same manual style as
// parseGlobalFlags: named flags may appear anywhere, everything else is collected
// as a positional argument in order.
type flagSet struct {
	named      map[string]string
	switches   map[string]bool
	positional []string
}

func parseArgs(args []string, boolFlags map[string]bool) flagSet {
	fs := flagSet{named: map[string]string{}, switches: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if len(a) > 1 && a[0] == '-' && !isNumberLike(a) {
			name := a
			if boolFlags[name] {
				fs.switches[name] = true
				continue
			}
			if i+1 < len(args) {
				fs.named[name] = args[i+1]
				i++
				continue
			}
			fs.switches[name] = true
			continue
		}
		fs.positional = append(fs.positional, a)
	}
	return fs
}

func isNumberLike(s string) bool {
	for _, r := range s {
		if r != '-' && (r < '0' || r > '9') {
			return false
		}
	}
	return len(s) > 0
}

func parseGlobalFlags(args []string) (configPath, logLevel string, rest []string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
				continue
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
				continue
			}
		}
		rest = append(rest, args[i])
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger, []string) {
	configPath, logLevelOverride, rest := parseGlobalFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger, rest
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func connectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) *store.RedisStore {
	tlsCfg, err := cfg.Redis.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build redis TLS config", zap.Error(err))
	}
	s, err := store.NewRedisStore(ctx, &redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout(),
		ReadTimeout:  cfg.Redis.ReadTimeout(),
		WriteTimeout: cfg.Redis.WriteTimeout(),
		TLSConfig:    tlsCfg,
	})
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	return s
}

func openLookup(cfg *config.Config, logger *zap.Logger) *asnlookup.Lookup {
	lookup, err := asnlookup.Open(cfg.GeoIP.ASNDatabasePath, cfg.GeoIP.CountryDatabasePath)
	if err != nil {
		logger.Fatal("failed to open geoip databases", zap.Error(err))
	}
	return lookup
}

func runProcess(args []string) {
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	subcommand := args[0]
	cfg, logger, rest := loadConfig(args[1:])
	defer logger.Sync()
	metrics.Register()

	ctx := context.Background()
	s := connectStore(ctx, cfg, logger)
	defer s.Close()

	p := pipeline.New(s, cfg, logger)

	switch subcommand {
	case "parse", "dump_ips":
		fs := parseArgs(rest, nil)
		if len(fs.positional) < 1 {
			logger.Fatal("process parse: missing trace file argument")
		}
		geoipdb := fs.named["--geoipdb"]
		countrydb := fs.named["--countrydb"]
		lookup, err := asnlookup.Open(geoipdb, countrydb)
		if err != nil {
			logger.Fatal("failed to open geoip databases", zap.Error(err))
		}
		defer lookup.Close()
		if err := p.ParseTrace(ctx, fs.positional[0], lookup, subcommand == "dump_ips"); err != nil {
			logger.Fatal("process parse failed", zap.Error(err))
		}

	case "preprocess_traces":
		fs := parseArgs(rest, nil)
		if len(fs.positional) < 1 {
			logger.Fatal("process preprocess_traces: missing glob argument")
		}
		lookup := openLookup(cfg, logger)
		if geoipdb := fs.named["--geoipdb"]; geoipdb != "" {
			lookup.Close()
			var err error
			lookup, err = asnlookup.Open(geoipdb, cfg.GeoIP.CountryDatabasePath)
			if err != nil {
				logger.Fatal("failed to open geoip databases", zap.Error(err))
			}
		}
		defer lookup.Close()
		if err := p.PreprocessTraces(ctx, fs.positional[0], lookup); err != nil {
			logger.Fatal("process preprocess_traces failed", zap.Error(err))
		}

	case "load_IP_data":
		fs := parseArgs(rest, nil)
		if len(fs.positional) < 1 {
			logger.Fatal("process load_IP_data: missing attribute file argument")
		}
		stats, err := p.LoadIPData(ctx, fs.positional[0])
		if err != nil {
			logger.Fatal("process load_IP_data failed", zap.Error(err))
		}
		logger.Info("load_IP_data complete", zap.Int("loaded", stats.Loaded), zap.Int("skipped", stats.Skipped))

	case "load_peering_data":
		fs := parseArgs(rest, nil)
		if len(fs.positional) < 1 {
			logger.Fatal("process load_peering_data: missing file argument")
		}
		stats, err := p.LoadPeeringData(ctx, fs.positional[0])
		if err != nil {
			logger.Fatal("process load_peering_data failed", zap.Error(err))
		}
		logger.Info("load_peering_data complete", zap.Int("loaded", stats.Loaded), zap.Int("skipped", stats.Skipped))

	case "assign_pops":
		fs := parseArgs(rest, map[string]bool{"--reset": true, "--process_failed": true})
		lookup := openLookup(cfg, logger)
		defer lookup.Close()
		if err := p.AssignPops(ctx, lookup, fs.switches["--reset"], fs.switches["--process_failed"]); err != nil {
			logger.Fatal("process assign_pops failed", zap.Error(err))
		}

	case "process_joins":
		fs := parseArgs(rest, nil)
		result, err := p.ProcessJoins(ctx, fs.named["--log_joins"])
		if err != nil {
			logger.Fatal("process process_joins failed", zap.Error(err))
		}
		logger.Info("process_joins complete",
			zap.Int("requested", result.Requested), zap.Int("reduced", result.Reduced),
			zap.Int("joined", result.Joined), zap.Int("errors", result.Errors))

	case "cleanup":
		fs := parseArgs(rest, map[string]bool{"--ip_links": true})
		if err := p.Cleanup(ctx, fs.switches["--ip_links"]); err != nil {
			logger.Fatal("process cleanup failed", zap.Error(err))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown process subcommand: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func runGraph(args []string) {
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	subcommand := args[0]
	cfg, logger, rest := loadConfig(args[1:])
	defer logger.Sync()
	metrics.Register()

	ctx := context.Background()
	s := connectStore(ctx, cfg, logger)
	defer s.Close()

	p := pipeline.New(s, cfg, logger)

	switch subcommand {
	case "create":
		fs := parseArgs(rest, map[string]bool{"--dot": true})
		prefix := fs.named["--save"]
		if prefix == "" {
			prefix = cfg.Graph.OutputPrefix
		}
		opts := pipeline.GraphCreateOptions{
			SavePrefix:       prefix,
			NumClients:       intFlagOr(fs.named["-c"], cfg.Overlay.NumClients),
			ClientDataPath:   stringFlagOr(fs.named["--client_data"], cfg.Overlay.ClientDataPath),
			NumDestinations:  intFlagOr(fs.named["-d"], cfg.Overlay.NumDestinations),
			DestinationsPath: stringFlagOr(fs.named["--destinations"], cfg.Overlay.DestinationsPath),
			RelaysPath:       stringFlagOr(fs.named["--tor_relays"], cfg.Overlay.RelayDataPath),
			WriteDOT:         fs.switches["--dot"] || cfg.Graph.WriteDOT,
			WorkerCount:      intFlagOr(fs.named["--workers"], cfg.Workers.ValleyFreeWorkers),
		}
		if err := p.GraphCreate(ctx, opts); err != nil {
			logger.Fatal("graph create failed", zap.Error(err))
		}

	case "cleanup":
		if err := p.GraphCleanup(ctx); err != nil {
			logger.Fatal("graph cleanup failed", zap.Error(err))
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown graph subcommand: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func intFlagOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}

func stringFlagOr(raw, def string) string {
	if raw == "" {
		return def
	}
	return raw
}

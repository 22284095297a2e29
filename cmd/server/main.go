package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/api"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/auth"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/notify"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	Backend       string `yaml:"backend"` // kubernetes | postgres | memory
	HubNamespace  string `yaml:"hub_namespace"`
	Kubeconfig    string `yaml:"kubeconfig"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`
	Auth          struct {
		TrustedHeader string            `yaml:"trusted_header"`
		Tokens        map[string]string `yaml:"tokens"`
		TokensFile    string            `yaml:"tokens_file"`
	} `yaml:"auth"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("NATIVE_SECRETS_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8080",
		Backend:       "kubernetes",
		HubNamespace:  "native-secrets",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("NATIVE_SECRETS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NATIVE_SECRETS_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("NATIVE_SECRETS_HUB_NAMESPACE"); v != "" {
		cfg.HubNamespace = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" && cfg.Kubeconfig == "" {
		cfg.Kubeconfig = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	var store storage.Backend
	switch cfg.Backend {
	case "kubernetes":
		client, err := storage.NewKubernetesClient(cfg.Kubeconfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build kubernetes client")
		}
		store = storage.NewKubernetesBackend(client, cfg.HubNamespace)
		log.Info().Str("hub_namespace", cfg.HubNamespace).Msg("using kubernetes backend")
	case "postgres":
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	case "memory":
		store = storage.NewMemoryBackend()
		log.Warn().Msg("using in-memory backend, data is not persisted")
	default:
		log.Fatal().Str("backend", cfg.Backend).Msg("unknown backend")
	}
	defer store.Close()

	// Resolve auth config
	authCfg := auth.Config{
		TrustedHeader: cfg.Auth.TrustedHeader,
		Tokens:        cfg.Auth.Tokens,
	}
	if cfg.Auth.TokensFile != "" {
		fileCfg, err := auth.LoadConfig(cfg.Auth.TokensFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load tokens file")
		}
		if authCfg.TrustedHeader == "" {
			authCfg.TrustedHeader = fileCfg.TrustedHeader
		}
		if authCfg.Tokens == nil {
			authCfg.Tokens = map[string]string{}
		}
		for hash, email := range fileCfg.Tokens {
			authCfg.Tokens[hash] = email
		}
	}
	if len(authCfg.Tokens) == 0 && authCfg.TrustedHeader == "" {
		log.Fatal().Msg("no auth configured: set auth.tokens, auth.tokens_file or auth.trusted_header")
	}

	// Create server
	srv := api.NewServer(store, auth.NewVerifier(authCfg), api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})

	// Bridge backend change events into the notification hub so watchers
	// see edits made outside this process (kubectl, other replicas).
	watchCtx, stopWatch := context.WithCancel(ctx)
	watcher := notify.NewWatcher(store, srv.Hub())
	go watcher.Run(watchCtx)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	stopWatch()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

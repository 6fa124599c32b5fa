package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/timelock/internal/auth"
	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/config"
	"github.com/vbonduro/timelock/internal/crypto"
	"github.com/vbonduro/timelock/internal/db"
	"github.com/vbonduro/timelock/internal/events"
	"github.com/vbonduro/timelock/internal/imagestore/local"
	"github.com/vbonduro/timelock/internal/logging"
	"github.com/vbonduro/timelock/internal/secret"
	"github.com/vbonduro/timelock/internal/service"
	"github.com/vbonduro/timelock/internal/store"
	"github.com/vbonduro/timelock/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault server",
	Long: `Run the HTTP API. Configuration comes from the environment:

  LISTEN_ADDR, DB_PATH, IMAGE_PATH, LOG_LEVEL, LOG_FILE
  ENCRYPTION_BACKEND (mock|kms), KMS_KEY_ID, ENCRYPTION_LAYERS
  SECRET_BACKEND (env|ssm), JWT_SECRET_PARAM
  REDIS_ADDR, REDIS_PREFIX, NOTIFY_INTERVAL
  TIMELOCK_TEST_MODE=1 enables the /test/clock endpoints`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	ctx := cmd.Context()

	var clk clock.Clock = clock.System()
	var serverOpts []web.Option
	if cfg.TestMode {
		// Runs on wall time until a test sets it.
		mock := clock.NewMock(clk.Now())
		mock.Reset()
		clk = mock
		serverOpts = append(serverOpts, web.WithTestClock(mock))
		logger.Warn("test mode enabled: clock can be set over HTTP")
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	images, err := local.NewLocalImageStore(cfg.ImagePath)
	if err != nil {
		logger.Error("failed to initialize image store", "error", err)
		return err
	}

	var awsCfg aws.Config
	if cfg.EncryptionBackend == "kms" || cfg.SecretBackend == "ssm" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("unable to load AWS config: %w", err)
		}
	}

	encryptor, err := newEncryptor(cfg, awsCfg, logger)
	if err != nil {
		return err
	}

	tokens, err := newTokens(ctx, cfg, awsCfg, clk)
	if err != nil {
		logger.Error("failed to set up token verification", "error", err)
		return err
	}

	hub, closeHub, err := newHub(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up event hub", "error", err)
		return err
	}
	defer closeHub()

	itemStore := store.NewItemStore(database)
	shareStore := store.NewShareStore(database)
	settingsStore := store.NewSettingsStore(database)

	sealer := crypto.NewSealer(encryptor, cfg.EncryptionLayers)
	vault := service.NewVaultService(itemStore, shareStore, images, sealer, hub, clk, logger)
	settings := service.NewSettingsService(settingsStore, hub, clk, logger)
	notifier := service.NewUnlockNotifier(itemStore, hub, clk, logger)

	server := web.NewServer(vault, settings, hub, tokens, logger, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg.ListenAddr) })
	g.Go(func() error { return notifier.Run(gctx, cfg.NotifyInterval) })

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

func newEncryptor(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (crypto.Encryptor, error) {
	switch cfg.EncryptionBackend {
	case "kms":
		if cfg.KMSKeyID == "" {
			return nil, fmt.Errorf("KMS_KEY_ID is required when ENCRYPTION_BACKEND=kms")
		}
		logger.Info("using KMS encryption", "key_id", cfg.KMSKeyID, "layers", cfg.EncryptionLayers)
		return crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID), nil
	case "mock":
		logger.Warn("using mock encryption; content is not protected at rest")
		return crypto.NewMockEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown ENCRYPTION_BACKEND %q", cfg.EncryptionBackend)
	}
}

func newResolver(cfg *config.Config, awsCfg aws.Config) (secret.Resolver, error) {
	switch cfg.SecretBackend {
	case "ssm":
		return secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)), nil
	case "env":
		return secret.NewEnvResolver(), nil
	default:
		return nil, fmt.Errorf("unknown SECRET_BACKEND %q", cfg.SecretBackend)
	}
}

func newTokens(ctx context.Context, cfg *config.Config, awsCfg aws.Config, clk clock.Clock) (*auth.Tokens, error) {
	resolver, err := newResolver(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	signingKey, err := resolver.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token secret: %w", err)
	}
	return auth.NewTokens(signingKey, clk)
}

// newHub picks the Redis hub when REDIS_ADDR is set so events reach sessions
// served by other instances.
func newHub(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Hub, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process event hub")
		return events.NewMemoryHub(logger), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("could not connect to redis (%s): %w", cfg.RedisAddr, err)
	}
	logger.Info("using redis event hub", "addr", cfg.RedisAddr)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
	return events.NewRedisHub(client, cfg.RedisPrefix, logger), closeFn, nil
}

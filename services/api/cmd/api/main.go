package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"wellnest/internal/ratelimit"
	"wellnest/internal/util"
	"wellnest/pkg/ai"
	"wellnest/pkg/events"
	"wellnest/pkg/payment"
	"wellnest/pkg/storage"
	"wellnest/pkg/store"
	"wellnest/services/api/internal/app"
	"wellnest/services/api/internal/config"
	"wellnest/services/api/internal/security"
	"wellnest/services/api/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		redisClient redis.UniversalClient
		revoker     store.TokenRevoker
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
		revoker = store.NewRedisTokenRevoker(redisClient, "")
	} else {
		logger.Warn("redisAddr not set; token revocation and rate limits are per process")
	}

	loginLimiter, err := newLimiter(redisClient, cfg.LoginRateLimitPerMinute)
	if err != nil {
		log.Fatalf("failed to init login limiter: %v", err)
	}
	signupLimiter, err := newLimiter(redisClient, cfg.SignupRateLimitPerMinute)
	if err != nil {
		log.Fatalf("failed to init signup limiter: %v", err)
	}

	var generator ai.TextGenerator
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set; analysis is disabled")
	} else {
		var opts []ai.GeminiOption
		if cfg.GeminiBaseURL != "" {
			opts = append(opts, ai.WithGeminiBaseURL(cfg.GeminiBaseURL))
		}
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey, opts...)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		generator = ai.NewGeminiGenerator(client, cfg.GeminiModel)
	}

	payments, err := payment.NewClient(payment.Config{
		PublicKey: cfg.IntaSendPublicKey,
		SecretKey: cfg.IntaSendSecretKey,
		BaseURL:   cfg.IntaSendBaseURL,
		Currency:  cfg.PaymentCurrency,
	})
	if err != nil {
		log.Fatalf("failed to init intasend client: %v", err)
	}
	if cfg.IntaSendWebhookChallenge == "" {
		logger.Warn("intasendWebhookChallenge not set; webhooks are accepted unverified")
	}

	var avatars app.AvatarUploader
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
		avatars = storage.NewAvatarUploader(objects, cfg.AvatarMaxBytes)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to connect to amqp: %v", err)
		}
		publisher = p
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		JWTSecretKey:     cfg.JWTSecretKey,
		SessionTTL:       sessionTTL,
		JWTIssuer:        cfg.JWTIssuer,
		JWTAudience:      cfg.JWTAudience,
		JWTLeeway:        jwtLeeway,
		Revoker:          revoker,
		Generator:        generator,
		Payments:         payments,
		Avatars:          avatars,
		Events:           publisher,
		WebhookChallenge: cfg.IntaSendWebhookChallenge,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Warn("close app", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:             appCore,
		LoginLimiter:    loginLimiter,
		SignupLimiter:   signupLimiter,
		TrustedProxies:  trusted,
		FrontendOrigins: cfg.FrontendOrigins,
		Alerter:         security.NewAlerter(redisClient, ""),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("server stopped")
}

// newLimiter returns a Redis fixed-window limiter when Redis is configured
// and a per-process token bucket otherwise. A zero limit disables limiting.
func newLimiter(client redis.UniversalClient, perMinute int) (ratelimit.Limiter, error) {
	if perMinute <= 0 {
		return nil, nil
	}
	if client == nil {
		return ratelimit.NewLocalLimiter(perMinute, time.Minute), nil
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "", perMinute, time.Minute)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}

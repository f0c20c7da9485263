package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellnest/pkg/ai"
	"wellnest/pkg/events"
	"wellnest/pkg/payment"
	"wellnest/pkg/store"
)

// PaymentGateway is the subset of the IntaSend client the app drives.
type PaymentGateway interface {
	InitializeCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Response, error)
	CheckoutStatus(ctx context.Context, reference string) (payment.Response, error)
	Currency() string
}

// AvatarUploader stores a data: URL image and returns where it can be fetched.
type AvatarUploader interface {
	Upload(ctx context.Context, userID, dataURL string) (string, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL      string
	JWTSecretKey     string
	SessionTTL       time.Duration
	JWTIssuer        string
	JWTAudience      string
	JWTLeeway        time.Duration
	Revoker          store.TokenRevoker
	Store            store.Store
	Sessions         store.SessionStore
	Generator        ai.TextGenerator
	Payments         PaymentGateway
	Avatars          AvatarUploader
	Events           events.Publisher
	WebhookChallenge string
}

// App is the core application service wiring together storage, sessions and
// the external integrations.
type App struct {
	store            store.Store
	sessions         store.SessionStore
	generator        ai.TextGenerator
	payments         PaymentGateway
	avatars          AvatarUploader
	events           events.Publisher
	webhookChallenge string
	now              func() time.Time
}

// New constructs the application. Store and Sessions are built from the
// database URL and JWT secret when not supplied. A nil Generator disables
// analysis, a nil Payments disables the payment routes, and a nil Avatars
// stores profile pictures verbatim.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if strings.TrimSpace(cfg.JWTSecretKey) == "" {
			return nil, fmt.Errorf("jwtSecretKey is required")
		}
		revoker := cfg.Revoker
		if revoker == nil {
			revoker = store.NewMemoryTokenRevoker()
		}
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecretKey, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &App{
		store:            dataStore,
		sessions:         sessionStore,
		generator:        cfg.Generator,
		payments:         cfg.Payments,
		avatars:          cfg.Avatars,
		events:           publisher,
		webhookChallenge: strings.TrimSpace(cfg.WebhookChallenge),
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the store and the event publisher.
func (a *App) Close() error {
	var errs []error
	if c, ok := a.store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, a.events.Close())
	return errors.Join(errs...)
}

// AnalysisEnabled reports whether a text generator is configured.
func (a *App) AnalysisEnabled() bool {
	return a.generator != nil
}

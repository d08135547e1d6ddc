package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	api "github.com/mind-engage/orthanflow-lti/internal/api/http"
	"github.com/mind-engage/orthanflow-lti/internal/config"
	"github.com/mind-engage/orthanflow-lti/internal/db"
	"github.com/mind-engage/orthanflow-lti/internal/logging"
	"github.com/mind-engage/orthanflow-lti/internal/lti"
	"github.com/mind-engage/orthanflow-lti/internal/metrics"
	"github.com/mind-engage/orthanflow-lti/internal/session"
	"github.com/mind-engage/orthanflow-lti/internal/storage"
)

func main() {
	app := &cli.App{
		Name:  "ltigateway",
		Usage: "LTI 1.3 launch gateway for OrthanFlow",
		Commands: []*cli.Command{
			runServe,
			runKeygen,
			runSaveSession,
		},
	}
	app.RunAndExitOnError()
}

var runServe = &cli.Command{
	Name:  "serve",
	Usage: "serve the LTI endpoints",
	Action: func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	m := metrics.New()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db open failed: %w", err)
	}
	defer dbh.Close()
	resources := storage.NewResourceSessions(dbh)

	var (
		store  session.Store
		replay lti.Replay
	)
	switch cfg.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		_, err := backoff.Retry(openCtx, func() (string, error) {
			return rdb.Ping(openCtx).Result()
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store = session.NewRedisStore(rdb, cfg.SessionTTL)
		replay = lti.NewRedisReplay(rdb)
	default:
		store = session.NewMemoryStore(cfg.SessionTTL)
		replay = lti.NewInMemoryReplay(256)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		log.Warn("SESSION_SECRET not set; using a random cookie key, sessions will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
	}
	sessions, err := session.NewManager(store, secret, session.CookieOptions{
		Name:   cfg.SessionCookieName,
		Secure: cfg.SessionCookieSecure,
		MaxAge: cfg.SessionTTL,
	})
	if err != nil {
		return err
	}

	identity, err := loadIdentity(cfg, log)
	if err != nil {
		return err
	}

	mode, err := lti.ParseDisplayMode(cfg.LTIDisplayMode)
	if err != nil {
		return err
	}
	remote := m.InstrumentClient(nil, cfg.LTIHTTPTimeout)
	keys := lti.NewRemoteKeyResolver(cfg.LTIJWKSURL, cfg.LTIHTTPTimeout)
	keys.HTTPClient = remote

	svc, err := lti.NewService(lti.Options{
		PlatformID:    cfg.LTIPlatformID,
		ClientID:      cfg.LTIClientID,
		AuthURL:       cfg.LTIAuthURL,
		ToolLaunchURL: cfg.LTIToolLaunchURL,
		FrontendURL:   cfg.LTIFrontendURL,
		SelectionURL:  cfg.LTISelectionURL,
		DisplayMode:   mode,
		ReplayTTL:     cfg.LTILaunchTokenTTL,
	}, lti.Deps{
		Identity: identity,
		Verifier: &lti.Verifier{
			PlatformID: cfg.LTIPlatformID,
			ClientID:   cfg.LTIClientID,
			Keys:       keys,
			Leeway:     cfg.LTIClockSkew,
		},
		NRPS: &lti.NRPSClient{
			ClientID:   cfg.LTIClientID,
			TokenURL:   cfg.LTITokenURL,
			Identity:   identity,
			HTTPClient: remote,
			Timeout:    cfg.LTIHTTPTimeout,
		},
		Resources: resources,
		Tokens: &lti.LaunchTokens{
			Identity: identity,
			Issuer:   cfg.LTIClientID,
			TTL:      cfg.LTILaunchTokenTTL,
		},
		Replay: replay,
		Logger: log,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		LTI: &api.LTIHandlers{
			Service:  svc,
			Sessions: sessions,
			JWKS:     &lti.JWKSHandler{Provider: identity},
			Metrics:  m,
		},
		Resources: &api.ResourceHandlers{
			Store:          resources,
			AdminTokenHash: cfg.AdminTokenHash,
		},
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		Ready: map[string]api.Pinger{
			"db":      resources,
			"session": sessions,
		},
		Log: log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("platform", cfg.LTIPlatformID),
			zap.String("display", string(mode)),
			zap.String("kid", identity.KID()),
			zap.String("db", cfg.DBDriver),
			zap.String("sessions", cfg.SessionStore),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// loadIdentity reads the configured key pair, or generates an ephemeral one
// for development.
func loadIdentity(cfg config.Config, log *zap.Logger) (*lti.SigningIdentity, error) {
	if cfg.LTIPrivateKeyFile != "" {
		return lti.LoadSigningIdentity(cfg.LTIPrivateKeyFile, cfg.LTIPublicKeyFile, cfg.LTIKID)
	}
	log.Warn("LTI_PRIVATE_KEY_FILE not set; generating an ephemeral signing key")
	return lti.GenerateSigningIdentity(2048)
}

var runKeygen = &cli.Command{
	Name:  "keygen",
	Usage: "write an RSA-2048 key pair for the tool and print its kid",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "private", Value: "private.key", Usage: "private key output path"},
		&cli.StringFlag{Name: "public", Value: "public.key", Usage: "public key output path"},
	},
	Action: func(c *cli.Context) error {
		id, err := lti.GenerateSigningIdentity(2048)
		if err != nil {
			return err
		}
		privPEM, pubPEM, err := id.EncodePEM()
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.String("private"), privPEM, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(c.String("public"), pubPEM, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, id.KID())
		return nil
	},
}

var runSaveSession = &cli.Command{
	Name:  "save-session",
	Usage: "record the viewer URL for a res_id",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "res-id", Required: true},
		&cli.StringFlag{Name: "viewer-url", Required: true},
		&cli.StringFlag{Name: "db-driver", EnvVars: []string{"DB_DRIVER"}, Value: "sqlite"},
		&cli.StringFlag{Name: "db-dsn", EnvVars: []string{"DB_DSN"}},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
		defer cancel()
		dbh, err := db.Open(ctx, db.Driver(c.String("db-driver")), c.String("db-dsn"))
		if err != nil {
			return err
		}
		defer dbh.Close()
		rs, err := storage.NewResourceSessions(dbh).Save(ctx, c.String("res-id"), c.String("viewer-url"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s -> %s\n", rs.ResID, rs.ViewerURL)
		return nil
	},
}

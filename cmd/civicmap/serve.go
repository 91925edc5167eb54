package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/access"
	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/config"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/db"
	"github.com/jonathan/civicmap/internal/fec"
	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/groupchats"
	"github.com/jonathan/civicmap/internal/markers"
	"github.com/jonathan/civicmap/internal/server"
	"github.com/jonathan/civicmap/internal/server/ratelimit"
)

var (
	servePort          int
	serveParty         string
	serveSecureCookies bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the map server",
	Long: `Start the HTTP server that serves the front end, the candidate and
contribution APIs, rally markers and the groupchat directory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from PORT or 8080)")
	serveCmd.Flags().StringVar(&serveParty, "party", config.DefaultParty, "Default FEC party code for /api/candidates")
	serveCmd.Flags().BoolVar(&serveSecureCookies, "secure-cookies", false, "Mark cookies Secure (serve behind HTTPS)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	fecClient := fec.NewClient(cfg.FECAPIKey, fec.WithBaseURL(cfg.FECBaseURL), fec.WithLogger(log))
	if !fecClient.HasAPIKey() {
		log.Warn("FEC_API_KEY is not set; candidate and contribution endpoints will fail")
	}

	database, err := connectDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	var storeOpts []contributions.StoreOption
	if database != nil {
		defer database.Close()
		storeOpts = append(storeOpts, contributions.WithMirror(database))
	}

	store, closeStore, err := openContributionStore(ctx, cfg, log, storeOpts...)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline := contributions.NewPipeline(fecClient, store, cfg.Cycle, log)
	if database != nil {
		pipeline.RecordRunsTo(database)
	}

	go func() {
		if err := store.Watch(ctx, contributions.DefaultReloadDebounce); err != nil {
			log.Warn("contribution file watch stopped", zap.Error(err))
		}
	}()

	roster, err := candidates.NewRoster(cfg.DataDir, log)
	if err != nil {
		return err
	}

	geocoder, err := geocode.NewClient(cfg.MapAPIKey, geocode.DefaultCacheSize,
		geocode.WithMapTilerURL(cfg.MapBaseURL),
		geocode.WithLogger(log))
	if err != nil {
		return err
	}

	codes, err := config.NewAccessCodeConfig()
	if err != nil {
		return err
	}

	sessionCfg, err := sessionConfig(log)
	if err != nil {
		return err
	}

	var oauth server.IdentityProvider
	if cfg.OAuthEnabled() {
		oauth = server.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	} else {
		log.Info("Google sign-in disabled; set GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL to enable it")
	}

	srv, err := server.New(server.Config{
		Port:          cfg.Port,
		StaticDir:     cfg.StaticDir,
		Party:         serveParty,
		Cycle:         cfg.Cycle,
		SecureCookies: serveSecureCookies,
	}, server.Deps{
		Logger:        log,
		Candidates:    fecClient,
		Contributions: pipeline,
		Summaries:     store,
		Roster:        roster,
		Markers:       markers.NewStore(cfg.MarkersPath, log),
		Geocoder:      geocoder,
		Access:        access.NewGate(cfg.AccessFile, codes),
		Groupchats:    groupchats.NewStore(cfg.GroupsPath, geocoder, log),
		Sessions:      server.NewSessionService(sessionCfg),
		OAuth:         oauth,
		RateLimiter:   ratelimit.NewLimiter(ratelimit.LoadConfig()),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(ctx)
}

// connectDatabase opens and migrates the contribution mirror when
// DATABASE_URL is set. It returns nil without one.
func connectDatabase(ctx context.Context, cfg *config.Config, log *zap.Logger) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	log.Info("mirroring contributions to postgres")
	return database, nil
}

// openContributionStore opens the CSV store in the data directory, sharing
// fetch locks through Redis when REDIS_URL is set.
func openContributionStore(ctx context.Context, cfg *config.Config, log *zap.Logger, extra ...contributions.StoreOption) (*contributions.Store, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	opts := append([]contributions.StoreOption{contributions.WithStoreLogger(log)}, extra...)
	closeFn := func() {}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		opts = append(opts, contributions.WithLocker(contributions.NewRedisLocker(client)))
		closeFn = func() { _ = client.Close() }
		log.Info("using redis fetch locks")
	}

	store, err := contributions.NewStore(filepath.Clean(cfg.DataDir), opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

// sessionConfig reads SESSION_SECRET. Without one, a random secret is used
// and sessions do not survive a restart.
func sessionConfig(log *zap.Logger) (*config.SessionConfig, error) {
	cfg, err := config.NewSessionConfig()
	if err == nil {
		return cfg, nil
	}
	if os.Getenv("SESSION_SECRET") != "" {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	log.Warn("SESSION_SECRET is not set; using a random secret, sessions end on restart")
	return &config.SessionConfig{Secret: hex.EncodeToString(secret), ExpirationHours: 24}, nil
}

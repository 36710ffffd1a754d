package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjordcrew/crewfront/internal/blob"
	"github.com/fjordcrew/crewfront/internal/config"
	"github.com/fjordcrew/crewfront/internal/cookie"
	"github.com/fjordcrew/crewfront/internal/crypto"
	"github.com/fjordcrew/crewfront/internal/guard"
	"github.com/fjordcrew/crewfront/internal/idp"
	"github.com/fjordcrew/crewfront/internal/indexnow"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/kv"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/notify"
	"github.com/fjordcrew/crewfront/internal/oauthstate"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/server"
	"github.com/fjordcrew/crewfront/internal/session"
	"github.com/fjordcrew/crewfront/internal/storage"
)

// ShutdownTimeout bounds the graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// sweepInterval is how often expired entries leave the in-memory KV store.
const sweepInterval = time.Minute

// CrewFront is the complete application.
type CrewFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	kv         kv.Store
	sweeper    *kv.Sweeper
	storage    storage.Storage
	dispatcher *notify.Dispatcher
}

// deps are the collaborators buildHTTPHandler wires into routes.
type deps struct {
	kv         kv.Store
	storage    storage.Storage
	blobs      blob.Store
	dispatcher *notify.Dispatcher
	provider   idp.Provider
	indexNow   *indexnow.Client
	metrics    *metrics.Metrics
	version    string
}

// New builds the application from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg config.Config, version string) (*CrewFront, error) {
	log.LogInfoWithFields("crewfront", "Building application", map[string]any{
		"environment": cfg.Environment,
		"baseURL":     cfg.Server.BaseURL,
		"kv":          cfg.KV.Type,
		"storage":     cfg.Storage.Type,
		"uploads":     cfg.Uploads.Type,
		"email":       cfg.Email.Type,
		"campaigns":   len(cfg.Campaigns),
	})

	m := metrics.New()

	kvStore, sweeper, err := setupKV(ctx, cfg.KV)
	if err != nil {
		return nil, fmt.Errorf("failed to setup kv store: %w", err)
	}

	store, err := setupStorage(ctx, cfg.Storage)
	if err != nil {
		closeAll(kvStore, sweeper, nil)
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	blobs, err := setupBlobs(ctx, cfg.Uploads)
	if err != nil {
		closeAll(kvStore, sweeper, store)
		return nil, fmt.Errorf("failed to setup uploads: %w", err)
	}

	provider, err := idp.NewProvider(cfg.Identity)
	if err != nil {
		closeAll(kvStore, sweeper, store)
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}
	if provider == nil {
		log.LogWarnWithFields("crewfront", "No identity provider configured, login is disabled", nil)
	}

	var indexNow *indexnow.Client
	if cfg.IndexNow != nil {
		indexNow, err = indexnow.NewClient(cfg.IndexNow.Endpoint, cfg.IndexNow.Key, cfg.Server.BaseURL)
		if err != nil {
			closeAll(kvStore, sweeper, store)
			return nil, fmt.Errorf("failed to setup IndexNow: %w", err)
		}
	}

	dispatcher := notify.NewDispatcher(setupNotifier(cfg.Email), cfg.Email.Timeout, m)
	handler, err := buildHTTPHandler(cfg, deps{
		kv:         kvStore,
		storage:    store,
		blobs:      blobs,
		dispatcher: dispatcher,
		provider:   provider,
		indexNow:   indexNow,
		metrics:    m,
		version:    version,
	})
	if err != nil {
		closeAll(kvStore, sweeper, store)
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	return &CrewFront{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		kv:         kvStore,
		sweeper:    sweeper,
		storage:    store,
		dispatcher: dispatcher,
	}, nil
}

// Run serves until SIGINT, SIGTERM or a server error, then shuts down
// gracefully.
func (c *CrewFront) Run() error {
	log.LogInfoWithFields("crewfront", "Starting application", map[string]any{
		"addr": c.config.Server.Addr,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := c.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	var runErr error
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("crewfront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		runErr = err
		log.LogErrorWithFields("crewfront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("crewfront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": ShutdownTimeout.String(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := c.httpServer.Stop(ctx); err != nil {
		log.LogErrorWithFields("crewfront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		runErr = errors.Join(runErr, err)
	}

	// Notifications already accepted are sent before the stores go away.
	if err := c.dispatcher.Wait(ctx); err != nil {
		log.LogWarnWithFields("crewfront", "Pending notifications abandoned", map[string]any{
			"error": err.Error(),
		})
	}

	closeAll(c.kv, c.sweeper, c.storage)

	log.LogInfoWithFields("crewfront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return runErr
}

func closeAll(kvStore kv.Store, sweeper *kv.Sweeper, store storage.Storage) {
	if sweeper != nil {
		sweeper.Stop()
	}
	if kvStore != nil {
		if err := kvStore.Close(); err != nil {
			log.LogErrorWithFields("crewfront", "Failed to close kv store", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.LogErrorWithFields("crewfront", "Failed to close storage", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// setupKV creates the shared store for rate-limit counters and login state.
func setupKV(ctx context.Context, cfg config.KVConfig) (kv.Store, *kv.Sweeper, error) {
	switch cfg.Type {
	case config.KVRedis:
		var opts []kv.RedisOption
		if cfg.KeyPrefix != "" {
			opts = append(opts, kv.WithKeyPrefix(cfg.KeyPrefix))
		}
		store, err := kv.NewRedisStoreFromURL(string(cfg.URL), opts...)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			// Rules decide per endpoint what a missing store means, so
			// startup goes ahead.
			log.LogWarnWithFields("crewfront", "Redis not reachable at startup", map[string]any{
				"error": err.Error(),
			})
		}
		log.LogInfoWithFields("crewfront", "Using Redis kv store", map[string]any{
			"keyPrefix": cfg.KeyPrefix,
		})
		return store, nil, nil

	case config.KVMemory, "":
		store := kv.NewMemoryStore()
		sweeper := kv.NewSweeper(store, sweepInterval)
		sweeper.Start(ctx)
		log.LogInfoWithFields("crewfront", "Using in-memory kv store", nil)
		return store, sweeper, nil

	default:
		return nil, nil, fmt.Errorf("unknown kv type: %s", cfg.Type)
	}
}

// setupStorage creates the submission store.
func setupStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case config.StoragePostgres:
		log.LogInfoWithFields("crewfront", "Using Postgres storage", nil)
		return storage.NewPostgresStorage(ctx, string(cfg.DSN))

	case config.StorageFirestore:
		log.LogInfoWithFields("crewfront", "Using Firestore storage", map[string]any{
			"project":          cfg.GCPProject,
			"database":         cfg.FirestoreDatabase,
			"collectionPrefix": cfg.CollectionPrefix,
		})
		return storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.CollectionPrefix)

	case config.StorageMemory, "":
		log.LogWarnWithFields("crewfront", "Using in-memory storage, submissions are lost on restart", nil)
		return storage.NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// setupBlobs creates the object store for uploaded documents.
func setupBlobs(ctx context.Context, cfg config.UploadsConfig) (blob.Store, error) {
	switch cfg.Type {
	case config.UploadsGCS:
		log.LogInfoWithFields("crewfront", "Using GCS for uploads", map[string]any{
			"bucket": cfg.Bucket,
			"prefix": cfg.Prefix,
		})
		return blob.NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)

	case config.UploadsFile, "":
		log.LogInfoWithFields("crewfront", "Using local directory for uploads", map[string]any{
			"dir": cfg.Dir,
		})
		return blob.NewFileStore(cfg.Dir)

	default:
		return nil, fmt.Errorf("unknown uploads type: %s", cfg.Type)
	}
}

func setupNotifier(cfg config.EmailConfig) notify.Notifier {
	if cfg.Type == config.EmailHTTP {
		return notify.NewHTTPNotifier(cfg.Endpoint, string(cfg.APIKey))
	}
	return notify.LogNotifier{}
}

// buildHTTPHandler registers every route with its middleware.
func buildHTTPHandler(cfg config.Config, d deps) (http.Handler, error) {
	csrfKey, err := crypto.DeriveKey([]byte(cfg.Security.SecretKey), crypto.PurposeCSRF)
	if err != nil {
		return nil, fmt.Errorf("deriving csrf key: %w", err)
	}
	sessionKey, err := crypto.DeriveKey([]byte(cfg.Security.SecretKey), crypto.PurposeSession)
	if err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}
	sessions, err := session.NewManager(sessionKey, cfg.Server.BaseURL, cfg.Security.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	csrf := crypto.NewCSRFProtection(csrfKey, crypto.DefaultCSRFTTL)
	limiter := ratelimit.New(d.kv)
	rules := server.RateRules(cfg.RateLimits)
	g := guard.New(csrf, limiter, d.metrics)
	cookies := cookie.NewPolicy(cfg.IsProduction(), cfg.Server.CookieDomain)

	mux := http.NewServeMux()

	// route registers h under "METHOD path"; name is the metrics label.
	route := func(pattern, name string, h http.Handler, extra ...server.MiddlewareFunc) {
		mws := append(extra,
			server.NewMetricsMiddleware(d.metrics, name),
			server.NewLoggerMiddleware("http"),
		)
		mux.Handle(pattern, server.ChainMiddleware(h, mws...))
	}
	authenticated := server.NewSessionMiddleware(sessions)

	checks := []server.HealthCheck{
		{Name: "kv", Pinger: d.kv},
		{Name: "storage", Pinger: d.storage},
		{Name: "uploads", Pinger: d.blobs},
	}
	mux.Handle("GET /health", server.NewHealthHandler(string(cfg.Security.HealthSecret), d.version, checks...))
	mux.Handle("GET /metrics", d.metrics.Handler())

	forms := server.NewFormHandlers(g, csrf, rules, d.storage, d.dispatcher, &cfg, d.metrics)
	route("GET /api/csrf-token", "/api/csrf-token", http.HandlerFunc(forms.CSRFTokenHandler))
	route("POST /api/contact", "/api/contact", forms.ContactHandler())
	route("POST /api/staffing-requests", "/api/staffing-requests", forms.StaffingRequestHandler())
	route("POST /api/campaigns/{campaignID}/applications", "/api/campaigns/{campaignID}/applications", forms.CampaignApplicationHandler())

	documents := server.NewDocumentHandlers(g, rules[server.ScopeUpload], d.blobs, d.storage, d.dispatcher,
		cfg.Email.From, cfg.Email.NotifyTo, cfg.Uploads.MaxBytes, d.metrics)
	route("POST /api/documents", "/api/documents", http.HandlerFunc(documents.UploadHandler), authenticated)

	gdpr := server.NewGDPRHandlers(g, rules[server.ScopeGDPRExport], d.storage)
	route("GET /api/gdpr/export", "/api/gdpr/export", http.HandlerFunc(gdpr.ExportHandler), authenticated)

	states := oauthstate.NewStore(d.kv)
	auth := server.NewAuthHandlers(cfg.Server, d.provider, states, sessions, cookies, d.storage,
		limiter, rules[server.ScopeLogin], d.metrics)
	route("GET /api/session", "/api/session", http.HandlerFunc(auth.SessionHandler), authenticated)
	route("GET /login/start", "/login/start", http.HandlerFunc(auth.LoginStartHandler))
	route("GET "+server.CallbackPath, server.CallbackPath, http.HandlerFunc(auth.CallbackHandler))
	route("GET /logout", "/logout", http.HandlerFunc(auth.LogoutHandler))

	if d.indexNow != nil {
		indexNow := server.NewIndexNowHandlers(d.indexNow, string(cfg.Security.HealthSecret))
		route("POST /api/indexnow", "/api/indexnow", http.HandlerFunc(indexNow.SubmitHandler))
		mux.HandleFunc("GET "+d.indexNow.KeyPath(), indexNow.KeyFileHandler)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteNotFound(w, "")
	})

	log.LogInfoWithFields("crewfront", "Routes registered", map[string]any{
		"login":    d.provider != nil,
		"indexNow": d.indexNow != nil,
	})
	// Preflights are answered before method matching in the mux.
	return server.ChainMiddleware(mux,
		server.NewCORSMiddleware(cfg.Server.AllowedOrigins),
		server.NewRecoverMiddleware("http"),
		server.NewRequestIDMiddleware(),
	), nil
}

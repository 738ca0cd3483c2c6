package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oncall/internal/attendance"
	"oncall/internal/audit"
	"oncall/internal/auth"
	"oncall/internal/cloudinary"
	"oncall/internal/config"
	"oncall/internal/face"
	"oncall/internal/faceclient"
	"oncall/internal/handler"
	"oncall/internal/httpmiddleware"
	"oncall/internal/queue"
	"oncall/internal/registration"
	"oncall/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.App) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// backends is the storage selected by STORE_BACKEND.
type backends struct {
	attendance   attendance.Repository
	registration registration.Store
	probes       []handler.Probe
	close        func()
}

func openBackends(ctx context.Context, cfg config.App, log *slog.Logger) (*backends, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("postgres connected")
		return &backends{
			attendance:   attendance.NewPostgresRepository(db.Client),
			registration: registration.NewPostgresStore(db.Client),
			probes:       []handler.Probe{{Name: "db", Check: db.Healthy}},
			close:        func() { _ = db.Close() },
		}, nil

	case config.BackendMongo:
		m, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		log.Info("mongo connected", "database", cfg.MongoDatabase)
		return &backends{
			attendance:   attendance.NewMongoRepository(m.Database),
			registration: registration.NewMongoStore(m.Database),
			probes:       []handler.Probe{{Name: "db", Check: m.Healthy}},
			close: func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = m.Close(shutdownCtx)
			},
		}, nil
	}

	log.Warn("using in-memory store, data is lost on restart")
	mem := store.NewMemory()
	return &backends{attendance: mem, registration: mem, close: func() {}}, nil
}

func run(ctx context.Context, cfg config.App, log *slog.Logger) error {
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer b.close()

	var redisClient *store.Redis
	if cfg.AuditBackend == config.BackendRedis || cfg.RateLimitBackend == config.BackendRedis {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		b.probes = append(b.probes, handler.Probe{Name: "redis", Check: redisClient.Healthy})
	}

	var recorder audit.Recorder
	if cfg.AuditBackend == config.BackendRedis {
		recorder = audit.NewQueueRecorder(queue.NewRedisQueue(redisClient.Client, queue.DefaultKey))
	} else {
		fr, err := audit.NewFileRecorder(cfg.AuditLogPath)
		if err != nil {
			return err
		}
		recorder = fr
	}

	fc := faceclient.New(cfg.FaceServiceURL, cfg.AntiSpoofModelDir)
	if err := fc.Health(ctx); err != nil {
		log.Warn("face service not available", "url", cfg.FaceServiceURL, "error", err)
	} else {
		log.Info("face service connected", "url", cfg.FaceServiceURL)
	}
	b.probes = append(b.probes, handler.Probe{Name: "face_service", Check: func(ctx context.Context) bool {
		return fc.Health(ctx) == nil
	}})

	var mirror registration.Mirror
	if cfg.CloudinaryEnabled() {
		mirror = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	}

	deadline, err := attendance.ParseCheckoutDeadline(cfg.CheckoutDeadline)
	if err != nil {
		return err
	}

	gallery := face.NewGallery(cfg.MatchThreshold)
	reg := registration.NewService(b.registration, fc, gallery, mirror, log)
	if err := reg.RefreshGallery(ctx); err != nil {
		return err
	}
	log.Info("face gallery loaded", "users", gallery.Len())
	go refreshGallery(ctx, reg, cfg.GalleryRefresh, log)

	att := attendance.NewService(b.attendance, fc, face.NewRecognizer(fc, gallery), recorder, attendance.Settings{
		Location: cfg.Location(),
		Policy: attendance.Policy{
			CheckInGrace:        cfg.CheckInGrace,
			AfternoonUpperBound: cfg.AfternoonUpperBound,
			CheckoutDeadline:    deadline,
		},
	}, log)

	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == config.BackendRedis {
		limiter = httpmiddleware.NewRedisFixedWindow(redisClient.Client, "oncall:ratelimit", cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.ClientURLs,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, log))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var checkMiddleware []gin.HandlerFunc
	if cfg.DeviceAuth {
		r.POST("/v1/devices/token", auth.TokenHandler(cfg.DeviceEnrollmentKey, cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL))
		checkMiddleware = append(checkMiddleware, auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	}

	h := handler.New(att, reg, cfg.Location(), cfg.TempDir, log, b.probes...)
	h.Routes(r, checkMiddleware...)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "audit", cfg.AuditBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}

// refreshGallery reloads embeddings so registrations made by other replicas become matchable.
func refreshGallery(ctx context.Context, reg *registration.Service, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.RefreshGallery(ctx); err != nil {
				log.Warn("gallery refresh failed", "error", err)
			}
		}
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

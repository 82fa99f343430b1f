package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	_ "marketchat/docs"
	"marketchat/pkg/auth"
	"marketchat/pkg/chat"
	"marketchat/pkg/config"
	"marketchat/pkg/db"
	"marketchat/pkg/logger"
	"marketchat/pkg/notify"
	"marketchat/pkg/orders"
	"marketchat/pkg/policy"
	"marketchat/pkg/realtime"
	"marketchat/pkg/response"
	"marketchat/pkg/sendemail"
	"marketchat/pkg/users"
)

// @title           Marketplace Chat API
// @version         1.0
// @description     Order-scoped realtime chat and customer support for the marketplace

// @BasePath  /

// @schemes   http https

// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLog := logger.New(cfg.LogLevel, cfg.Environment)
	if err := run(cfg, appLog); err != nil {
		appLog.Fatal().Err(err).Msg("server stopped with error")
	}
	appLog.Info().Msg("server exiting")
}

// backends are the storage-facing dependencies picked by STORE_DRIVER.
type backends struct {
	pool      *pgxpool.Pool
	store     chat.Store
	orders    chat.OrderLookup
	directory users.Directory
	sessions  auth.SessionLookup
}

func openBackends(ctx context.Context, cfg *config.Config, appLog zerolog.Logger) (*backends, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		appLog.Warn().Msg("using in-memory store; data is lost on restart and no orders are known")
		return &backends{
			store:     chat.NewMemoryStore(),
			orders:    orders.NewMemoryProvider(),
			directory: users.NewMemoryDirectory(),
		}, nil
	}

	pool, err := db.Connect(ctx, cfg, logger.Component(appLog, "db"))
	if err != nil {
		return nil, err
	}
	return &backends{
		pool:      pool,
		store:     chat.NewPostgresStore(pool),
		orders:    orders.NewPostgresProvider(pool),
		directory: users.NewPostgresDirectory(pool),
		sessions:  auth.NewPostgresSessions(pool),
	}, nil
}

func openDedup(ctx context.Context, cfg *config.Config) (chat.IdempotencyCache, func(), error) {
	if cfg.DedupBackend != config.DedupBackendRedis {
		return chat.NewMemoryIdempotencyCache(cfg.DedupMaxEntries, cfg.DedupTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return chat.NewRedisIdempotencyCache(rdb, cfg.DedupTTL), func() { rdb.Close() }, nil
}

func newNotifier(cfg *config.Config, directory users.Directory, appLog zerolog.Logger) notify.Notifier {
	if cfg.NotifyBackend == config.NotifyBackendEmail {
		mailer := sendemail.NewEmailService(cfg.SendGridAPIKey, cfg.SendGridSenderEmail, cfg.SendGridSenderName)
		return notify.NewEmailNotifier(mailer, directory)
	}
	return notify.NewLogNotifier(appLog)
}

func run(cfg *config.Config, appLog zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	if b.pool != nil {
		defer b.pool.Close()
	}

	dedup, closeDedup, err := openDedup(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDedup()

	var verifier auth.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret)
	}
	authn := auth.NewAuthenticator(verifier, b.sessions)

	notifyLog := logger.Component(appLog, "notify")
	dispatcher := notify.NewDispatcher(newNotifier(cfg, b.directory, notifyLog), cfg.NotifyWorkers, cfg.NotifyQueueSize, notifyLog)

	chatService := chat.NewChatService(b.store, b.orders, b.directory, dedup,
		chat.WithPolicy(policy.Evaluator{DriverGrace: cfg.DriverChatGrace, MerchantGrace: cfg.MerchantChatGrace}),
		chat.WithLogger(logger.Component(appLog, "chat")),
	)

	registry := realtime.NewRegistry()
	limiter := realtime.NewRateLimiter(cfg.RateLimitMessages, cfg.RateLimitWindow)
	gateway := realtime.NewGateway(chatService, registry, limiter, authn, dispatcher, realtime.Config{
		AuthTimeout:       cfg.WSAuthTimeout,
		AllowLegacyUserID: cfg.WSAllowLegacyUserID,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
	}, logger.Component(appLog, "gateway"))
	chatHandler := chat.NewChatHandler(chatService, gateway, gateway)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	// Wildcard origins cannot be combined with credentials.
	for _, o := range corsCfg.AllowOrigins {
		if o == "*" {
			corsCfg.AllowOrigins = nil
			corsCfg.AllowAllOrigins = true
			corsCfg.AllowCredentials = false
			break
		}
	}
	router.Use(cors.New(corsCfg))

	chatHandler.RegisterRoutes(router, auth.Middleware(authn))

	// WebSocket chat endpoint; authenticates after the upgrade.
	router.GET("/ws/chat", gateway.HandleWebSocket)

	router.GET("/healthz", healthHandler(b.pool, registry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	settings := TLSSettings{
		EnableTLS:       cfg.EnableTLS,
		CertPath:        cfg.TLSCertPath,
		KeyPath:         cfg.TLSKeyPath,
		Env:             cfg.Environment,
		AllowSelfSigned: cfg.TLSSelfSigned,
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("TLS settings invalid: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info().Str("addr", srv.Addr).Bool("tls", settings.EnableTLS).Str("store", cfg.StoreDriver).Msg("server listening")
		return serve(srv, settings)
	})
	g.Go(func() error {
		return limiter.Run(gctx, time.Minute)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gateway.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// serve starts HTTP or HTTPS based on settings. It returns nil once the
// server has been shut down.
func serve(srv *http.Server, settings TLSSettings) error {
	var err error
	switch {
	case !settings.EnableTLS:
		err = srv.ListenAndServe()
	default:
		tlsConfig, certFile, keyFile, tlsErr := buildTLSConfigWithSettings(settings)
		if tlsErr != nil {
			return fmt.Errorf("TLS setup error: %w", tlsErr)
		}
		srv.TLSConfig = tlsConfig
		err = srv.ListenAndServeTLS(certFile, keyFile)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func healthHandler(pool *pgxpool.Pool, registry *realtime.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				response.SendAPIResponse(c, http.StatusServiceUnavailable, false, "database unavailable", nil)
				return
			}
		}
		response.SendAPIResponse(c, http.StatusOK, true, "ok", gin.H{
			"connections": registry.ConnectionCount(),
		})
	}
}

// TLSSettings holds the TLS part of the service configuration.
type TLSSettings struct {
	EnableTLS       bool
	CertPath        string
	KeyPath         string
	Env             string // "production" or "development"
	AllowSelfSigned bool   // allow generating self-signed in dev when files are missing
}

// Validate ensures TLS settings are safe for the selected environment.
func (s TLSSettings) Validate() error {
	if s.Env == "production" {
		if !s.EnableTLS {
			return fmt.Errorf("TLS must be enabled in production")
		}
		if s.CertPath == "" || s.KeyPath == "" {
			return fmt.Errorf("TLS_CERT_PATH and TLS_KEY_PATH are required in production")
		}
	}
	return nil
}

// buildTLSConfigWithSettings constructs a tls.Config based on TLSSettings.
// Prefers file paths; falls back to a self-signed certificate in development.
func buildTLSConfigWithSettings(s TLSSettings) (*tls.Config, string, string, error) {
	var cert tls.Certificate
	var err error

	// Prefer explicit file paths
	if fileExists(s.CertPath) && fileExists(s.KeyPath) {
		cert, err = tls.LoadX509KeyPair(s.CertPath, s.KeyPath)
		if err != nil {
			return nil, "", "", err
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, s.CertPath, s.KeyPath, nil
	}

	// Development fallback: self-signed
	if s.Env != "production" && s.AllowSelfSigned {
		genCert, genErr := generateSelfSignedCert()
		if genErr != nil {
			return nil, "", "", genErr
		}
		return &tls.Config{Certificates: []tls.Certificate{genCert}, MinVersion: tls.VersionTLS12}, "", "", nil
	}

	return nil, "", "", fmt.Errorf("no TLS certificates available")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// generateSelfSignedCert creates a minimal self-signed certificate for localhost usage.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return tls.X509KeyPair(certPEM, keyPEM)
}

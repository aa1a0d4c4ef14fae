package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	credentialshandler "github.com/vinayakr/nofrillsdb/domains/credentials/be/handler"
	"github.com/vinayakr/nofrillsdb/domains/credentials/be/issuer"
	credentialsservice "github.com/vinayakr/nofrillsdb/domains/credentials/be/service"
	provisioninghandler "github.com/vinayakr/nofrillsdb/domains/provisioning/be/handler"
	"github.com/vinayakr/nofrillsdb/domains/provisioning/be/provisioner"
	provisioningservice "github.com/vinayakr/nofrillsdb/domains/provisioning/be/service"
	tenantsrepo "github.com/vinayakr/nofrillsdb/domains/tenants/be/repo"
	tenantsservice "github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
	platformlogging "github.com/vinayakr/nofrillsdb/platform/go/logging"
	platformmiddleware "github.com/vinayakr/nofrillsdb/platform/go/middleware"
	"github.com/vinayakr/nofrillsdb/platform/go/persistence"
	tenantmiddleware "github.com/vinayakr/nofrillsdb/platform/go/tenant/middleware"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// Registry cluster: tenant bookkeeping tables.
	DatabaseURL string `env:"DATABASE_URL,required"`
	// Provisioning cluster: where tenant databases and roles are created.
	ProvisioningDatabaseURL string `env:"PROVISIONING_DATABASE_URL,required"`

	// PoolUser is the login role the connection pooler uses to reach tenant
	// databases; it is granted CONNECT on every provisioned database.
	PoolUser string `env:"POOL_USER,required"`

	ConnectionLimit  int           `env:"CONNECTION_LIMIT" envDefault:"5"`
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT" envDefault:"30s"`

	// Client CA material for mTLS certificate issuance.
	ClientCACert string `env:"CLIENT_CA_CRT,required"`
	ClientCAKey  string `env:"CLIENT_CA_KEY,required"`

	DefaultValidityDays int `env:"DEFAULT_VALIDITY_DAYS" envDefault:"365"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ca, err := issuer.LoadCAMaterial(cfg.ClientCACert, cfg.ClientCAKey)
	if err != nil {
		logger.Fatal("load client CA", zap.Error(err))
	}

	registryPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init registry pool", zap.Error(err))
	}
	defer persistence.ClosePool(registryPool)

	if err := persistence.BootstrapRegistry(ctx, registryPool); err != nil {
		logger.Fatal("bootstrap registry schema", zap.Error(err))
	}

	provisioningPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.ProvisioningDatabaseURL})
	if err != nil {
		logger.Fatal("init provisioning pool", zap.Error(err))
	}
	defer persistence.ClosePool(provisioningPool)

	tenantStore, err := persistence.NewTenantStore(registryPool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	tenantRepo := tenantsrepo.NewPostgresRepository(tenantStore)
	tenantService := tenantsservice.New(tenantRepo, issuer.NewRoleID)

	roleBootstrap := provisioner.NewRoleBootstrap(provisioningPool)
	ephemeral := persistence.NewEphemeralDB(cfg.ProvisioningDatabaseURL)
	dbProvisioner := provisioner.NewDBProvisioner(provisioningPool, ephemeral, roleBootstrap, cfg.PoolUser)

	provisioningService := provisioningservice.New(tenantRepo, roleBootstrap, dbProvisioner)
	provisioningHTTPHandler := provisioninghandler.New(provisioningService, logger)

	certIssuer := issuer.New(ca)
	credentialsService := credentialsservice.New(
		tenantRepo,
		roleBootstrap,
		certIssuer,
		issuer.NewCertRoleID,
		credentialsservice.Config{
			ValidityDays: cfg.DefaultValidityDays,
			Limits: credentialsservice.Limits{
				ConnectionLimit:  cfg.ConnectionLimit,
				StatementTimeout: cfg.StatementTimeout,
			},
		},
	)
	credentialsHTTPHandler := credentialshandler.New(credentialsService, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := registryPool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Use(tenantmiddleware.WithIdentity(tenantService, tenantmiddleware.Config{
		CacheTTL: time.Minute,
	}))
	apiRouter.Group(provisioningHTTPHandler.Routes)
	apiRouter.Group(credentialsHTTPHandler.Routes)

	rootRouter.Mount("/api", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cashier-service/internal/config"
	"cashier-service/internal/db"
	"cashier-service/internal/domain/customer"
	"cashier-service/internal/domain/subscription"
	"cashier-service/internal/gateway"
	"cashier-service/internal/gateway/braintree"
	"cashier-service/internal/gateway/coinpayments"
	"cashier-service/internal/gateway/paypal"
	"cashier-service/internal/gateway/stripe"
	customerHandler "cashier-service/internal/handlers/customer"
	gatewayHandler "cashier-service/internal/handlers/gateway"
	subscriptionHandler "cashier-service/internal/handlers/subscription"
	planHandler "cashier-service/internal/handlers/subscription_plans"
	"cashier-service/internal/middleware"
	"cashier-service/internal/pkg/jwt"
	"cashier-service/internal/pkg/lock"
	"cashier-service/internal/repository/memory"
	"cashier-service/internal/repository/postgres"
	"cashier-service/internal/service/cashier"
	"cashier-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Storage is everything the service reads and writes.
type Storage interface {
	cashier.Store
	EnsureCustomer(ctx context.Context, c *customer.Customer) error
	ListPlans(ctx context.Context) ([]*subscription.Plan, error)
}

type Server struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	closers []func()
}

func NewServer(cfg *config.AppConfig, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Run serves HTTP and runs the reconciliation worker until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	store, err := s.openStorage(ctx)
	if err != nil {
		return err
	}
	locker, err := s.openLocker()
	if err != nil {
		return err
	}

	engine := cashier.NewEngine(store, locker, s.logger.Named("cashier"),
		cashier.WithLinks(func(sub *subscription.Subscription, action string) string {
			return s.cfg.BaseURL + "/api/v1/subscriptions/" + sub.ID + "/" + action
		}),
	)

	gateways, err := BuildGateways(s.cfg, engine, s.logger)
	if err != nil {
		return err
	}
	registry := gateway.NewRegistry(gateways...)
	if s.cfg.ValidateGateways {
		if err := validateGateways(ctx, registry); err != nil {
			return err
		}
	}
	s.logger.Info("gateways enabled", zap.Strings("gateways", registry.Names()))

	verifier, err := jwt.NewVerifier(jwt.Config{Secret: s.cfg.JWT.Secret, Issuer: s.cfg.JWT.Issuer})
	if err != nil {
		return fmt.Errorf("failed to build token verifier: %w", err)
	}

	// ----- Background reconciliation -----
	worker := reconcile.NewWorker(engine, registry, s.logger.Named("reconcile"), s.cfg.SyncInterval, s.cfg.RenewalWindow,
		reconcile.WithBatchSize(s.cfg.SyncBatchSize))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// ----- HTTP -----
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.LoggingMiddleware(s.logger.Named("http")),
	)
	SetupRouter(router, &Handlers{
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(engine, registry, store),
		PlanHandler:         planHandler.NewPlanHandler(store),
		CustomerHandler:     customerHandler.NewCustomerHandler(store, registry),
		GatewayHandler:      gatewayHandler.NewGatewayHandler(engine, registry, s.logger.Named("gateway"), s.cfg.BaseURL),
		AuthMiddleware:      middleware.NewAuthMiddleware(verifier),
	})

	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}
	<-workerDone
	return nil
}

func (s *Server) openStorage(ctx context.Context) (Storage, error) {
	switch s.cfg.StorageDriver {
	case config.DriverMemory:
		s.logger.Warn("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		SeedPlans(store, time.Now())
		return store, nil
	default:
		pool, err := db.ConnectDB(db.PostgresConfig{URL: s.cfg.DatabaseURL, MaxConns: s.cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		s.logger.Info("connected to postgres")
		return postgres.NewStore(pool), nil
	}
}

func (s *Server) openLocker() (lock.Locker, error) {
	if s.cfg.LockDriver == config.DriverMemory {
		return lock.NewMemory(), nil
	}
	client, err := db.NewRedisClient(db.RedisConfig{
		ClusterMode: s.cfg.Redis.ClusterMode,
		Addresses:   s.cfg.Redis.Addrs,
		Password:    s.cfg.Redis.Password,
		DB:          s.cfg.Redis.DB,
		PoolSize:    s.cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	s.logger.Info("connected to redis", zap.Strings("addrs", s.cfg.Redis.Addrs))
	return lock.NewRedis(client, 30*time.Second), nil
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// BuildGateways constructs every gateway named in ENABLED_GATEWAYS.
func BuildGateways(cfg *config.AppConfig, engine *cashier.Engine, logger *zap.Logger) ([]gateway.PaymentGateway, error) {
	out := make([]gateway.PaymentGateway, 0, len(cfg.EnabledGateways))
	for _, name := range cfg.EnabledGateways {
		switch name {
		case coinpayments.Name:
			c := cfg.CoinPayments
			client := coinpayments.NewClient(c.APIURL, c.PublicKey, c.PrivateKey)
			out = append(out, coinpayments.New(coinpayments.Config{
				MerchantID:      c.MerchantID,
				PublicKey:       c.PublicKey,
				PrivateKey:      c.PrivateKey,
				IPNSecret:       c.IPNSecret,
				ReceiveCurrency: c.ReceiveCurrency,
				APIURL:          c.APIURL,
			}, client, engine, logger, cfg.BaseURL))
		case braintree.Name:
			c := cfg.Braintree
			env := braintree.Environment(c.Environment)
			client := braintree.NewClient(env, c.MerchantID, c.PublicKey, c.PrivateKey)
			out = append(out, braintree.New(braintree.Config{
				Environment: env,
				MerchantID:  c.MerchantID,
				PublicKey:   c.PublicKey,
				PrivateKey:  c.PrivateKey,
			}, client, engine, logger, cfg.BaseURL))
		case stripe.Name:
			c := cfg.Stripe
			out = append(out, stripe.New(stripe.Config{
				SecretKey:     c.SecretKey,
				WebhookSecret: c.WebhookSecret,
			}, stripe.NewClient(c.SecretKey), engine, logger, cfg.BaseURL))
		case paypal.Name:
			c := cfg.PayPal
			client := paypal.NewClient(c.APIURL, c.ClientID, c.ClientSecret)
			out = append(out, paypal.New(paypal.Config{
				ClientID:     c.ClientID,
				ClientSecret: c.ClientSecret,
				APIURL:       c.APIURL,
				CancelURL:    c.CancelURL,
			}, client, engine, logger, cfg.BaseURL))
		default:
			return nil, fmt.Errorf("unknown gateway %q in ENABLED_GATEWAYS", name)
		}
	}
	return out, nil
}

func validateGateways(ctx context.Context, registry *gateway.Registry) error {
	for _, g := range registry.All() {
		vctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := g.Validate(vctx)
		cancel()
		if err != nil {
			return fmt.Errorf("gateway %s: %w", g.Name(), err)
		}
	}
	return nil
}

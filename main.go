package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/controllers"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired components of the service
type App struct {
	cfg        *config.Config
	db         *gorm.DB
	hub        *services.Hub
	relay      *services.AMQPRelay
	bus        *services.EventBus
	engine     *services.OrderEngine
	dispatcher *services.NotificationDispatcher
	scheduler  *services.Scheduler
	routes     *controllers.Routes
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		File:   cfg.LogFile,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.WithFields(logrus.Fields{"env": cfg.GoEnv, "port": cfg.Port}).Info("Starting Café Orders API server...")

	if err := config.ConnectDatabase(cfg.DatabaseURL); err != nil {
		logger.Get().WithError(err).Fatal("Failed to connect to database")
	}
	db := config.GetDB()
	if err := config.Migrate(db); err != nil {
		logger.Get().WithError(err).Fatal("Failed to migrate database")
	}
	logger.Get().Info("Database migration completed successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, db)
	if err != nil {
		logger.Get().WithError(err).Fatal("Failed to initialize application")
	}

	if err := app.run(ctx); err != nil {
		logger.Get().WithError(err).Fatal("Server stopped with error")
	}
	logger.Get().Info("Server stopped")
}

// newApp wires stores, the order engine, fan-out, notifications and the
// reconciler. Optional integrations (Auth0, S3, SMTP, RabbitMQ) are only
// enabled when configured.
func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	app := &App{cfg: cfg, db: db, hub: services.NewHub(64)}

	var broadcaster services.Broadcaster = app.hub
	if cfg.RabbitMQURL != "" {
		relay, err := services.DialAMQPRelay(cfg.RabbitMQURL, app.hub)
		if err != nil {
			return nil, err
		}
		app.relay = relay
		broadcaster = relay
	}

	var receipts services.ReceiptStorage
	if cfg.AWSS3Bucket != "" {
		s3Storage, err := services.NewS3ReceiptStorage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		receipts = s3Storage
	} else {
		logger.Get().Warn("AWS_S3_BUCKET not set, receipts are kept in memory")
		receipts = services.NewMockReceiptStorage()
	}

	var mailer services.Mailer
	if cfg.SMTPHost != "" {
		mailer = services.NewSMTPMailer(cfg)
	} else {
		mailer = services.NewMockMailer()
	}

	orders := services.NewGormOrderStore(db)
	notifications := services.NewGormNotificationStore(db)

	app.dispatcher = services.NewNotificationDispatcher(notifications, broadcaster, mailer)
	app.bus = services.NewEventBus(app.dispatcher, services.NewOrderFanout(broadcaster))
	app.engine = services.NewOrderEngine(orders, services.NewGormMenuCatalog(db), receipts, app.bus)

	window, err := services.NewWindow(cfg.Reconcile)
	if err != nil {
		return nil, err
	}
	rules := append(
		services.LowStockRules(services.NewGormInventoryReader(db), window),
		services.PendingVerificationRule(orders, window),
	)
	reconciler := services.NewReconciler(orders, app.engine, notifications, app.dispatcher, rules...)
	app.scheduler = services.NewScheduler(reconciler, window, cfg.Reconcile.SweepInterval, cfg.Reconcile.FallbackInterval)

	guestSecret := cfg.GuestTokenSecret
	if guestSecret == "" {
		logger.Get().Warn("GUEST_TOKEN_SECRET not set, guest tokens will not survive a restart")
		guestSecret = uuid.NewString()
	}
	guests := services.NewGuestTokens(guestSecret)

	var (
		tokens   middleware.TokenValidator
		userInfo services.UserInfoFetcher
	)
	if cfg.Auth0Domain != "" {
		v, err := middleware.NewAuth0Validator(cfg)
		if err != nil {
			return nil, err
		}
		tokens = v
		userInfo = services.NewAuth0Service(cfg)
	} else {
		logger.Get().Warn("AUTH0_DOMAIN not set, only guest tokens are accepted")
	}
	auth := middleware.NewAuthenticator(tokens, guests, db, userInfo)

	app.routes = &controllers.Routes{
		Auth:          auth,
		Users:         controllers.NewUserController(db),
		Orders:        controllers.NewOrderController(app.engine, guests),
		Notifications: controllers.NewNotificationController(notifications),
		Rewards:       controllers.NewRewardController(services.NewTokenService(db), app.dispatcher),
		EventRequests: controllers.NewEventRequestController(app.dispatcher),
		Socket:        controllers.NewSocketController(app.hub, auth, orders, cfg.CORSAllowedOrigins),
	}
	return app, nil
}

// run serves HTTP and runs the scheduler and relay consumer until ctx is
// cancelled or one of them fails.
func (a *App) run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           setupRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Get().Infof("Server is running on http://localhost:%s", a.cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(ctx)
		})
	}

	err := g.Wait()
	a.bus.Wait()
	if a.relay != nil {
		if closeErr := a.relay.Close(); closeErr != nil {
			logger.Get().WithError(closeErr).Warn("Failed to close rabbitmq relay")
		}
	}
	return err
}

// setupRouter creates the gin engine with CORS and every API route
func setupRouter(app *App) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = app.cfg.CORSAllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 || corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.GuestTokenHeader)
	router.Use(cors.New(corsConfig))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/database/status", databaseStatus(app.db))
		app.routes.Register(v1)
	}

	return router
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Café Orders API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_ERROR",
					"message": "Failed to get database instance",
				},
			})
			return
		}

		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_CONNECTION_ERROR",
					"message": "Database connection failed",
				},
			})
			return
		}

		tables, err := db.Migrator().GetTables()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DATABASE_QUERY_ERROR",
					"message": "Failed to query tables",
				},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Database connected",
			"tables":  tables,
		})
	}
}

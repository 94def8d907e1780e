package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/cache"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/handlers"
	"github.com/mmdatafocus/retail_backend/middlewares"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/notification"
	"github.com/mmdatafocus/retail_backend/store"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/mmdatafocus/retail_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("retail-backend")

type closer func()

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func openStore(ctx context.Context, env *config.Env, logger *logrus.Logger) (store.Store, closer, error) {
	if env.StoreDriver == config.StoreDriverMemory {
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_DRIVER=memory; data is lost on restart")
		return store.NewMemoryStore(env.StoreMaxAttempts), func() {}, nil
	}
	db, err := config.ConnectDatabaseWithRetry(ctx, env)
	if err != nil {
		return nil, nil, err
	}
	s := store.NewGormStore(db, env.StoreMaxAttempts)
	if err := s.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	sqlDB, _ := db.DB()
	return s, func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}, nil
}

func openCache(ctx context.Context, env *config.Env) (cache.Cache, closer, error) {
	rdb, err := config.ConnectRedisWithRetry(ctx, env.RedisAddress)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil {
		c := cache.NewMemoryCache(time.Minute)
		return c, c.Close, nil
	}
	return cache.NewRedisCache(rdb, "retail:"), func() { _ = rdb.Close() }, nil
}

// openNotifier publishes notifications to Pub/Sub when a project is configured;
// otherwise they are only logged.
func openNotifier(ctx context.Context, env *config.Env, logger *logrus.Logger) (notification.Notifier, closer, error) {
	if env.PubSubProjectId == "" && env.PubSubCredentialsJSON == "" {
		return notification.LogNotifier{Logger: logger}, func() {}, nil
	}
	client, err := config.GetPubSubClient(ctx, env)
	if err != nil {
		return nil, nil, err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, env.NotificationTopic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	var attachments notification.AttachmentStore
	if env.GCSBucket != "" {
		gcs, err := config.GetGCSClient(ctx, env)
		if err != nil {
			topic.Stop()
			_ = client.Close()
			return nil, nil, err
		}
		uploader, err := utils.NewGCSUploader(gcs, env.GCSBucket, "notifications")
		if err != nil {
			topic.Stop()
			_ = client.Close()
			return nil, nil, err
		}
		attachments = uploader
	}

	notifier, err := notification.NewPubSubNotifier(notification.NewTopicPublisher(topic), attachments, logger)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, nil, err
	}
	return notifier, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

func newRouter(env *config.Env, d workflow.Deps) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	if len(env.AllowedOrigins) == 0 || (len(env.AllowedOrigins) == 1 && env.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = env.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	r.Use(cors.New(corsConfig))

	if env.RateLimitEnabled {
		if rdb := config.GetRedisDB(); rdb != nil {
			r.Use(middlewares.NewRateLimiter(rdb, env.RateLimitMaxRequests, env.RateLimitWindow).RateLimitMiddleware)
		} else {
			d.Logger.WithFields(logrus.Fields{"field": "rateLimit"}).Warn("RATE_LIMIT_ENABLED needs REDIS_ADDRESS; rate limiting is off")
		}
	}

	r.Use(middlewares.LoaderMiddleware(d.Inventory))
	r.Use(middlewares.RequestLogger(d.Logger))
	r.Use(gin.Recovery())

	handlers.NewHandler(d).Register(r)
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	logger := config.GetLogger()

	env, err := config.LoadEnv()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err.Error())
	}
	config.SetLogLevel(env.LogLevel)
	gin.SetMode(env.GinMode)
	utils.CountryCode = env.PhoneRegion

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	s, closeStore, err := openStore(sigCtx, env, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
	}
	defer closeStore()

	c, closeCache, err := openCache(sigCtx, env)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Fatal(err.Error())
	}
	defer closeCache()

	notifier, closeNotifier, err := openNotifier(sigCtx, env, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err.Error())
	}
	defer closeNotifier()

	inventory := models.NewInventoryLedger(s, c, env.CacheTTL, logger, models.SystemClock)
	identifiers := models.NewIdentifierLedger(s, logger, models.SystemClock)
	d := workflow.Deps{
		Store:       s,
		Products:    models.NewProductRegistry(s, c, env.CacheTTL, inventory, logger, models.SystemClock),
		Inventory:   inventory,
		Identifiers: identifiers,
		Invoices:    models.NewInvoiceEngine(s, inventory, identifiers, logger, models.SystemClock),
		Suppliers:   models.NewSupplierLedgerService(s, logger, models.SystemClock),
		Dispatcher:  notification.NewDispatcher(notifier, logger, env.PhoneRegion),
		Locker:      config.GetRedisLock(),
		LockTTL:     env.ReturnLockTTL,
		Logger:      logger,
		Tracer:      tracer,
		Now:         models.SystemClock,
	}

	srv := &http.Server{
		Addr:    ":" + env.Port,
		Handler: newRouter(env, d),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{
		"port":  env.Port,
		"store": env.StoreDriver,
	}).Info("server started")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}

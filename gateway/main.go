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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/netqr-tenant-identity/shared/config"
	"github.com/pavitra93/netqr-tenant-identity/shared/events"
	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/metrics"
	"github.com/pavitra93/netqr-tenant-identity/shared/middleware"
	"github.com/pavitra93/netqr-tenant-identity/shared/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	identityConfig := config.GetIdentityConfig()
	redisConfig := config.GetRedisConfig()

	st, closeStore, err := config.OpenStore(config.GetDatabaseConfig(), identityConfig.StoreDriver)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer closeStore()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewRegistry(promRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis for caching
	var cache *utils.HostCache
	redisClient, err := utils.NewRedisClient(ctx, redisConfig.Addr(), redisConfig.Password, redisConfig.DB)
	if err != nil {
		logrus.Warnf("Failed to connect to Redis, caching disabled: %v", err)
	} else {
		defer redisClient.Close()
		cache = utils.NewHostCache(redisClient, redisConfig.HostTTL, m)
	}

	// Invalidate cached hosts when identities change
	kafkaConfig := config.GetKafkaConfig("gateway-host-cache")
	if cache != nil && kafkaConfig.Broker != "" {
		consumer := events.NewConsumer(events.ConsumerConfig{
			Broker:  kafkaConfig.Broker,
			Topic:   kafkaConfig.Topic,
			GroupID: kafkaConfig.GroupID,
		}, logger)
		defer consumer.Close()
		invalidator := NewInvalidator(cache, identityConfig.RootDomain, logger)
		go func() {
			if err := consumer.Run(ctx, invalidator.Handle); err != nil && ctx.Err() == nil {
				logger.WithField("error", err).Error("Host cache invalidation stopped")
			}
		}()
	} else if cache != nil {
		logger.Warnf("KAFKA_BROKER not set, cached hosts expire after %s", redisConfig.HostTTL)
	}

	hosts := NewHostRouter(identity.NewHostResolver(st, identityConfig.RootDomain), cache, logger)
	serviceClients := &ServiceClients{
		TenantService: NewServiceClient(os.Getenv("TENANT_SERVICE_URL")),
		AppService:    NewServiceClient(os.Getenv("APP_SERVICE_URL")),
	}

	router := setupRouter(hosts, serviceClients, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}), logger)

	// Start server
	port := os.Getenv("API_GATEWAY_PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		logrus.Infof("API Gateway starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start API Gateway:", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("Graceful shutdown failed")
	}
}

// setupRouter forwards identity API paths to the tenant service and every other request
// to the app service of the tenant owning the host
func setupRouter(hosts *HostRouter, clients *ServiceClients, metricsHandler http.Handler, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "API Gateway is healthy", nil)
	})
	router.GET("/status", func(c *gin.Context) {
		utils.OKResponse(c, "Upstream status", clients.GetServiceStatus())
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))

	router.NoRoute(func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			clients.TenantService.ProxyRequest(c)
			return
		}
		if hosts.attach(c) {
			clients.AppService.ProxyRequest(c)
		}
	})
	return router
}

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
	"github.com/pavitra93/netqr-tenant-identity/shared/dnsverify"
	"github.com/pavitra93/netqr-tenant-identity/shared/events"
	"github.com/pavitra93/netqr-tenant-identity/shared/identity"
	"github.com/pavitra93/netqr-tenant-identity/shared/metrics"
	"github.com/pavitra93/netqr-tenant-identity/shared/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})

	identityConfig := config.GetIdentityConfig()

	st, closeStore, err := config.OpenStore(config.GetDatabaseConfig(), identityConfig.StoreDriver)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer closeStore()

	resolver, err := dnsverify.New(identityConfig.DNSMode, identityConfig.DNSNameservers,
		identityConfig.DNSTimeout, identityConfig.DNSStaticRecords)
	if err != nil {
		log.Fatal("Failed to initialize DNS resolver:", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	opts := identity.Options{Logger: logger, Metrics: metrics.NewRegistry(promRegistry)}

	kafkaConfig := config.GetKafkaConfig("verification-worker")
	if kafkaConfig.Broker != "" {
		producer := events.NewProducer(events.ProducerConfig{
			Broker: kafkaConfig.Broker,
			Topic:  kafkaConfig.Topic,
		}, logger)
		defer producer.Close()
		opts.Publisher = producer
	}

	// The worker never acts as an admin, so the policy admits nobody
	svc := identity.NewService(st, resolver, identity.NewEmailAllowList(), identity.Config{
		RootDomain:    identityConfig.RootDomain,
		LookupTimeout: identityConfig.DNSTimeout,
	}, opts)

	sweeper := NewSweeper(svc.Domains, identityConfig.SweepBatchSize, identityConfig.SweepInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	port := os.Getenv("VERIFICATION_WORKER_PORT")
	if port == "" {
		port = "8085"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(sweeper, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}), logger),
	}
	go func() {
		logrus.Infof("Verification worker starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start verification worker:", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("Graceful shutdown failed")
	}
}

func setupRouter(sweeper *Sweeper, metricsHandler http.Handler, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "verification-worker",
		})
	})

	// Sweep statistics endpoint
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"sweep_stats": sweeper.Stats(),
				"config": gin.H{
					"batch_size": sweeper.batchSize,
					"interval":   sweeper.interval.String(),
				},
			},
		})
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	return router
}

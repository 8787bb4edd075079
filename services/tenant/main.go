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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
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
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	identityConfig := config.GetIdentityConfig()
	authConfig := config.GetAuthConfig()

	// Initialize storage
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
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := identity.Options{Logger: logger, Metrics: metrics.NewRegistry(promRegistry)}

	// Initialize Kafka producer
	kafkaConfig := config.GetKafkaConfig("tenant-service")
	if kafkaConfig.Broker != "" {
		producer := events.NewProducer(events.ProducerConfig{
			Broker: kafkaConfig.Broker,
			Topic:  kafkaConfig.Topic,
		}, logger)
		defer producer.Close()
		opts.Publisher = producer
	} else {
		logger.Warn("KAFKA_BROKER not set, identity events will not be published")
	}

	svc := identity.NewService(st, resolver, buildAuthorizer(identityConfig, authConfig), identity.Config{
		RootDomain:    identityConfig.RootDomain,
		LookupTimeout: identityConfig.DNSTimeout,
	}, opts)

	// Initialize authentication middleware
	authMiddleware, err := middleware.NewAuthMiddleware(authConfig, logger)
	if err != nil {
		log.Fatal("Failed to initialize auth middleware:", err)
	}

	router, err := setupRouter(svc, authMiddleware, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		os.Getenv("INTERNAL_API_TOKEN"), logger)
	if err != nil {
		log.Fatal("Failed to set up router:", err)
	}

	// Start server
	port := os.Getenv("TENANT_SERVICE_PORT")
	if port == "" {
		port = "8002"
	}
	srv := &http.Server{Addr: ":" + port, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logrus.Infof("Tenant service starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start tenant service:", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down tenant service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Warn("Graceful shutdown failed")
	}
}

// buildAuthorizer combines the configured admin policies
func buildAuthorizer(identityConfig *config.IdentityConfig, authConfig *config.AuthConfig) identity.Authorizer {
	policies := []identity.Authorizer{identity.NewEmailAllowList(identityConfig.AdminEmails...)}
	if identityConfig.AdminRoleClaim {
		policies = append(policies, identity.RoleClaim{})
	}
	if identityConfig.AdminCognitoGroup != "" && authConfig.UserPoolID != "" {
		sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(authConfig.AWSRegion)}))
		policies = append(policies, identity.NewCognitoGroup(
			cognitoidentityprovider.New(sess),
			authConfig.UserPoolID,
			identityConfig.AdminCognitoGroup,
		))
	}
	return identity.AnyOf(policies...)
}

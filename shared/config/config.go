package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// IdentityConfig configures the identity workflows
type IdentityConfig struct {
	RootDomain        string
	AdminEmails       []string
	AdminCognitoGroup string
	// AdminRoleClaim trusts the custom:role token claim for admin access
	AdminRoleClaim   bool
	StoreDriver      string
	DNSMode          string
	DNSNameservers   []string
	DNSStaticRecords []string
	DNSTimeout       time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
}

// GetIdentityConfig reads the identity settings from the environment
func GetIdentityConfig() *IdentityConfig {
	return &IdentityConfig{
		RootDomain:        getEnv("ROOT_DOMAIN", "netqr.io"),
		AdminEmails:       getEnvList("ADMIN_EMAILS"),
		AdminCognitoGroup: getEnv("ADMIN_COGNITO_GROUP", ""),
		AdminRoleClaim:    getEnvBool("ADMIN_TRUST_ROLE_CLAIM", false),
		StoreDriver:       getEnv("STORE_DRIVER", "postgres"),
		DNSMode:           getEnv("DNS_MODE", "live"),
		DNSNameservers:    getEnvList("DNS_NAMESERVERS"),
		DNSStaticRecords:  getEnvList("DNS_STATIC_RECORDS"),
		DNSTimeout:        getEnvDuration("DNS_TIMEOUT", 5*time.Second),
		SweepInterval:     getEnvDuration("VERIFY_SWEEP_INTERVAL", 5*time.Minute),
		SweepBatchSize:    getEnvInt("VERIFY_SWEEP_BATCH", 100),
	}
}

// AuthConfig configures token validation
type AuthConfig struct {
	// JWTSecret enables HMAC-signed tokens, used in development
	JWTSecret string
	// JWKSURL enables RS256 tokens issued by Cognito
	JWKSURL    string
	AWSRegion  string
	UserPoolID string
}

// GetAuthConfig reads the token settings from the environment
func GetAuthConfig() *AuthConfig {
	cfg := &AuthConfig{
		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWKSURL:    getEnv("JWKS_URL", ""),
		AWSRegion:  getEnv("AWS_REGION", "us-east-1"),
		UserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
	}
	if cfg.JWKSURL == "" && cfg.UserPoolID != "" {
		cfg.JWKSURL = "https://cognito-idp." + cfg.AWSRegion + ".amazonaws.com/" + cfg.UserPoolID + "/.well-known/jwks.json"
	}
	return cfg
}

// RedisConfig configures the host cache
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	HostTTL  time.Duration
}

// GetRedisConfig reads the redis settings from the environment
func GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
		HostTTL:  getEnvDuration("HOST_CACHE_TTL", 5*time.Minute),
	}
}

// Addr returns host:port
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// KafkaConfig configures event publishing
type KafkaConfig struct {
	Broker  string
	Topic   string
	GroupID string
}

// GetKafkaConfig reads the kafka settings from the environment. An empty broker disables events.
func GetKafkaConfig(defaultGroup string) *KafkaConfig {
	return &KafkaConfig{
		Broker:  getEnv("KAFKA_BROKER", ""),
		Topic:   getEnv("KAFKA_TOPIC", "tenant-identity-events"),
		GroupID: getEnv("KAFKA_GROUP_ID", defaultGroup),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// SQS config (application-event intake)
	SQSRegion   string
	SQSQueueURL string

	// OneSignal credentials
	OneSignalAppID      string
	OneSignalRESTAPIKey string

	// VAPID triple for raw Web Push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDEmail      string

	// WonderPush credentials
	WonderPushAppID       string
	WonderPushAccessToken string

	// DispatchToken is the shared secret required in X-Dispatch-Token.
	// Empty disables the check (local development).
	DispatchToken string

	// ProviderTimeout bounds a single provider HTTP call, in seconds.
	ProviderTimeout int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "pushgate",
		DBPassword: "",
		DBName:     "pushgate",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		ProviderTimeout: 30,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = "us-east-1"
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Provider credentials. Missing values are not an error at load time:
	// each provider reports its own readiness per request, so a deployment
	// that only configures OneSignal still serves the OneSignal path.
	cfg.OneSignalAppID = os.Getenv("ONESIGNAL_APP_ID")
	cfg.OneSignalRESTAPIKey = os.Getenv("ONESIGNAL_REST_API_KEY")
	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	cfg.VAPIDEmail = os.Getenv("VAPID_EMAIL")
	cfg.WonderPushAppID = os.Getenv("WONDERPUSH_APP_ID")
	cfg.WonderPushAccessToken = os.Getenv("WONDERPUSH_ACCESS_TOKEN")

	cfg.DispatchToken = os.Getenv("DISPATCH_TOKEN")

	if timeout := os.Getenv("PROVIDER_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = t
	}

	return cfg, nil
}

// README: Config loader with env defaults for HTTP, DB, Redis, maps, auth, ride and dispatch settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type MatchingConfig struct {
	RadiusKm float64 `yaml:"radius_km" env:"RIDEFLOW_MATCH_RADIUS_KM" env-default:"3"`
	// MaxOffers caps how many candidates get the first offer; 0 offers every candidate.
	MaxOffers int `yaml:"max_offers" env:"RIDEFLOW_MATCH_MAX_OFFERS" env-default:"0"`
	// BroadcastDelay is how long a sampled dispatch waits before the offer is widened
	// to the remaining candidates.
	BroadcastDelay time.Duration `yaml:"broadcast_delay" env:"RIDEFLOW_MATCH_BROADCAST_DELAY" env-default:"30s"`
	TickSeconds    int           `yaml:"tick_seconds" env:"RIDEFLOW_MATCH_TICK" env-default:"3"`
}

type RideConfig struct {
	OTPLength    int           `yaml:"otp_length" env:"RIDEFLOW_OTP_LENGTH" env-default:"6"`
	PendingTTL   time.Duration `yaml:"pending_ttl" env:"RIDEFLOW_PENDING_TTL" env-default:"0s"`
	CancelPolicy string        `yaml:"cancel_policy" env:"RIDEFLOW_CANCEL_POLICY" env-default:"owner"`
	Currency     string        `yaml:"currency" env:"RIDEFLOW_CURRENCY" env-default:"INR"`
}

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr" env:"RIDEFLOW_HTTP_ADDR" env-default:":8080"`
	} `yaml:"http"`
	DB struct {
		// Empty DSN keeps rides in memory.
		DSN string `yaml:"dsn" env:"RIDEFLOW_DB_DSN"`
	} `yaml:"db"`
	Redis struct {
		// Empty address keeps driver locations and dispatch bookkeeping in memory.
		Addr     string `yaml:"addr" env:"RIDEFLOW_REDIS_ADDR"`
		Password string `yaml:"password" env:"RIDEFLOW_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"RIDEFLOW_REDIS_DB" env-default:"0"`
	} `yaml:"redis"`
	Maps struct {
		// Empty key switches to straight-line distances.
		APIKey   string  `yaml:"api_key" env:"RIDEFLOW_MAPS_API_KEY"`
		Region   string  `yaml:"region" env:"RIDEFLOW_MAPS_REGION" env-default:"in"`
		SpeedKmh float64 `yaml:"fallback_speed_kmh" env:"RIDEFLOW_MAPS_FALLBACK_SPEED_KMH" env-default:"30"`
	} `yaml:"maps"`
	Firebase struct {
		ProjectID       string `yaml:"project_id" env:"RIDEFLOW_FIREBASE_PROJECT_ID"`
		CredentialsFile string `yaml:"credentials_file" env:"RIDEFLOW_FIREBASE_CREDENTIALS"`
	} `yaml:"firebase"`
	Auth struct {
		// Mode is jwt or firebase.
		Mode      string `yaml:"mode" env:"RIDEFLOW_AUTH_MODE" env-default:"jwt"`
		JWTSecret string `yaml:"jwt_secret" env:"RIDEFLOW_JWT_SECRET"`
		JWTIssuer string `yaml:"jwt_issuer" env:"RIDEFLOW_JWT_ISSUER" env-default:"rideflow"`
	} `yaml:"auth"`
	Payment struct {
		KeyID     string `yaml:"key_id" env:"RIDEFLOW_PAYMENT_KEY_ID"`
		KeySecret string `yaml:"key_secret" env:"RIDEFLOW_PAYMENT_KEY_SECRET"`
		BaseURL   string `yaml:"base_url" env:"RIDEFLOW_PAYMENT_BASE_URL" env-default:"https://api.razorpay.com"`
	} `yaml:"payment"`
	Kafka struct {
		Brokers []string `yaml:"brokers" env:"RIDEFLOW_KAFKA_BROKERS" env-separator:","`
		Topic   string   `yaml:"topic" env:"RIDEFLOW_KAFKA_TOPIC" env-default:"ride-events"`
	} `yaml:"kafka"`
	Log struct {
		Level string `yaml:"level" env:"RIDEFLOW_LOG_LEVEL" env-default:"info"`
	} `yaml:"log"`
	Matching MatchingConfig `yaml:"matching"`
	Ride     RideConfig     `yaml:"ride"`
}

// Load reads RIDEFLOW_CONFIG when set, then lets environment variables override it.
func Load() (Config, error) {
	var cfg Config
	if path := os.Getenv("RIDEFLOW_CONFIG"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	return cfg, nil
}

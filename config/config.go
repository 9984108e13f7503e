package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type (
	APP struct {
		Name      string
		Host      string
		Port      string
		Env       string
		JWTSecret string
		// uploads per minute per owner
		UploadRateLimit int
	}
	DB struct {
		User     string
		Password string
		Name     string
		Host     string
		Port     string
	}
	S3 struct {
		Region          string
		AccessKeyID     string
		SecretAccessKey string
		Endpoint        string
		PublicBaseURL   string
		BucketPrivate   string
		BucketFallback  string
		BucketPublic    string
	}
	MQ struct {
		User         string
		Password     string
		Vhost        string
		Host         string
		AmqpPort     string
		Exchange     string
		ExchangeType string
		QueueName    string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Upload struct {
		MaxBytes        int64
		TargetBytes     int64
		FallbackBytes   int64
		MaxDimension    int
		RetryBase       time.Duration
		RetryMaxAttempt int
	}
	Access struct {
		SignedURLTTL   time.Duration
		CacheSize      int
		ReadRetries    int
		ReadRetryDelay time.Duration
	}
	Reconcile struct {
		Interval time.Duration
		Grace    time.Duration
	}

	Config struct {
		App       APP
		DB        DB
		S3        S3
		MQ        MQ
		Redis     Redis
		Upload    Upload
		Access    Access
		Reconcile Reconcile
	}
)

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	app := APP{
		Name:            getEnv("SERVICE_NAME", "assetpipeline"),
		Host:            getEnv("SERVICE_HOST", ""),
		Port:            getEnv("SERVICE_PORT", "8080"),
		Env:             getEnv("SERVICE_ENV", ""),
		JWTSecret:       getEnv("SERVICE_JWT_SECRET", ""),
		UploadRateLimit: getInt("SERVICE_UPLOAD_RATE_PER_MIN", 30),
	}
	db := DB{
		User:     getEnv("POSTGRES_USER", ""),
		Password: getEnv("POSTGRES_PASSWORD", ""),
		Name:     getEnv("POSTGRES_DB", ""),
		Host:     getEnv("POSTGRES_HOST", ""),
		Port:     getEnv("POSTGRES_PORT", ""),
	}
	s3 := S3{
		Region:          getEnv("S3_REGION", "us-east-1"),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		PublicBaseURL:   getEnv("S3_PUBLIC_BASE_URL", ""),
		BucketPrivate:   getEnv("S3_BUCKET_PRIVATE", "images"),
		BucketFallback:  getEnv("S3_BUCKET_FALLBACK", "images"),
		BucketPublic:    getEnv("S3_BUCKET_PUBLIC", "demo-images"),
	}
	mq := MQ{
		User:         getEnv("RABBITMQ_USER", ""),
		Password:     getEnv("RABBITMQ_PASSWORD", ""),
		Vhost:        getEnv("RABBITMQ_VHOST", ""),
		Host:         getEnv("RABBITMQ_HOST", ""),
		AmqpPort:     getEnv("RABBITMQ_AMQP_PORT", ""),
		Exchange:     getEnv("RABBITMQ_EXCHANGE", "assets"),
		ExchangeType: getEnv("RABBITMQ_EXCHANGE_TYPE", "direct"),
		QueueName:    getEnv("RABBITMQ_QUEUE_NAME", "asset-object-deletions"),
	}
	redis := Redis{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
	}
	upload := Upload{
		MaxBytes:        int64(getInt("UPLOAD_MAX_BYTES", 500*1024)),
		TargetBytes:     int64(getInt("UPLOAD_TARGET_BYTES", 20*1024)),
		FallbackBytes:   int64(getInt("UPLOAD_FALLBACK_BYTES", 30*1024)),
		MaxDimension:    getInt("UPLOAD_MAX_DIMENSION", 192),
		RetryBase:       getDuration("UPLOAD_RETRY_BASE", time.Second),
		RetryMaxAttempt: getInt("UPLOAD_RETRY_MAX_ATTEMPTS", 3),
	}
	access := Access{
		SignedURLTTL:   getDuration("ACCESS_SIGNED_URL_TTL", 24*time.Hour),
		CacheSize:      getInt("ACCESS_CACHE_SIZE", 10_000),
		ReadRetries:    getInt("ACCESS_READ_RETRIES", 2),
		ReadRetryDelay: getDuration("ACCESS_READ_RETRY_DELAY", 2*time.Second),
	}
	reconcile := Reconcile{
		Interval: getDuration("RECONCILE_INTERVAL", 15*time.Minute),
		Grace:    getDuration("RECONCILE_GRACE", time.Hour),
	}

	return Config{
		App:       app,
		DB:        db,
		S3:        s3,
		MQ:        mq,
		Redis:     redis,
		Upload:    upload,
		Access:    access,
		Reconcile: reconcile,
	}
}

func (c Config) DBDSN() (string, error) {
	if c.DB.User == "" || c.DB.Name == "" || c.DB.Host == "" || c.DB.Port == "" {
		return "", fmt.Errorf("incomplete DB config")
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(c.DB.User),
		url.QueryEscape(c.DB.Password),
		c.DB.Host,
		c.DB.Port,
		c.DB.Name,
	), nil
}

func (c Config) AMQPDSN() (string, error) {
	if c.MQ.User == "" || c.MQ.Host == "" || c.MQ.AmqpPort == "" {
		return "", fmt.Errorf("invalid MQ config: user, host and amqp port are required")
	}

	return fmt.Sprintf(
		"%s://%s@%s:%s/%s",
		"amqp",
		url.UserPassword(c.MQ.User, c.MQ.Password).String(),
		c.MQ.Host,
		c.MQ.AmqpPort,
		url.PathEscape(c.MQ.Vhost),
	), nil
}

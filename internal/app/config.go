package app

import (
	"time"

	"github.com/openregistry/tmbulk/internal/platform/envutil"
)

// Config is built once at startup and handed to each component at
// construction. Nothing reads ambient globals after this.
type Config struct {
	LogMode      string
	HTTPPort     string
	DownloadDir  string
	ManifestPath string

	BatchSize          int
	Workers            int
	MaxFileAttempts    int
	DecodeTolerance    int
	RowErrorTolerance  int
	StageParsedBatches bool

	BatchRetention  time.Duration
	StaleProcessing time.Duration
	RetryBackoff    time.Duration
	HTTPTimeout     time.Duration
}

func LoadConfig() Config {
	return Config{
		LogMode:      envutil.String("LOG_MODE", "development"),
		HTTPPort:     envutil.String("HTTP_PORT", "8080"),
		DownloadDir:  envutil.String("DOWNLOAD_DIR", "./bulkdata"),
		ManifestPath: envutil.String("PRODUCT_MANIFEST", "./products.yaml"),

		BatchSize:          envutil.Int("BATCH_SIZE", 10000),
		Workers:            envutil.Int("WORKERS", 2),
		MaxFileAttempts:    envutil.Int("MAX_FILE_ATTEMPTS", 3),
		DecodeTolerance:    envutil.Int("DECODE_TOLERANCE", 0),
		RowErrorTolerance:  envutil.Int("ROW_ERROR_TOLERANCE", 0),
		StageParsedBatches: envutil.Bool("STAGE_PARSED_BATCHES", false),

		BatchRetention:  envutil.Duration("BATCH_RETENTION", 7*24*time.Hour),
		StaleProcessing: envutil.Duration("STALE_PROCESSING_AFTER", 2*time.Hour),
		RetryBackoff:    envutil.Duration("RETRY_BACKOFF", 30*time.Second),
		HTTPTimeout:     envutil.Duration("HTTP_TIMEOUT", 60*time.Second),
	}
}

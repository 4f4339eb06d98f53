package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Inputs
	DealsFile        string
	FileMetadataDir  string
	PieceMetadataDir string
	ProvidersFile    string

	// Outputs
	OutputDir      string
	CheckpointPath string

	// Probe settings
	Concurrency    int
	BatchSize      int
	RequestTimeout time.Duration
	RateLimitRPS   float64

	// Probe policy
	ProbeNonActive bool // actually hit the network for pairs without an active deal
	CheckNoDeals   bool // re-check pairs previously recorded as "no active deal"
	Refresh        bool // back up and discard the checkpoint before probing
	PrepIDs        []string

	// Optional integrations
	DatabaseURL string // Postgres archive of runs; empty disables it
	StatusAddr  string // fiber status API listen address; empty disables it
}

func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DealsFile:        getEnv("DEALS_FILE", "./output/deals.json"),
		FileMetadataDir:  getEnv("FILE_METADATA_DIR", "./output/file-metadata"),
		PieceMetadataDir: getEnv("PIECE_METADATA_DIR", "./output/piece-metadata"),
		ProvidersFile:    getEnv("PROVIDERS_FILE", "./providers.json"),

		OutputDir:      getEnv("OUTPUT_DIR", "./output/retrieval-status"),
		CheckpointPath: getEnv("CHECKPOINT_PATH", ""),

		Concurrency:    getEnvAsInt("CONCURRENCY", 10),
		BatchSize:      getEnvAsInt("BATCH_SIZE", 100),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT", 30)) * time.Second,
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0),

		ProbeNonActive: getEnvAsBool("PROBE_NON_ACTIVE", false),
		CheckNoDeals:   getEnvAsBool("CHECK_NO_DEALS", false),
		Refresh:        getEnvAsBool("REFRESH", false),
		PrepIDs:        getEnvAsList("PREP_IDS"),

		DatabaseURL: getEnv("DB_URL", ""),
		StatusAddr:  getEnv("STATUS_ADDR", ""),
	}

	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = cfg.OutputDir + "/checkpoint.csv"
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("CONCURRENCY must be >= 1")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be >= 1")
	}

	return cfg, nil
}

// Provider is one entry of the provider registry file.
type Provider struct {
	Name              string `json:"name"`
	RetrievalEndpoint string `json:"retrieval_endpoint"`
}

// LoadProviders reads the provider registry: providerID -> {name, retrieval_endpoint}.
func LoadProviders(path string) (map[string]Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file %s: %w", path, err)
	}

	var providers map[string]Provider
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, fmt.Errorf("invalid providers file %s: %w", path, err)
	}

	for id, p := range providers {
		if p.RetrievalEndpoint == "" {
			return nil, fmt.Errorf("provider %s has no retrieval_endpoint", id)
		}
		p.RetrievalEndpoint = strings.TrimRight(p.RetrievalEndpoint, "/")
		providers[id] = p
	}
	return providers, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fluxsdk/pkg"
)

// MaxRetriesLimit bounds request.max_retries.
const MaxRetriesLimit = 100

// Config holds runtime and tool configuration.
type Config struct {
	RPC struct {
		Endpoints    []string `yaml:"endpoints"`
		WebSocket    string   `yaml:"websocket"`
		JitoEndpoint string   `yaml:"jito_endpoint"`
		RateLimit    int      `yaml:"rate_limit"`
		Commitment   string   `yaml:"commitment"`
		// DisablePush skips the websocket transport.
		DisablePush  bool     `yaml:"disable_push"`
	} `yaml:"rpc"`
	Program struct {
		ID string `yaml:"id"`
	} `yaml:"program"`
	Request struct {
		MaxRetries int           `yaml:"max_retries"`
		Timeout    time.Duration `yaml:"timeout"`
		Backoff    time.Duration `yaml:"backoff"`
		UseCache   bool          `yaml:"use_cache"`
		Coalesce   bool          `yaml:"coalesce"`
	} `yaml:"request"`
	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Transaction struct {
		ComputeUnitLimit uint32 `yaml:"compute_unit_limit"`
		PriorityFee      uint64 `yaml:"priority_fee"`
	} `yaml:"transaction"`
	Service struct {
		Listen string   `yaml:"listen"`
		Watch  []string `yaml:"watch"`
	} `yaml:"service"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if endpoints := GetRPCEndpoints(); len(endpoints) > 0 {
		c.RPC.Endpoints = endpoints
	}
	if v := os.Getenv("WS_ENDPOINT"); v != "" {
		c.RPC.WebSocket = v
	}
	if v := os.Getenv("JITO_ENDPOINT"); v != "" {
		c.RPC.JitoEndpoint = v
	}
	if v := os.Getenv("FLUX_PROGRAM_ID"); v != "" {
		c.Program.ID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FLUX_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLUX_MAX_RETRIES: %w", err)
		}
		c.Request.MaxRetries = n
	}
	if v := os.Getenv("FLUX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLUX_TIMEOUT: %w", err)
		}
		c.Request.Timeout = d
	}
	if v := os.Getenv("FLUX_USE_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLUX_USE_CACHE: %w", err)
		}
		c.Request.UseCache = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RPC.RateLimit == 0 {
		c.RPC.RateLimit = 20
	}
	if c.RPC.Commitment == "" {
		c.RPC.Commitment = string(rpc.CommitmentConfirmed)
	}
	if c.Program.ID == "" {
		c.Program.ID = pkg.FluxCoreProgramID.String()
	}
	if c.Request.MaxRetries == 0 {
		c.Request.MaxRetries = 5
	}
	if c.Request.Timeout == 0 {
		c.Request.Timeout = 5 * time.Second
	}
	if c.Request.Backoff == 0 {
		c.Request.Backoff = time.Second
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.Transaction.ComputeUnitLimit == 0 {
		c.Transaction.ComputeUnitLimit = 200_000
	}
	if c.Transaction.PriorityFee == 0 {
		c.Transaction.PriorityFee = 1000
	}
	if c.Service.Listen == "" {
		c.Service.Listen = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("rpc.endpoints is required (or set RPC_ENDPOINTS)")
	}
	switch rpc.CommitmentType(c.RPC.Commitment) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("rpc.commitment %q is not processed, confirmed or finalized", c.RPC.Commitment)
	}
	if _, err := solana.PublicKeyFromBase58(c.Program.ID); err != nil {
		return fmt.Errorf("program.id: %w", err)
	}
	if c.Request.MaxRetries < 1 || c.Request.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("request.max_retries must be between 1 and %d", MaxRetriesLimit)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("request.timeout must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	for _, addr := range c.Service.Watch {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("service.watch %q: %w", addr, err)
		}
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ProgramID returns the parsed program id. Call Validate first.
func (c *Config) ProgramID() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Program.ID)
}

// WebSocketEndpoint is the configured websocket URL or one derived from the
// first RPC endpoint. It is empty when push is disabled.
func (c *Config) WebSocketEndpoint() string {
	if c.RPC.DisablePush {
		return ""
	}
	if c.RPC.WebSocket != "" || len(c.RPC.Endpoints) == 0 {
		return c.RPC.WebSocket
	}
	return httpToWs(c.RPC.Endpoints[0])
}

// NewLogger builds the process logger from the log section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

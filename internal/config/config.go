// Package config loads the Bmail client configuration from a TOML or YAML
// file, dotenv files and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/praveen5665/bmail/internal/api"
	"github.com/praveen5665/bmail/internal/log"
)

const (
	defaultFetchConcurrency    = 8
	defaultHTTPTimeout         = 30 * time.Second
	defaultRetries             = 3
	defaultCallTimeout         = 15 * time.Second
	defaultReceiptTimeout      = 2 * time.Minute
	defaultReceiptPollInterval = time.Second
	defaultGatewayRPS          = 5
	defaultLogLevel            = "NOTICE"

	PinnerPinata = "pinata"
	PinnerKubo   = "kubo"
)

// DefaultEnvFiles are the dotenv files read by Environment when none are named.
var DefaultEnvFiles = []string{".env.local", ".env"}

// Ledger is the EmailStorage contract configuration.
type Ledger struct {
	RPCURL                 string        `yaml:"rpcURL"`
	ContractAddress        string        `yaml:"contractAddress"`
	StakingContractAddress string        `yaml:"stakingContractAddress"`
	SigningKey             string        `yaml:"signingKey"`
	ChainID                int64         `yaml:"chainID"`
	CallTimeout            time.Duration `yaml:"callTimeout"`
	ReceiptTimeout         time.Duration `yaml:"receiptTimeout"`
	ReceiptPollInterval    time.Duration `yaml:"receiptPollInterval"`
}

// Content is the IPFS configuration.
type Content struct {
	// Pinner is "pinata" or "kubo".
	Pinner     string   `yaml:"pinner"`
	PinataJWT  string   `yaml:"pinataJWT"`
	PinningURL string   `yaml:"pinningURL"`
	KuboAPI    string   `yaml:"kuboAPI"`
	Gateways   []string `yaml:"gateways"`
	GatewayRPS float64  `yaml:"gatewayRPS"`
}

// Directory is the identity directory configuration.
type Directory struct {
	URL string `yaml:"url"`
}

// KeyStore is the local key store configuration.
type KeyStore struct {
	DataDir string `yaml:"dataDir"`
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool `yaml:"disable"`

	// File specifies the log file, if omitted stdout will be used.
	File string `yaml:"file"`

	// Level specifies the log level.
	Level string `yaml:"level"`
}

// Metrics is the Prometheus endpoint configuration.
type Metrics struct {
	// Address to serve /metrics on. Empty disables the endpoint.
	Address string `yaml:"address"`
}

// Config is the top level client configuration.
type Config struct {
	Identity         string        `yaml:"identity"`
	FetchConcurrency int           `yaml:"fetchConcurrency"`
	HTTPTimeout      time.Duration `yaml:"httpTimeout"`
	Retries          int           `yaml:"retries"`

	Ledger    *Ledger    `yaml:"ledger"`
	Content   *Content   `yaml:"content"`
	Directory *Directory `yaml:"directory"`
	KeyStore  *KeyStore  `yaml:"keyStore"`
	Logging   *Logging   `yaml:"logging"`
	Metrics   *Metrics   `yaml:"metrics"`
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	cfg := new(Config)
	cfg.fixup()
	return cfg
}

func (c *Config) fixup() {
	if c.Ledger == nil {
		c.Ledger = &Ledger{}
	}
	if c.Content == nil {
		c.Content = &Content{}
	}
	if c.Directory == nil {
		c.Directory = &Directory{}
	}
	if c.KeyStore == nil {
		c.KeyStore = &KeyStore{}
	}
	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}

	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = defaultFetchConcurrency
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.Retries == 0 {
		c.Retries = defaultRetries
	}

	if c.Ledger.CallTimeout <= 0 {
		c.Ledger.CallTimeout = defaultCallTimeout
	}
	if c.Ledger.ReceiptTimeout <= 0 {
		c.Ledger.ReceiptTimeout = defaultReceiptTimeout
	}
	if c.Ledger.ReceiptPollInterval <= 0 {
		c.Ledger.ReceiptPollInterval = defaultReceiptPollInterval
	}

	c.Content.Pinner = strings.ToLower(strings.TrimSpace(c.Content.Pinner))
	if c.Content.Pinner == "" {
		c.Content.Pinner = PinnerPinata
	}
	if c.Content.GatewayRPS == 0 {
		c.Content.GatewayRPS = defaultGatewayRPS
	}

	if c.KeyStore.DataDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.KeyStore.DataDir = filepath.Join(dir, "bmail")
		} else {
			c.KeyStore.DataDir = ".bmail"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// FixupAndValidate applies defaults to unset fields and returns an error
// if the configuration is unusable.
func (c *Config) FixupAndValidate() error {
	c.fixup()

	if c.Identity == "" {
		return errors.New("config: Identity is not set")
	}
	if a := c.Ledger.ContractAddress; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("config: Ledger: ContractAddress '%v' is not an address", a)
	}
	if a := c.Ledger.StakingContractAddress; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("config: Ledger: StakingContractAddress '%v' is not an address", a)
	}
	if c.Ledger.ChainID < 0 {
		return fmt.Errorf("config: Ledger: ChainID %d is negative", c.Ledger.ChainID)
	}

	switch c.Content.Pinner {
	case PinnerPinata:
	case PinnerKubo:
		if c.Content.KuboAPI == "" {
			return errors.New("config: Content: KuboAPI is required for the kubo pinner")
		}
	default:
		return fmt.Errorf("config: Content: unknown Pinner '%v'", c.Content.Pinner)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", c.Logging.Level)
	}
	if !c.Logging.Disable && c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		return fmt.Errorf("config: Logging: File '%v' is not an absolute path", c.Logging.File)
	}
	return nil
}

// RetryConfig returns the retry policy for idempotent reads. A negative
// Retries disables retrying.
func (c *Config) RetryConfig() *api.RetryConfig {
	if c.Retries < 0 {
		return api.NoRetry()
	}
	rc := api.DefaultRetryConfig()
	rc.MaxRetries = c.Retries
	return rc
}

// InitLogBackend returns a log backend built from the Logging section.
func (c *Config) InitLogBackend() (*log.Backend, error) {
	return log.New(c.Logging.File, c.Logging.Level, c.Logging.Disable)
}

// Load parses b as TOML, or as YAML when yamlFormat is set, applies env
// overrides from lookup and validates the result. A nil lookup skips
// overrides.
func Load(b []byte, yamlFormat bool, lookup LookupFunc) (*Config, error) {
	cfg := new(Config)
	if yamlFormat {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	} else {
		md, err := toml.Decode(string(b), cfg)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
		}
	}

	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the file at f. Files ending in .yaml or .yml are YAML,
// anything else is TOML.
func LoadFile(f string, lookup LookupFunc) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(f))
	return Load(b, ext == ".yaml" || ext == ".yml", lookup)
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// Environment returns a LookupFunc over the process environment, falling
// back to values from the named dotenv files (DefaultEnvFiles when none are
// given). Missing files are skipped; earlier files win over later ones.
func Environment(files ...string) (LookupFunc, error) {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}

	dotenv := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

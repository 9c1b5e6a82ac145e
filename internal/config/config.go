// Package config loads offchain tool settings from a YAML file and OFFCHAIN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"offchain-exchange/go-backend/internal/identity"
	"offchain-exchange/go-backend/internal/retry"
)

const (
	StorageModeLocal = "local"
	StorageModeHTTP  = "http"
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	ChainID      int64            `yaml:"chainId"`
	Self         string           `yaml:"self"`
	Signer       string           `yaml:"signer"`
	RootCacheTTL time.Duration    `yaml:"rootCacheTTL"`
	Log          LogConfig        `yaml:"log"`
	Wallet       WalletConfig     `yaml:"wallet"`
	Storage      StorageConfig    `yaml:"storage"`
	Retry        RetryConfig      `yaml:"retry"`
	Directory    []DirectoryEntry `yaml:"directory"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WalletConfig struct {
	Keyfile    string `yaml:"keyfile"`
	Passphrase string `yaml:"passphrase"`
}

type StorageConfig struct {
	Mode        string        `yaml:"mode"`
	Root        string        `yaml:"root"`
	LocalDir    string        `yaml:"localDir"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBlobSize int64         `yaml:"maxBlobSize"`
	RateLimit   float64       `yaml:"rateLimit"`
	RateBurst   int           `yaml:"rateBurst"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Factor      float64       `yaml:"factor"`
	JitterRatio float64       `yaml:"jitterRatio"`
}

// DirectoryEntry stands in for the on-ledger account record of one identity.
type DirectoryEntry struct {
	Address           string `yaml:"address"`
	MetadataURL       string `yaml:"metadataURL"`
	DataEncryptionKey string `yaml:"dataEncryptionKey"`
}

func Default() Config {
	p := retry.Default()
	return Config{
		ChainID:      44787,
		RootCacheTTL: time.Minute,
		Log:          LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Mode:      StorageModeLocal,
			LocalDir:  "offchain-data",
			Timeout:   10 * time.Second,
			RateLimit: 20,
			RateBurst: 40,
		},
		Retry: RetryConfig{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseDelay,
			MaxDelay:    p.MaxDelay,
			Factor:      p.Factor,
			JitterRatio: p.JitterRatio,
		},
	}
}

// LoadFromPath reads configPath, or the first default location that exists, over the
// defaults and applies environment overrides. A missing file is not an error.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{"offchain.yaml", "configs/offchain.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) && configPath == "" {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge copies every non-zero field of src over dst. Directory entries are appended.
func Merge(dst *Config, src Config) {
	if src.ChainID != 0 {
		dst.ChainID = src.ChainID
	}
	if src.Self != "" {
		dst.Self = src.Self
	}
	if src.Signer != "" {
		dst.Signer = src.Signer
	}
	if src.RootCacheTTL != 0 {
		dst.RootCacheTTL = src.RootCacheTTL
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Wallet.Keyfile != "" {
		dst.Wallet.Keyfile = src.Wallet.Keyfile
	}
	if src.Wallet.Passphrase != "" {
		dst.Wallet.Passphrase = src.Wallet.Passphrase
	}
	if src.Storage.Mode != "" {
		dst.Storage.Mode = src.Storage.Mode
	}
	if src.Storage.Root != "" {
		dst.Storage.Root = src.Storage.Root
	}
	if src.Storage.LocalDir != "" {
		dst.Storage.LocalDir = src.Storage.LocalDir
	}
	if src.Storage.Timeout != 0 {
		dst.Storage.Timeout = src.Storage.Timeout
	}
	if src.Storage.MaxBlobSize != 0 {
		dst.Storage.MaxBlobSize = src.Storage.MaxBlobSize
	}
	if src.Storage.RateLimit != 0 {
		dst.Storage.RateLimit = src.Storage.RateLimit
	}
	if src.Storage.RateBurst != 0 {
		dst.Storage.RateBurst = src.Storage.RateBurst
	}
	if src.Retry.MaxAttempts != 0 {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.BaseDelay != 0 {
		dst.Retry.BaseDelay = src.Retry.BaseDelay
	}
	if src.Retry.MaxDelay != 0 {
		dst.Retry.MaxDelay = src.Retry.MaxDelay
	}
	if src.Retry.Factor != 0 {
		dst.Retry.Factor = src.Retry.Factor
	}
	if src.Retry.JitterRatio != 0 {
		dst.Retry.JitterRatio = src.Retry.JitterRatio
	}
	dst.Directory = append(dst.Directory, src.Directory...)
}

func ApplyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"OFFCHAIN_SELF":              &cfg.Self,
		"OFFCHAIN_SIGNER":            &cfg.Signer,
		"OFFCHAIN_LOG_LEVEL":         &cfg.Log.Level,
		"OFFCHAIN_LOG_FORMAT":        &cfg.Log.Format,
		"OFFCHAIN_WALLET_KEYFILE":    &cfg.Wallet.Keyfile,
		"OFFCHAIN_WALLET_PASSPHRASE": &cfg.Wallet.Passphrase,
		"OFFCHAIN_STORAGE_MODE":      &cfg.Storage.Mode,
		"OFFCHAIN_STORAGE_ROOT":      &cfg.Storage.Root,
		"OFFCHAIN_LOCAL_DIR":         &cfg.Storage.LocalDir,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	raw := strings.TrimSpace(os.Getenv("OFFCHAIN_CHAIN_ID"))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: OFFCHAIN_CHAIN_ID: %v", ErrInvalidConfig, err)
	}
	cfg.ChainID = id
	return nil
}

func (c Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("%w: chainId must be positive", ErrInvalidConfig)
	}
	for name, addr := range map[string]string{"self": c.Self, "signer": c.Signer} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s %q is not an address", ErrInvalidConfig, name, addr)
		}
	}
	switch c.Storage.Mode {
	case StorageModeLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("%w: storage.localDir is required in local mode", ErrInvalidConfig)
		}
	case StorageModeHTTP:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return fmt.Errorf("%w: storage.root is required in http mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage mode %q", ErrInvalidConfig, c.Storage.Mode)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry.maxAttempts must not be negative", ErrInvalidConfig)
	}
	if _, err := c.DirectoryEntries(); err != nil {
		return err
	}
	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Factor:      c.Retry.Factor,
		JitterRatio: c.Retry.JitterRatio,
	}.Normalize()
}

func (c Config) DirectoryEntries() ([]identity.Entry, error) {
	out := make([]identity.Entry, 0, len(c.Directory))
	for i, d := range c.Directory {
		e, err := identity.ParseEntry(d.Address, d.MetadataURL, d.DataEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: directory[%d]: %v", ErrInvalidConfig, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// SelfAddress returns the configured account, if any.
func (c Config) SelfAddress() (common.Address, bool) {
	if !common.IsHexAddress(c.Self) {
		return common.Address{}, false
	}
	return common.HexToAddress(c.Self), true
}

func (c Config) SignerAddress() (common.Address, bool) {
	if !common.IsHexAddress(c.Signer) {
		return common.Address{}, false
	}
	return common.HexToAddress(c.Signer), true
}

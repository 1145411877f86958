package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/types"
)

const (
	FileName  = "config.toml"
	EnvPrefix = "PROVER"

	DefaultNetwork         = "sepolia"
	DefaultContractAddress = "0x05CC789E47E69a5896C8798c4C85238F4Ca5A732"
	DefaultHDPath          = "m/44'/60'/0'/0/0"
)

// Config is the daemon configuration. It is loaded once and passed explicitly.
type Config struct {
	Home string `toml:"-" mapstructure:"-"`

	Chain     ChainConfig     `toml:"chain" mapstructure:"chain"`
	Contract  ContractConfig  `toml:"contract" mapstructure:"contract"`
	Key       KeyConfig       `toml:"key" mapstructure:"key"`
	Gas       GasConfig       `toml:"gas" mapstructure:"gas"`
	Worker    WorkerConfig    `toml:"worker" mapstructure:"worker"`
	Confirm   ConfirmConfig   `toml:"confirm" mapstructure:"confirm"`
	Reconnect ReconnectConfig `toml:"reconnect" mapstructure:"reconnect"`
	Status    StatusConfig    `toml:"status" mapstructure:"status"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
}

type ChainConfig struct {
	Network  string `toml:"network" mapstructure:"network"`
	Endpoint string `toml:"endpoint" mapstructure:"endpoint"`
	// ChainID overrides the id reported by the node when non-zero.
	ChainID uint64 `toml:"chain_id" mapstructure:"chain_id"`
}

type ContractConfig struct {
	Address string `toml:"address" mapstructure:"address"`
	ABIPath string `toml:"abi_path" mapstructure:"abi_path"`
	// FilterAddress restricts the subscription to Address. When false every
	// emitter of the event is heard and foreign requests resolve to NotFound.
	FilterAddress bool `toml:"filter_address" mapstructure:"filter_address"`
}

type KeyConfig struct {
	PrivateKey string `toml:"private_key" mapstructure:"private_key"`
	Mnemonic   string `toml:"mnemonic" mapstructure:"mnemonic"`
	HDPath     string `toml:"hd_path" mapstructure:"hd_path"`
}

type GasConfig struct {
	Limit    uint64 `toml:"limit" mapstructure:"limit"`
	Price    string `toml:"price" mapstructure:"price"`
	Estimate bool   `toml:"estimate" mapstructure:"estimate"`
}

type WorkerConfig struct {
	Count     int `toml:"count" mapstructure:"count"`
	QueueSize int `toml:"queue_size" mapstructure:"queue_size"`
}

type ConfirmConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	PollInterval Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	Timeout      Duration `toml:"timeout" mapstructure:"timeout"`
}

type ReconnectConfig struct {
	InitialInterval Duration `toml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval" mapstructure:"max_interval"`
	// MaxElapsed of zero retries forever.
	MaxElapsed Duration `toml:"max_elapsed" mapstructure:"max_elapsed"`
}

type StatusConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	JSON  bool   `toml:"json" mapstructure:"json"`
}

// Duration is a time.Duration written as "5s" in the config file.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration written on first start.
func Default(home string) *Config {
	return &Config{
		Home: home,
		Chain: ChainConfig{
			Network:  DefaultNetwork,
			Endpoint: "ws://localhost:8546",
		},
		Contract: ContractConfig{
			Address:       DefaultContractAddress,
			FilterAddress: true,
		},
		Key: KeyConfig{
			HDPath: DefaultHDPath,
		},
		Gas: GasConfig{
			Limit: 3000000,
			Price: "100000000000",
		},
		Worker: WorkerConfig{
			Count:     4,
			QueueSize: 1 << 10,
		},
		Confirm: ConfirmConfig{
			Enabled:      true,
			PollInterval: Duration(5 * time.Second),
			Timeout:      Duration(5 * time.Minute),
		},
		Reconnect: ReconnectConfig{
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(time.Minute),
		},
		Status: StatusConfig{
			Listen: "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultHome is ~/.proverd.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proverd"
	}

	return filepath.Join(home, ".proverd")
}

// Load reads <home>/config.toml, creating it with defaults if missing, and applies
// environment overrides.
func Load(home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	path := filepath.Join(home, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(home); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// legacy variable names
	if err := v.BindEnv("chain.endpoint", EnvPrefix+"_CHAIN_ENDPOINT", "SEPOLIA_WEBSOCKET"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("key.private_key", EnvPrefix+"_KEY_PRIVATE_KEY", "PRIVATE_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default(home)
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Home = home

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infof("Loaded config from %s", path)

	return cfg, nil
}

// WriteDefault writes the default config file into home.
func WriteDefault(home string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", home, err)
	}

	data, err := toml.Marshal(Default(home))
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	path := filepath.Join(home, FileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "chain endpoint is required")
	}

	if !common.IsHexAddress(c.Contract.Address) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "invalid contract address %q", c.Contract.Address)
	}

	if c.Key.PrivateKey == "" && c.Key.Mnemonic == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "private key or mnemonic is required")
	}

	if c.Gas.Limit == 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "gas limit is required")
	}

	if _, err := c.GasPrice(); err != nil {
		return err
	}

	if c.Worker.Count <= 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "worker count must be positive, got %d", c.Worker.Count)
	}

	if c.Worker.QueueSize < 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "worker queue size must not be negative, got %d", c.Worker.QueueSize)
	}

	if c.Confirm.Enabled && c.Confirm.PollInterval <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "confirm poll interval must be positive")
	}

	if c.Confirm.Enabled && c.Confirm.Timeout <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "confirm timeout must be positive")
	}

	if c.Reconnect.InitialInterval <= 0 || c.Reconnect.MaxInterval <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "reconnect intervals must be positive")
	}

	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "reconnect max interval %s is below the initial interval %s",
			c.Reconnect.MaxInterval.Std(), c.Reconnect.InitialInterval.Std())
	}

	if c.Reconnect.MaxElapsed < 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "reconnect max elapsed must not be negative")
	}

	return nil
}

// GasPrice parses the configured gas price in wei.
func (c *Config) GasPrice() (*big.Int, error) {
	price, ok := new(big.Int).SetString(c.Gas.Price, 10)
	if !ok || price.Sign() <= 0 {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "invalid gas price %q", c.Gas.Price)
	}

	return price, nil
}

// ContractAddress is the marketplace address as a checksummed address.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract.Address)
}

// Print logs the effective configuration with secrets left out.
func (c *Config) Print() {
	log.Infof("%-17s: %s", "Home", c.Home)
	log.Infof("%-17s: %s", "Network", c.Chain.Network)
	log.Infof("%-17s: %s", "Endpoint", redactURL(c.Chain.Endpoint))
	log.Infof("%-17s: %s", "Contract", c.Contract.Address)
	log.Infof("%-17s: %s", "Signer Source", c.keySource())
	log.Infof("%-17s: %d", "Gas Limit", c.Gas.Limit)
	log.Infof("%-17s: %s wei", "Gas Price", c.Gas.Price)
	log.Infof("%-17s: %t", "Gas Estimate", c.Gas.Estimate)
	log.Infof("%-17s: %d", "Workers", c.Worker.Count)
	log.Infof("%-17s: %t", "Confirm", c.Confirm.Enabled)
	log.Infof("%-17s: %s", "Status Listen", c.Status.Listen)
}

func (c *Config) keySource() string {
	if c.Key.PrivateKey != "" {
		return "private_key"
	}

	return "mnemonic " + c.Key.HDPath
}

// redactURL hides API keys commonly embedded in the endpoint path.
func redactURL(endpoint string) string {
	idx := strings.Index(endpoint, "://")
	if idx < 0 {
		return endpoint
	}

	rest := endpoint[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 && slash < len(rest)-1 {
		return endpoint[:idx+3] + rest[:slash] + "/***"
	}

	return endpoint
}

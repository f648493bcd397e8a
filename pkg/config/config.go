package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	ChainDriverEVM    = "evm"
	ChainDriverMemory = "memory"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Chain struct {
		Driver          string `mapstructure:"DRIVER"`
		RPCURL          string `mapstructure:"RPC_URL"`
		ChainID         int64  `mapstructure:"CHAIN_ID"`
		ContractAddress string `mapstructure:"CONTRACT_ADDRESS"`
		PrivateKey      string `mapstructure:"PRIVATE_KEY"`
		ReadRetries     uint64 `mapstructure:"READ_RETRIES"`
	} `mapstructure:"CHAIN"`
	Award struct {
		CatalogPath      string        `mapstructure:"CATALOG_PATH"`
		AddressNamespace string        `mapstructure:"ADDRESS_NAMESPACE"`
		TransferTimeout  time.Duration `mapstructure:"TRANSFER_TIMEOUT"`
	} `mapstructure:"AWARD"`
	Reconcile struct {
		Enable     bool          `mapstructure:"ENABLE"`
		Interval   time.Duration `mapstructure:"INTERVAL"`
		StaleAfter time.Duration `mapstructure:"STALE_AFTER"`
		BatchSize  int           `mapstructure:"BATCH_SIZE"`
		MaxRetry   int           `mapstructure:"MAX_RETRY"`
	} `mapstructure:"RECONCILE"`
	SnowflakeNode int64 `mapstructure:"SNOWFLAKE_NODE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	return Load(".")
}

// Load reads config.yaml from the given search paths and overlays
// environment variables (HTTP_SERVER.ADDR -> HTTP_SERVER_ADDR). A .env file
// next to config.yaml is loaded into the environment first without
// overriding variables that are already set. A missing config file is not an
// error; every key has a default.
func Load(paths ...string) (*Config, error) {
	for _, p := range paths {
		envFile := filepath.Join(p, ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "encoin-rewards")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 3*time.Minute)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "encoin")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 5*time.Minute)

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)

	v.SetDefault("CHAIN.DRIVER", ChainDriverEVM)
	v.SetDefault("CHAIN.RPC_URL", "")
	v.SetDefault("CHAIN.CHAIN_ID", 0)
	v.SetDefault("CHAIN.CONTRACT_ADDRESS", "")
	v.SetDefault("CHAIN.PRIVATE_KEY", "")
	v.SetDefault("CHAIN.READ_RETRIES", 3)

	v.SetDefault("AWARD.CATALOG_PATH", "award-table.json")
	v.SetDefault("AWARD.ADDRESS_NAMESPACE", "ENERGENIUS")
	v.SetDefault("AWARD.TRANSFER_TIMEOUT", 2*time.Minute)

	v.SetDefault("RECONCILE.ENABLE", true)
	v.SetDefault("RECONCILE.INTERVAL", time.Minute)
	v.SetDefault("RECONCILE.STALE_AFTER", 10*time.Minute)
	v.SetDefault("RECONCILE.BATCH_SIZE", 100)
	v.SetDefault("RECONCILE.MAX_RETRY", 5)

	v.SetDefault("SNOWFLAKE_NODE", 1)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Chain.Driver {
	case ChainDriverEVM:
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			return errors.New("CHAIN.RPC_URL is not set")
		}
		if c.Chain.ChainID <= 0 {
			return errors.New("CHAIN.CHAIN_ID is not set")
		}
		if strings.TrimSpace(c.Chain.ContractAddress) == "" {
			return errors.New("CHAIN.CONTRACT_ADDRESS is not set")
		}
		if strings.TrimSpace(c.Chain.PrivateKey) == "" {
			return errors.New("CHAIN.PRIVATE_KEY is not set")
		}
	case ChainDriverMemory:
	default:
		return fmt.Errorf("unsupported CHAIN.DRIVER %q", c.Chain.Driver)
	}

	if strings.TrimSpace(c.Award.AddressNamespace) == "" {
		return errors.New("AWARD.ADDRESS_NAMESPACE is not set")
	}
	if c.Award.TransferTimeout <= 0 {
		return errors.New("AWARD.TRANSFER_TIMEOUT must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

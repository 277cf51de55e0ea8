package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	DB            DBConfig            `mapstructure:"db"`
	Chain         ChainConfig         `mapstructure:"chain"`
	Executor      ExecutorConfig      `mapstructure:"executor"`
	AutoHedge     AutoHedgeConfig     `mapstructure:"auto_hedge"`
	AutoRebalance AutoRebalanceConfig `mapstructure:"auto_rebalance"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// ChainConfig bounds access to the shared settlement RPC endpoint.
type ChainConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryJitter    time.Duration `mapstructure:"retry_jitter"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

type ExecutorConfig struct {
	Mode        string        `mapstructure:"mode"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type AutoHedgeConfig struct {
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	OracleTimeout    time.Duration `mapstructure:"oracle_timeout"`
	DefaultMaxLev    int           `mapstructure:"default_max_leverage"`
	BaseCollateral   float64       `mapstructure:"base_collateral"`
	DefaultHedgeSide string        `mapstructure:"default_hedge_side"`
}

type AutoRebalanceConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

type MonitorConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	MaxWorkers            int           `mapstructure:"max_workers"`
	PendingTimeout        time.Duration `mapstructure:"pending_timeout"`
	StopLossPct           float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct         float64       `mapstructure:"take_profit_pct"`
	TrailingActivationPct float64       `mapstructure:"trailing_activation_pct"`
	TrailingDistancePct   float64       `mapstructure:"trailing_distance_pct"`
	EmergencyMovePct      float64       `mapstructure:"emergency_move_pct"`
	CriticalPnLPct        float64       `mapstructure:"critical_pnl_pct"`
	TriggerSecret         string        `mapstructure:"trigger_secret"`
	CronSpec              string        `mapstructure:"cron_spec"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("chain.max_concurrency", 3)
	v.SetDefault("chain.cache_ttl", "30s")
	v.SetDefault("chain.max_retries", 3)
	v.SetDefault("chain.retry_base", "500ms")
	v.SetDefault("chain.retry_jitter", "200ms")
	v.SetDefault("chain.call_timeout", "15s")

	v.SetDefault("executor.mode", "live")
	v.SetDefault("executor.call_timeout", "20s")

	v.SetDefault("auto_hedge.scan_interval", "1m")
	v.SetDefault("auto_hedge.oracle_timeout", "10s")
	v.SetDefault("auto_hedge.default_max_leverage", 10)
	v.SetDefault("auto_hedge.base_collateral", 1000)
	v.SetDefault("auto_hedge.default_hedge_side", "SHORT")

	v.SetDefault("auto_rebalance.scan_interval", "5m")

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.max_workers", 8)
	v.SetDefault("monitor.pending_timeout", "10m")
	v.SetDefault("monitor.stop_loss_pct", 5)
	v.SetDefault("monitor.take_profit_pct", 15)
	v.SetDefault("monitor.trailing_activation_pct", 5)
	v.SetDefault("monitor.trailing_distance_pct", 2)
	v.SetDefault("monitor.emergency_move_pct", 10)
	v.SetDefault("monitor.critical_pnl_pct", -3)
	v.SetDefault("monitor.cron_spec", "@every 30s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Package config loads service configuration from a YAML file and
// SPEND_APPROVALS_* environment variables via Viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration tree.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Escalation EscalationConfig `mapstructure:"escalation"`
}

// ServiceConfig identifies the service in logs and events.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds pgx pool settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
}

// NATSConfig holds the notification broker settings. An empty URL disables
// publishing entirely (useful in tests and local development).
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LedgerConfig points at the external ledger-posting service.
type LedgerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// CashAccountID is the GL account expense payments are posted against.
	CashAccountID string `mapstructure:"cash_account_id"`
}

// ApprovalConfig carries the routing thresholds. Amounts are whole currency
// units, matching the item records.
type ApprovalConfig struct {
	// AutoApproveFloor: items strictly below this amount are approved on
	// submission with no approval rows.
	AutoApproveFloor int64 `mapstructure:"auto_approve_floor"`
	// OneLevelCeiling / TwoLevelCeiling bound the 1- and 2-level bands;
	// anything above TwoLevelCeiling routes through all three levels.
	OneLevelCeiling int64 `mapstructure:"one_level_ceiling"`
	TwoLevelCeiling int64 `mapstructure:"two_level_ceiling"`
	// RequiredPerLevel is the number of approvals needed at each level.
	RequiredPerLevel int `mapstructure:"required_per_level"`
	// MaxApproversPerLevel caps how many role holders are assigned per level.
	MaxApproversPerLevel int `mapstructure:"max_approvers_per_level"`
	// EstimatedDaysPerLevel feeds the advisory route ETA.
	EstimatedDaysPerLevel float64 `mapstructure:"estimated_days_per_level"`
	// LegacyRoleLimit is the approval ceiling for holders of a legacy role
	// with no custom role configured.
	LegacyRoleLimit int64 `mapstructure:"legacy_role_limit"`
}

// EscalationConfig carries the age cutoffs for the escalation scanner.
type EscalationConfig struct {
	DefaultDaysOverdue int `mapstructure:"default_days_overdue"`
	// EscalateAfterDays: minimum age before a reassignment to the approver's
	// manager is allowed.
	EscalateAfterDays int `mapstructure:"escalate_after_days"`
	// ForceApproveAfterDays: minimum age before the scanner may force-approve.
	ForceApproveAfterDays int `mapstructure:"force_approve_after_days"`
}

// Load reads configuration from the optional file path and the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPEND_APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("spend-approvals")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/spend-approvals")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "be-spend-approvals")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "spend")
	v.SetDefault("database.database", "spend_approvals")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_life", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)

	v.SetDefault("ledger.base_url", "http://localhost:9083")
	v.SetDefault("ledger.timeout", 10*time.Second)
	v.SetDefault("ledger.cash_account_id", "1000")

	v.SetDefault("approval.auto_approve_floor", 50)
	v.SetDefault("approval.one_level_ceiling", 500)
	v.SetDefault("approval.two_level_ceiling", 5000)
	v.SetDefault("approval.required_per_level", 1)
	v.SetDefault("approval.max_approvers_per_level", 3)
	v.SetDefault("approval.estimated_days_per_level", 1.5)
	v.SetDefault("approval.legacy_role_limit", 100)

	v.SetDefault("escalation.default_days_overdue", 2)
	v.SetDefault("escalation.escalate_after_days", 5)
	v.SetDefault("escalation.force_approve_after_days", 7)
}

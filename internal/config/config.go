package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port               string
	LogLevel           string
	Store              string
	DBConnectionString string
	DirectDB           bool
	CronSchedule       string
	CronEnabled        bool
	RunOnce            bool

	KashFlow *KashFlowConfig
	Sync     *SyncConfig
	SSH      *SSHConfig
	Metrics  *MetricsConfig
}

// SSHConfig holds the settings of the tunnel used to reach the database
type SSHConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	HostKey   string
	DstHost   string
	DstPort   int
	LocalHost string
	LocalPort int
}

// Enabled reports whether a tunnel host was configured
func (c *SSHConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

// MetricsConfig holds dashboard and metrics endpoint settings
type MetricsConfig struct {
	Enabled  bool
	AuthUser string
	AuthPass string
}

// AuthEnabled reports whether basic auth must guard the API
func (c *MetricsConfig) AuthEnabled() bool {
	return c.AuthUser != "" && c.AuthPass != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Store:              strings.ToLower(getEnv("STORE", StorePostgres)),
		DBConnectionString: getEnv("DB_CONNECTION_STRING", ""),
		DirectDB:           getBool("DIRECT_DB", false),
		CronSchedule:       getEnv("CRON_SCHEDULE", "0 * * * *"),
		CronEnabled:        getBool("CRON_ENABLED", true),
		RunOnce:            getBool("RUN_ONCE", false),
		Metrics: &MetricsConfig{
			Enabled:  getBool("METRICS_ENABLED", true),
			AuthUser: getEnv("METRICS_AUTH_USER", ""),
			AuthPass: getEnv("METRICS_AUTH_PASS", ""),
		},
	}

	var err error
	if cfg.KashFlow, err = loadKashFlowConfig(); err != nil {
		return nil, err
	}
	if cfg.Sync, err = loadSyncConfig(); err != nil {
		return nil, err
	}
	if cfg.SSH, err = loadSSHConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the values needed to start the service are present
func (c *Config) Validate() error {
	var missing []string
	if c.KashFlow.Username == "" {
		missing = append(missing, "KASHFLOW_USERNAME")
	}
	if c.KashFlow.Password == "" {
		missing = append(missing, "KASHFLOW_PASSWORD")
	}
	if c.KashFlow.MemorableWord == "" {
		missing = append(missing, "KASHFLOW_MEMORABLE_WORD")
	}
	switch c.Store {
	case StorePostgres:
		if c.DBConnectionString == "" {
			missing = append(missing, "DB_CONNECTION_STRING")
		}
	case StoreMemory:
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown STORE %q", c.Store), nil)
	}
	if c.UseTunnel() && (c.SSH.Username == "" || c.SSH.Password == "") {
		missing = append(missing, "SSH_USERNAME", "SSH_PASSWORD")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("missing required configuration: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// UseTunnel reports whether the database must be reached through SSH
func (c *Config) UseTunnel() bool {
	return c.Store == StorePostgres && !c.DirectDB && c.SSH.Enabled()
}

func loadSSHConfig() (*SSHConfig, error) {
	port, err := getInt("SSH_PORT", 22)
	if err != nil {
		return nil, err
	}
	dstPort, err := getInt("SSH_DST_PORT", 5432)
	if err != nil {
		return nil, err
	}
	localPort, err := getInt("SSH_LOCAL_PORT", 15432)
	if err != nil {
		return nil, err
	}
	return &SSHConfig{
		Host:      getEnv("SSH_HOST", ""),
		Port:      port,
		Username:  getEnv("SSH_USERNAME", ""),
		Password:  getEnv("SSH_PASSWORD", ""),
		HostKey:   getEnv("SSH_HOST_KEY", ""),
		DstHost:   getEnv("SSH_DST_HOST", "127.0.0.1"),
		DstPort:   dstPort,
		LocalHost: getEnv("SSH_LOCAL_HOST", "127.0.0.1"),
		LocalPort: localPort,
	}, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBool accepts the usual spellings of yes and no; anything else keeps the default.
func getBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return parseBool(value, defaultValue)
}

func parseBool(value string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off", "":
		return false
	default:
		return defaultValue
	}
}

func getInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid integer for %s", key), err)
	}
	return n, nil
}

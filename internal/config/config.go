package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete waproxy configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Detect  DetectConfig  `mapstructure:"detect" yaml:"detect"`
	Logs    LogsConfig    `mapstructure:"logs" yaml:"logs"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	// Host is the interface to bind (default: "0.0.0.0")
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the TCP port to listen on (default: 8000, overridden by $PORT)
	Port int `mapstructure:"port" yaml:"port"`
	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	// ShutdownTimeout is the graceful shutdown budget on SIGINT/SIGTERM
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AllowedOrigins lists CORS origins; "*" allows any
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns the host:port listen address
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BridgeConfig describes the supervised bridge process and its REST API
type BridgeConfig struct {
	// Dir is the working directory the bridge is launched in
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Command is the executable to run (default: "go")
	Command string `mapstructure:"command" yaml:"command"`
	// Args are passed to Command (default: run main.go -store ./store)
	Args []string `mapstructure:"args" yaml:"args"`
	// StoreDir is created relative to Dir before every start
	StoreDir string `mapstructure:"store_dir" yaml:"store_dir"`
	// LogFile receives the bridge's combined stdout and stderr, relative to Dir
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// APIURL is the base URL of the bridge REST API
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	// APITimeout bounds every request made to the bridge API
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// AutoStart launches the bridge when the server boots (default: true)
	AutoStart bool `mapstructure:"auto_start" yaml:"auto_start"`
	// AutoRestart relaunches the bridge after an unexpected exit (default: false)
	AutoRestart bool `mapstructure:"auto_restart" yaml:"auto_restart"`
	// RestartDelay is the pause before an automatic restart
	RestartDelay time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`
	// StopTimeout is the grace period between SIGTERM and SIGKILL
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// TeeOutput also copies bridge output to the proxy's stderr
	TeeOutput bool `mapstructure:"tee_output" yaml:"tee_output"`
	// Env holds extra KEY=value pairs appended to the bridge environment
	Env map[string]string `mapstructure:"env" yaml:"env"`
}

// LogPath returns the resolved path of the bridge log file
func (b *BridgeConfig) LogPath() string {
	return resolve(b.Dir, b.LogFile)
}

// StorePath returns the resolved path of the bridge store directory
func (b *BridgeConfig) StorePath() string {
	return resolve(b.Dir, b.StoreDir)
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// MonitorConfig controls the status monitor loop
type MonitorConfig struct {
	// PollInterval is how often the log file is scanned (default: 5s)
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// ErrorBackoff is the sleep after a failed scan (default: 10s)
	ErrorBackoff time.Duration `mapstructure:"error_backoff" yaml:"error_backoff"`
	// WatchFile triggers an early scan on file system notifications
	WatchFile bool `mapstructure:"watch_file" yaml:"watch_file"`
	// QRDelayThreshold is the runtime after which /qr reports "delayed"
	QRDelayThreshold time.Duration `mapstructure:"qr_delay_threshold" yaml:"qr_delay_threshold"`
	// WindowBytes is the size of the log tail kept for QR extraction
	WindowBytes int `mapstructure:"window_bytes" yaml:"window_bytes"`
}

// DetectConfig holds the log patterns used to infer bridge state
type DetectConfig struct {
	// AuthenticatedPattern is the literal line printed once the bridge is paired
	AuthenticatedPattern string `mapstructure:"authenticated_pattern" yaml:"authenticated_pattern"`
	// QRMarker is the literal text printed right before a QR code
	QRMarker string `mapstructure:"qr_marker" yaml:"qr_marker"`
	// QRBlockPattern is a fallback regex whose first group captures the QR block
	QRBlockPattern string `mapstructure:"qr_block_pattern" yaml:"qr_block_pattern"`
	// PairingCodePattern optionally captures the raw pairing payload in its first group.
	// When set, /qr.png renders that payload as a PNG. Empty by default: the stock
	// bridge prints only the drawn QR, so /qr.png answers 404 until this is set
	// for a bridge that also logs the payload.
	PairingCodePattern string `mapstructure:"pairing_code_pattern" yaml:"pairing_code_pattern"`
}

// LogsConfig controls the /logs endpoint
type LogsConfig struct {
	// TailLines is how many trailing lines /logs returns (default: 100)
	TailLines int `mapstructure:"tail_lines" yaml:"tail_lines"`
}

// JournalConfig controls the sqlite event journal
type JournalConfig struct {
	// Enabled persists supervisor events (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path is the sqlite database file
	Path string `mapstructure:"path" yaml:"path"`
	// MaxEvents caps the number of rows kept; older rows are pruned
	MaxEvents int `mapstructure:"max_events" yaml:"max_events"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Enabled exposes /metrics (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig controls the proxy's own structured logs
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the log file path; empty writes to stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			AllowedOrigins:    []string{"*"},
		},
		Bridge: BridgeConfig{
			Dir:          "whatsapp-bridge",
			Command:      "go",
			Args:         []string{"run", "main.go", "-store", "./store"},
			StoreDir:     "store",
			LogFile:      "qr_log.txt",
			APIURL:       "http://localhost:8080/api",
			APITimeout:   30 * time.Second,
			AutoStart:    true,
			AutoRestart:  false,
			RestartDelay: time.Second,
			StopTimeout:  5 * time.Second,
			TeeOutput:    true,
			Env:          map[string]string{},
		},
		Monitor: MonitorConfig{
			PollInterval:     5 * time.Second,
			ErrorBackoff:     10 * time.Second,
			WatchFile:        true,
			QRDelayThreshold: 60 * time.Second,
			WindowBytes:      64 * 1024,
		},
		Detect: DetectConfig{
			AuthenticatedPattern: "Successfully connected and authenticated",
			QRMarker:             "Scan this QR code",
			QRBlockPattern:       `(█+[\s\S]*?QR code[\s\S]*?▀▀▀▀)`,
			PairingCodePattern:   "",
		},
		Logs: LogsConfig{
			TailLines: 100,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "waproxy_events.db",
			MaxEvents: 1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.read_header_timeout", defaults.Server.ReadHeaderTimeout)
	viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Bridge defaults
	viper.SetDefault("bridge.dir", defaults.Bridge.Dir)
	viper.SetDefault("bridge.command", defaults.Bridge.Command)
	viper.SetDefault("bridge.args", defaults.Bridge.Args)
	viper.SetDefault("bridge.store_dir", defaults.Bridge.StoreDir)
	viper.SetDefault("bridge.log_file", defaults.Bridge.LogFile)
	viper.SetDefault("bridge.api_url", defaults.Bridge.APIURL)
	viper.SetDefault("bridge.api_timeout", defaults.Bridge.APITimeout)
	viper.SetDefault("bridge.auto_start", defaults.Bridge.AutoStart)
	viper.SetDefault("bridge.auto_restart", defaults.Bridge.AutoRestart)
	viper.SetDefault("bridge.restart_delay", defaults.Bridge.RestartDelay)
	viper.SetDefault("bridge.stop_timeout", defaults.Bridge.StopTimeout)
	viper.SetDefault("bridge.tee_output", defaults.Bridge.TeeOutput)
	viper.SetDefault("bridge.env", defaults.Bridge.Env)

	// Monitor defaults
	viper.SetDefault("monitor.poll_interval", defaults.Monitor.PollInterval)
	viper.SetDefault("monitor.error_backoff", defaults.Monitor.ErrorBackoff)
	viper.SetDefault("monitor.watch_file", defaults.Monitor.WatchFile)
	viper.SetDefault("monitor.qr_delay_threshold", defaults.Monitor.QRDelayThreshold)
	viper.SetDefault("monitor.window_bytes", defaults.Monitor.WindowBytes)

	// Detect defaults
	viper.SetDefault("detect.authenticated_pattern", defaults.Detect.AuthenticatedPattern)
	viper.SetDefault("detect.qr_marker", defaults.Detect.QRMarker)
	viper.SetDefault("detect.qr_block_pattern", defaults.Detect.QRBlockPattern)
	viper.SetDefault("detect.pairing_code_pattern", defaults.Detect.PairingCodePattern)

	// Logs defaults
	viper.SetDefault("logs.tail_lines", defaults.Logs.TailLines)

	// Journal defaults
	viper.SetDefault("journal.enabled", defaults.Journal.Enabled)
	viper.SetDefault("journal.path", defaults.Journal.Path)
	viper.SetDefault("journal.max_events", defaults.Journal.MaxEvents)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// BindEnv maps hosting-platform variables that don't follow the WAPROXY_ prefix.
// PORT takes effect only when WAPROXY_SERVER_PORT is unset.
func BindEnv() error {
	return viper.BindEnv("server.port", "WAPROXY_SERVER_PORT", "PORT")
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "waproxy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waproxy"
	}
	return filepath.Join(home, ".config", "waproxy")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix       = "SWTRACK"
	configName      = "swtrack"
	configType      = "yaml"
	DefaultDataFile = "software_data.txt"
)

// Default PowerShell script for the rich query: both HKLM uninstall roots,
// rows with a DisplayName, emitted as quoted CSV with a header line.
const DefaultRichQueryScript = `Get-ItemProperty HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*, ` +
	`HKLM:\Software\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\* | ` +
	`Where-Object { $_.DisplayName } | ` +
	`Select-Object DisplayName, DisplayVersion, InstallDate | ` +
	`ConvertTo-Csv -NoTypeInformation`

type Config struct {
	DataFile      string     `mapstructure:"data_file"`
	LogLevel      string     `mapstructure:"log_level"`
	LogFormat     string     `mapstructure:"log_format"`
	LogFile       string     `mapstructure:"log_file"`
	LogMaxSizeMB  int        `mapstructure:"log_max_size_mb"`
	LogMaxBackups int        `mapstructure:"log_max_backups"`
	ListenAddr    string     `mapstructure:"listen_addr"`
	Scan          ScanConfig `mapstructure:"scan"`
}

// ScanConfig holds the external command surface used by the scanner. All of
// it is swappable per platform.
type ScanConfig struct {
	CommandTimeoutSeconds int      `mapstructure:"command_timeout_seconds"`
	MaxOutputLines        int      `mapstructure:"max_output_lines"`
	PowerShellPaths       []string `mapstructure:"powershell_paths"`
	RichQueryScript       string   `mapstructure:"rich_query_script"`
	RegTool               string   `mapstructure:"reg_tool"`
	RegistryRoots         []string `mapstructure:"registry_roots"`
	SubkeyPrefix          string   `mapstructure:"subkey_prefix"`
	ValueSeparator        string   `mapstructure:"value_separator"`
}

func Default() *Config {
	return &Config{
		DataFile:      DefaultDataFile,
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		ListenAddr:    "127.0.0.1:8787",
		Scan: ScanConfig{
			CommandTimeoutSeconds: 60,
			MaxOutputLines:        100000,
			PowerShellPaths: []string{
				"powershell.exe",
				`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`,
				`C:\Windows\SysWOW64\WindowsPowerShell\v1.0\powershell.exe`,
			},
			RichQueryScript: DefaultRichQueryScript,
			RegTool:         "reg",
			RegistryRoots: []string{
				`HKLM\Software\Microsoft\Windows\CurrentVersion\Uninstall`,
				`HKLM\Software\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
				`HKCU\Software\Microsoft\Windows\CurrentVersion\Uninstall`,
			},
			SubkeyPrefix:   "HKEY",
			ValueSeparator: "REG_SZ",
		},
	}
}

// Load reads cfgFile (or swtrack.yaml from the config dir / working dir when
// empty), then SWTRACK_* environment overrides. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SaveTo writes cfg as YAML to cfgFile (default: swtrack.yaml in ConfigDir).
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	if cfgFile == "" {
		cfgFile = filepath.Join(ConfigDir(), configName+"."+configType)
	}
	if err := os.MkdirAll(filepath.Dir(cfgFile), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.Set("data_file", cfg.DataFile)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("scan.command_timeout_seconds", cfg.Scan.CommandTimeoutSeconds)
	v.Set("scan.max_output_lines", cfg.Scan.MaxOutputLines)
	v.Set("scan.powershell_paths", cfg.Scan.PowerShellPaths)
	v.Set("scan.rich_query_script", cfg.Scan.RichQueryScript)
	v.Set("scan.reg_tool", cfg.Scan.RegTool)
	v.Set("scan.registry_roots", cfg.Scan.RegistryRoots)
	v.Set("scan.subkey_prefix", cfg.Scan.SubkeyPrefix)
	v.Set("scan.value_separator", cfg.Scan.ValueSeparator)

	if err := v.WriteConfigAs(cfgFile); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return cfgFile, nil
}

// ConfigDir is the per-user directory searched for swtrack.yaml.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "."
	}
	return filepath.Join(dir, configName)
}

// newViper registers every key with its default so AutomaticEnv can bind
// nested keys such as SWTRACK_SCAN_REG_TOOL.
func newViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_file", d.DataFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("scan.command_timeout_seconds", d.Scan.CommandTimeoutSeconds)
	v.SetDefault("scan.max_output_lines", d.Scan.MaxOutputLines)
	v.SetDefault("scan.powershell_paths", d.Scan.PowerShellPaths)
	v.SetDefault("scan.rich_query_script", d.Scan.RichQueryScript)
	v.SetDefault("scan.reg_tool", d.Scan.RegTool)
	v.SetDefault("scan.registry_roots", d.Scan.RegistryRoots)
	v.SetDefault("scan.subkey_prefix", d.Scan.SubkeyPrefix)
	v.SetDefault("scan.value_separator", d.Scan.ValueSeparator)
	return v
}

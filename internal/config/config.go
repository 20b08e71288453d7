package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	// DefaultNVIDIASearchURL is the NVIDIA advanced driver search for Linux x86_64.
	DefaultNVIDIASearchURL = "https://www.nvidia.com/Download/processFind.aspx?psid=107&pfid=815&osid=12&lid=1&whql=&lang=en-us&ctk=0&qnfslb=00&dtcid=1"

	// DefaultBodhiURL lists stable Fedora updates of akmod-nvidia.
	DefaultBodhiURL = "https://bodhi.fedoraproject.org/updates/?search=akmod-nvidia&status=stable&rows_per_page=10&content_type=rpm"
)

type Config struct {
	LogLevel               string `mapstructure:"log_level"`
	LogFormat              string `mapstructure:"log_format"`
	LogFile                string `mapstructure:"log_file"`
	HTTPTimeoutSeconds     int    `mapstructure:"http_timeout_seconds"`
	UserAgent              string `mapstructure:"user_agent"`
	NVIDIASearchURL        string `mapstructure:"nvidia_search_url"`
	BodhiURL               string `mapstructure:"bodhi_url"`
	PrivilegeProgram       string `mapstructure:"privilege_program"`
	RootHelperTask         string `mapstructure:"root_helper_task"`
	ChangelogLineLimit     int    `mapstructure:"changelog_line_limit"`
	MaxVersions            int    `mapstructure:"max_versions"`
	RefreshIntervalSeconds int    `mapstructure:"refresh_interval_seconds"`
}

func Default() *Config {
	return &Config{
		LogLevel:               "info",
		LogFormat:              "text",
		HTTPTimeoutSeconds:     30,
		UserAgent:              "ro-control/1.0",
		NVIDIASearchURL:        DefaultNVIDIASearchURL,
		BodhiURL:               DefaultBodhiURL,
		PrivilegeProgram:       "pkexec",
		RootHelperTask:         "ro-control-root-task",
		ChangelogLineLimit:     280,
		MaxVersions:            12,
		RefreshIntervalSeconds: 2,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ro-control")
		viper.SetConfigType("yaml")
		for _, dir := range configDirs() {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix("RO_CONTROL")
	viper.AutomaticEnv()
	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveTo writes cfg as YAML to cfgFile, or to the per-user config directory
// when cfgFile is empty.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("http_timeout_seconds", cfg.HTTPTimeoutSeconds)
	viper.Set("user_agent", cfg.UserAgent)
	viper.Set("nvidia_search_url", cfg.NVIDIASearchURL)
	viper.Set("bodhi_url", cfg.BodhiURL)
	viper.Set("privilege_program", cfg.PrivilegeProgram)
	viper.Set("root_helper_task", cfg.RootHelperTask)
	viper.Set("changelog_line_limit", cfg.ChangelogLineLimit)
	viper.Set("max_versions", cfg.MaxVersions)
	viper.Set("refresh_interval_seconds", cfg.RefreshIntervalSeconds)

	cfgPath := cfgFile
	if cfgPath == "" {
		dir := userConfigDir()
		if dir == "" {
			return errors.New("cannot resolve user config directory")
		}
		cfgPath = filepath.Join(dir, "ro-control.yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

// bindEnv registers every key so AutomaticEnv overrides reach Unmarshal even
// when no config file sets them.
func bindEnv() {
	for _, key := range []string{
		"log_level", "log_format", "log_file", "http_timeout_seconds", "user_agent",
		"nvidia_search_url", "bodhi_url", "privilege_program", "root_helper_task",
		"changelog_line_limit", "max_versions", "refresh_interval_seconds",
	} {
		_ = viper.BindEnv(key)
	}
}

func configDirs() []string {
	dirs := []string{"/etc/ro-control"}
	if dir := userConfigDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	return append(dirs, ".")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ro-control")
	}
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ro-control")
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lisuiheng/webui-bridge-go/core"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// flag name -> config key
var flagKeys = map[string]string{
	"origin":        "origin",
	"ws-path":       "wsPath",
	"transport":     "transport",
	"build-flavor":  "buildFlavor",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
	"metrics-addr":  "metrics.addr",
	"dial-timeout":  "dialTimeout",
	"write-timeout": "writeTimeout",
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("origin", "", "Origin the socket URL is derived from, e.g. https://localhost:8443")
	flags.String("ws-path", "", "Socket path on the origin (default /ws)")
	flags.String("transport", "", "Transport backend: websocket or nhooyr")
	flags.String("build-flavor", "", "Build flavor reported to the view")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")
	flags.Bool("no-suppress", false, "Log transient callback failures instead of swallowing them")
	flags.Duration("dial-timeout", 0, "Timeout for one connection attempt")
	flags.Duration("write-timeout", 0, "Timeout for one frame write")
}

func newViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	def := core.DefaultConfig()
	v.SetDefault("origin", def.Origin)
	v.SetDefault("transport", def.Transport)
	v.SetDefault("buildFlavor", core.DefaultBuildFlavor)
	v.SetDefault("dialTimeout", def.DialTimeout)
	v.SetDefault("writeTimeout", def.WriteTimeout)
	v.SetDefault("reconnect.baseDelay", def.Reconnect.BaseDelay)
	v.SetDefault("reconnect.maxDelay", def.Reconnect.MaxDelay)
	v.SetDefault("suppressTransientErrors", def.SuppressTransientErrors)
	v.SetDefault("logging.level", def.Logging.Level)
	// stdout carries the view lines
	v.SetDefault("logging.outputs", []string{"stderr"})

	v.SetEnvPrefix("WEBUI_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			_ = v.BindPFlag(key, f)
		}
		if f := flags.Lookup("no-suppress"); f != nil && f.Changed {
			v.Set("suppressTransientErrors", false)
		}
	}
	return v
}

// loadConfig reads the config file, if any, and decodes it over the
// defaults. A missing file in the search path is not an error.
func loadConfig(v *viper.Viper, configPath string) (core.Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/webui-bridge")
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		fileLoaded = false
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if fileLoaded {
		opts, err := readSentryInitOptions(v.ConfigFileUsed())
		if err != nil {
			return core.Config{}, fmt.Errorf("failed to read sentryInitOptions: %w", err)
		}
		if opts != nil {
			cfg.SentryInitOptions = opts
		}
	}
	return cfg, nil
}

// readSentryInitOptions decodes sentryInitOptions straight from the config
// file. The subtree is opaque and viper lowercases map keys.
func readSentryInitOptions(path string) (map[string]interface{}, error) {
	var doc struct {
		SentryInitOptions map[string]interface{} `yaml:"sentryInitOptions" toml:"sentryInitOptions"`
	}

	var decode func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		decode = yaml.Unmarshal
	case ".toml":
		decode = toml.Unmarshal
	default:
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := decode(data, &doc); err != nil {
		return nil, err
	}
	return doc.SentryInitOptions, nil
}

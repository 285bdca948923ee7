package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lisuiheng/webui-bridge-go/logger"
	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
	"github.com/lisuiheng/webui-bridge-go/utils"
)

const (
	DefaultWSPath       = "/ws"
	DefaultBuildFlavor  = "prod"
	DefaultTransport    = "websocket"
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// nested field consulted when appSessionId is absent
	sentrySessionIDField = "codexAppSessionId"
)

// Config is the runtime configuration supplied before the bridge starts.
// Field names follow the keys the host injects.
type Config struct {
	// Origin stands in for the page origin, e.g. "https://localhost:8443".
	Origin    string `mapstructure:"origin"`
	Transport string `mapstructure:"transport"`

	WSPath            string                 `mapstructure:"wsPath"`
	SentryInitOptions map[string]interface{} `mapstructure:"sentryInitOptions"`
	AppSessionID      *string                `mapstructure:"appSessionId"`
	BuildFlavor       *string                `mapstructure:"buildFlavor"`

	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`

	Reconnect struct {
		BaseDelay time.Duration `mapstructure:"baseDelay"`
		MaxDelay  time.Duration `mapstructure:"maxDelay"`
	} `mapstructure:"reconnect"`

	// SuppressTransientErrors enables the ErrorSuppressor.
	SuppressTransientErrors bool `mapstructure:"suppressTransientErrors"`

	Logging logger.Config `mapstructure:"logging"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func DefaultConfig() Config {
	var cfg Config
	cfg.Origin = "http://localhost"
	cfg.Transport = DefaultTransport
	cfg.DialTimeout = DefaultDialTimeout
	cfg.WriteTimeout = DefaultWriteTimeout
	cfg.Reconnect.BaseDelay = utils.DefaultReconnectBase
	cfg.Reconnect.MaxDelay = utils.DefaultReconnectMax
	cfg.SuppressTransientErrors = true
	cfg.Logging.Level = "info"
	return cfg
}

// EffectiveWSPath returns WSPath, or /ws when it is empty.
func (c Config) EffectiveWSPath() string {
	if c.WSPath == "" {
		return DefaultWSPath
	}
	return c.WSPath
}

// EndpointURL derives the socket URL from Origin and the ws path:
// https maps to wss, http to ws.
func (c Config) EndpointURL() (string, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if origin.Host == "" {
		return "", fmt.Errorf("invalid origin %q: missing host", c.Origin)
	}

	base := &url.URL{Host: origin.Host}
	switch strings.ToLower(origin.Scheme) {
	case "https", "wss":
		base.Scheme = "wss"
	case "http", "ws":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: origin scheme %q", interfaces.ErrUnsupportedProtocol, origin.Scheme)
	}

	ref, err := url.Parse(c.EffectiveWSPath())
	if err != nil {
		return "", fmt.Errorf("invalid ws path %q: %w", c.WSPath, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// SessionID resolves the app session id: appSessionId, then the nested
// sentry field, then none. Key lookup on the nested map ignores case since
// viper lowercases map keys.
func (c Config) SessionID() (string, bool) {
	if c.AppSessionID != nil {
		return *c.AppSessionID, true
	}
	for k, v := range c.SentryInitOptions {
		if !strings.EqualFold(k, sentrySessionIDField) {
			continue
		}
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// Flavor returns buildFlavor, or "prod" when it was not supplied. An
// explicitly empty flavor is kept.
func (c Config) Flavor() string {
	if c.BuildFlavor == nil {
		return DefaultBuildFlavor
	}
	return *c.BuildFlavor
}

// Package config loads and validates the proxy's YAML configuration,
// following the same viper-based load path the teacher uses: flags bind
// into viper, a config file is read on top, then the whole tree is
// unmarshaled into a typed Config.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Numdrassl/proxy/internal/configtypes"
)

// SecretEnvVar is the environment variable that, when set and non-empty,
// overrides the configured shared secret.
const SecretEnvVar = "NUMDRASSL_SECRET"

// Config is the root proxy configuration (see SPEC_FULL.md §6.2).
type Config struct {
	Listener       configtypes.Listener       `mapstructure:"listener" yaml:"listener"`
	Log            configtypes.Log            `mapstructure:"log" yaml:"log"`
	Backends       []configtypes.Backend      `mapstructure:"backends" yaml:"backends"`
	Cluster        configtypes.Cluster        `mapstructure:"cluster" yaml:"cluster"`
	SessionService configtypes.SessionService `mapstructure:"session_service" yaml:"session_service"`
	// Secret is the base64 or raw shared 32-byte HMAC key. NUMDRASSL_SECRET
	// overrides this when set; if both are empty one is generated at boot.
	Secret string `mapstructure:"secret" yaml:"secret"`
	// PidFile, when non-empty, receives this process's PID at boot.
	PidFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// Meta carries information about how the config was produced.
type Meta struct {
	FileNotFound bool
}

// Validate checks structural invariants that don't depend on runtime state.
func (c *Config) Validate() error {
	if c.Listener.BindPort <= 0 || c.Listener.BindPort > 65535 {
		return fmt.Errorf("listener.bind_port out of range: %d", c.Listener.BindPort)
	}
	if c.Listener.MaxConns <= 0 {
		return errors.New("listener.max_connections must be positive")
	}
	seen := map[string]bool{}
	defaults := 0
	for _, b := range c.Backends {
		lname := toLower(b.Name)
		if lname == "" {
			return errors.New("backend name must not be empty")
		}
		if seen[lname] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[lname] = true
		if b.Port <= 0 || b.Port > 65535 {
			return fmt.Errorf("backend %s: port out of range", b.Name)
		}
		if b.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("at most one backend may be marked default")
	}
	return nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// GetConfig reads configFile (if any) through viper, binds the
// conventional flags from cmd (if non-nil), and unmarshals the result.
func GetConfig(cmd *cobra.Command, configFile string) (Config, Meta, error) {
	v := viper.New()
	v.SetEnvPrefix("NUMDRASSL")
	v.AutomaticEnv()

	v.SetDefault("listener.bind_host", "0.0.0.0")
	v.SetDefault("listener.bind_port", 9000)
	v.SetDefault("listener.idle_timeout_seconds", 30)
	v.SetDefault("listener.max_connections", 1000)
	v.SetDefault("listener.alpn", "numdrassl")
	v.SetDefault("log.level", "info")
	v.SetDefault("session_service.timeout_seconds", 5)
	v.SetDefault("cluster.region", "default")

	if cmd != nil {
		bindPFlags := []string{"listener.bind_host", "listener.bind_port", "log.level", "log.file", "debug"}
		for _, flag := range bindPFlags {
			_ = v.BindPFlag(flag, cmd.Flags().Lookup(flag))
		}
	}

	meta := Meta{}

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			var notFound *os.PathError
			if errors.As(err, &notFound) {
				meta.FileNotFound = true
			} else {
				return Config{}, Meta{}, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return Config{}, Meta{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return *conf, meta, nil
}

// ResolveSecret returns the 32-byte shared HMAC secret, sourced in
// priority order: NUMDRASSL_SECRET env var, cfg.Secret, else a
// randomly generated key (logged at warn level so an operator can pin
// it for other proxies/backends in the deployment).
func ResolveSecret(cfg Config) ([]byte, error) {
	if env := os.Getenv(SecretEnvVar); env != "" {
		return decodeSecret(env)
	}
	if cfg.Secret != "" {
		return decodeSecret(cfg.Secret)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating random secret: %w", err)
	}
	log.Warn().Msg("no shared secret configured, generated a random one for this process; " +
		"backends will not be able to validate referrals signed with it unless it is distributed out of band")
	return secret, nil
}

func decodeSecret(s string) ([]byte, error) {
	if len(s) == 32 {
		return []byte(s), nil
	}
	decoded, err := base64DecodeFlexible(s)
	if err != nil {
		return nil, fmt.Errorf("secret is neither 32 raw bytes nor valid base64: %w", err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("decoded secret must be 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

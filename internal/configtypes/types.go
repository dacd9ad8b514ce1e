// Package configtypes holds the leaf structs decoded from the proxy's
// YAML configuration file.
package configtypes

// Listener configures the client-facing QUIC listener (Client Listener, F).
type Listener struct {
	BindHost      string `mapstructure:"bind_host" yaml:"bind_host"`
	BindPort      int    `mapstructure:"bind_port" yaml:"bind_port"`
	PublicHost    string `mapstructure:"public_host" yaml:"public_host"`
	PublicPort    int    `mapstructure:"public_port" yaml:"public_port"`
	CertFile      string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile       string `mapstructure:"key_file" yaml:"key_file"`
	IdleTimeoutS  int    `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	MaxConns      int    `mapstructure:"max_connections" yaml:"max_connections"`
	Debug         bool   `mapstructure:"debug" yaml:"debug"`
	Passthrough   bool   `mapstructure:"passthrough" yaml:"passthrough"`
	ALPN          string `mapstructure:"alpn" yaml:"alpn"`
}

// Backend is a static backend-server registration (Backend Descriptor).
type Backend struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	IsDefault bool   `mapstructure:"default" yaml:"default"`
	Hostname  string `mapstructure:"hostname" yaml:"hostname"`
}

// Cluster configures cluster-coordination (Messaging Service, Proxy
// Registry, Heartbeat Publisher).
type Cluster struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ProxyID      string `mapstructure:"proxy_id" yaml:"proxy_id"`
	Region       string `mapstructure:"region" yaml:"region"`
	BrokerHost   string `mapstructure:"broker_host" yaml:"broker_host"`
	BrokerPort   int    `mapstructure:"broker_port" yaml:"broker_port"`
	BrokerPass   string `mapstructure:"broker_password" yaml:"broker_password"`
	BrokerDB     int    `mapstructure:"broker_database" yaml:"broker_database"`
	BrokerSSL    bool   `mapstructure:"broker_ssl" yaml:"broker_ssl"`
}

// SessionService configures the HTTP client for the external
// identity/session service (Session-Service Client, C).
type SessionService struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Log configures the zerolog logger.
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

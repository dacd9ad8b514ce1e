package tools

import "os"

const defaultConfigYAML = `listener:
  bind_host: "0.0.0.0"
  bind_port: 9000
  public_host: "127.0.0.1"
  public_port: 9000
  cert_file: "proxy.crt"
  key_file: "proxy.key"
  idle_timeout_seconds: 30
  max_connections: 1000
  alpn: "numdrassl"

log:
  level: "info"

backends: []

cluster:
  enabled: false
  region: "default"

session_service:
  base_url: "http://127.0.0.1:8080"
  timeout_seconds: 5
`

// GenerateConfig writes a minimal, valid starter config to path,
// refusing to overwrite an existing file.
func GenerateConfig(path string) error {
	if FileExists(path) {
		return os.ErrExist
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

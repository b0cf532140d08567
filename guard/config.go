package guard

import "github.com/hazyhaar/tamperguard/guard/internal/config"

// Config is the engine configuration. See LoadConfig.
type (
	Config        = config.Config
	ProtectedText = config.ProtectedText
)

// Environment variables holding the hashing secrets.
const (
	EnvIntegritySecret = config.EnvIntegritySecret
	EnvNetworkSecret   = config.EnvNetworkSecret
)

// DefaultConfig returns the built-in configuration, without secrets.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML file, or the defaults when path is empty, then
// fills the secrets from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadSecrets(nil)
	return cfg, nil
}

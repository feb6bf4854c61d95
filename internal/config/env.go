package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RTBOLT"

// Env holds overrides read from RTBOLT_* environment variables. Secrets can
// be kept out of the configuration file this way.
type Env struct {
	Target           string `envconfig:"TARGET"`
	TelnetPassword   string `envconfig:"TELNET_PASSWORD"`
	TransferPassword string `envconfig:"FTP_PASSWORD"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	ReportDir        string `envconfig:"REPORT_DIR"`
}

// LoadEnv reads the environment overrides.
func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return e, nil
}

// Apply copies the non-empty overrides onto t and f.
func (e Env) Apply(f *File, t *Target) {
	if e.TelnetPassword != "" {
		t.Telnet.Password = e.TelnetPassword
	}
	if e.TransferPassword != "" {
		t.Transfer.Password = e.TransferPassword
	}
	if e.ReportDir != "" {
		f.ReportDir = e.ReportDir
	}
}

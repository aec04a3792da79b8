package onewire

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-onewire/internal/owfs"
)

// Settings are the runtime parameters that can change without a restart.
type Settings struct {
	// PostOnlyChangedValues suppresses publishing a value equal to the
	// last published one.
	PostOnlyChangedValues bool

	// Bus is handed to the transport on every update.
	Bus owfs.Config
}

// SettingsFromConfig extracts the runtime settings from the main config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PostOnlyChangedValues: cfg.Binding.PostOnlyChangedValues,
		Bus: owfs.Config{
			MountPath: cfg.OneWire.MountPath,
			Retries:   cfg.OneWire.Retries,
			Timeout:   cfg.OneWire.Timeout,
		},
	}
}

// Validate reports every problem with the settings wrapped in ErrConfiguration.
func (s Settings) Validate() error {
	var errs []string

	if strings.TrimSpace(s.Bus.MountPath) == "" {
		errs = append(errs, "mount path is required")
	}
	if s.Bus.Retries < 0 {
		errs = append(errs, "retries must not be negative")
	}
	if s.Bus.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

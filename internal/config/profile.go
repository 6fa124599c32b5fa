package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vbonduro/timelock/internal/unlock"
)

// Profile is the client configuration kept in the user's config directory.
type Profile struct {
	Server   string `yaml:"server"`
	Token    string `yaml:"token"`
	DeviceID string `yaml:"device_id"`
	LogLevel string `yaml:"log_level"`

	Poll             unlock.PollConfig `yaml:"poll"`
	MaxFetchAttempts int               `yaml:"max_fetch_attempts"`
	RetryDelay       time.Duration     `yaml:"retry_delay"`

	SettingsDebounce time.Duration `yaml:"settings_debounce"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
}

func DefaultProfile() *Profile {
	machine := unlock.DefaultConfig()
	return &Profile{
		Server:           "http://localhost:8080",
		LogLevel:         "warn",
		Poll:             machine.Poll,
		MaxFetchAttempts: machine.MaxFetchAttempts,
		RetryDelay:       machine.RetryDelay,
		SettingsDebounce: 500 * time.Millisecond,
		ReconnectDelay:   2 * time.Second,
	}
}

// DefaultProfilePath returns ~/.config/timelock/profile.yaml or the platform
// equivalent.
func DefaultProfilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "timelock", "profile.yaml"), nil
}

// LoadProfile reads the profile at path over the defaults. A missing file
// yields the defaults. TIMELOCK_SERVER and TIMELOCK_TOKEN override the file.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read profile: %w", err)
	default:
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse profile: %w", err)
		}
	}

	p.Server = getEnv("TIMELOCK_SERVER", p.Server)
	p.Token = getEnv("TIMELOCK_TOKEN", p.Token)
	return p, nil
}

// Save writes the profile, creating its directory. The file holds a bearer
// token so it is private to the user.
func (p *Profile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// EnsureDeviceID gives the profile a device id on first use and persists it.
func (p *Profile) EnsureDeviceID(path string) (string, error) {
	if p.DeviceID != "" {
		return p.DeviceID, nil
	}
	p.DeviceID = uuid.NewString()
	if err := p.Save(path); err != nil {
		return "", err
	}
	return p.DeviceID, nil
}

// MachineConfig returns the unlock machine settings from the profile.
func (p *Profile) MachineConfig() unlock.Config {
	return unlock.Config{
		Poll:             p.Poll,
		MaxFetchAttempts: p.MaxFetchAttempts,
		RetryDelay:       p.RetryDelay,
	}
}

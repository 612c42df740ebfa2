package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the translator configuration
type Config struct {
	// Translation settings
	Translate struct {
		MaxInsns    int  `toml:"max_insns"`    // Instruction cap per super-block (1..99)
		ChaseThresh int  `toml:"chase_thresh"` // Branch-chasing budget (0..max_insns-1)
		SelfCheck   bool `toml:"self_check"`   // Emit self-checking preambles
		SetNRAddr   bool `toml:"set_nraddr"`   // Record pre-redirection block addresses
	} `toml:"translate"`

	// Trace settings
	Trace struct {
		Frontend   bool   `toml:"frontend"`    // Print IR as the front end decodes
		OutputFile string `toml:"output_file"` // Trace destination (empty: stdout)
	} `toml:"trace"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Translation defaults
	cfg.Translate.MaxInsns = 50
	cfg.Translate.ChaseThresh = 10
	cfg.Translate.SelfCheck = false
	cfg.Translate.SetNRAddr = false

	// Trace defaults
	cfg.Trace.Frontend = false
	cfg.Trace.OutputFile = ""

	return cfg
}

// Validate checks that the translation knobs are inside the ranges the
// block decoder accepts
func (c *Config) Validate() error {
	if c.Translate.MaxInsns < 1 || c.Translate.MaxInsns > 99 {
		return fmt.Errorf("max_insns must be in 1..99, got %d", c.Translate.MaxInsns)
	}
	if c.Translate.ChaseThresh < 0 || c.Translate.ChaseThresh >= c.Translate.MaxInsns {
		return fmt.Errorf("chase_thresh must be in 0..%d, got %d",
			c.Translate.MaxInsns-1, c.Translate.ChaseThresh)
	}
	return nil
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\arm-translator\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "arm-translator")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/arm-translator/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "arm-translator")

	default:
		// Unknown platform: use current directory
		return "config.toml"
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read and parse config file
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	// Encode to TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

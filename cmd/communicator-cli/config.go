package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const (
	defaultBaseURL      = "http://127.0.0.1:8080"
	defaultPollInterval = "3s"

	// homeEnv overrides ~/.communicator.
	homeEnv = "COMMUNICATOR_HOME"
)

// Config is the CLI configuration stored in ~/.communicator/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Auth   ConfigAuth   `toml:"auth"`
	Client ConfigClient `toml:"client"`
}

type ConfigServer struct {
	BaseURL string `toml:"base_url"`
}

// ConfigAuth is the logged-in identity. The server issues no tokens, so the user id is the session.
type ConfigAuth struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Email    string `toml:"email"`
}

type ConfigClient struct {
	DataDir      string `toml:"data_dir"`
	PollInterval string `toml:"poll_interval"`
}

// configDir returns the CLI home, creating it if needed.
func configDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv(homeEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".communicator")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file. A missing file yields a zero Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field using dot notation (e.g. "server.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "server":
		switch field {
		case "base_url":
			cfg.Server.BaseURL = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "auth":
		switch field {
		case "user_id":
			cfg.Auth.UserID = value
		case "username":
			cfg.Auth.Username = value
		case "email":
			cfg.Auth.Email = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "client":
		switch field {
		case "data_dir":
			cfg.Client.DataDir = value
		case "poll_interval":
			if _, err := parsePollInterval(value); err != nil {
				return err
			}
			cfg.Client.PollInterval = value
		default:
			return fmt.Errorf("unknown field %q in section [client]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth, client)", section)
	}
	return nil
}

func (c *Config) baseURL() string {
	return valueOrDefault(c.Server.BaseURL, defaultBaseURL)
}

func (c *Config) dataDir() (string, error) {
	if c.Client.DataDir != "" {
		return c.Client.DataDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

func (c *Config) pollInterval() (time.Duration, error) {
	return parsePollInterval(valueOrDefault(c.Client.PollInterval, defaultPollInterval))
}

func parsePollInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval %q: must be positive", s)
	}
	return d, nil
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "View or modify the CLI configuration stored in ~/.communicator/config.toml.",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'communicator-cli register' or 'login' to create one.")
					return nil
				}
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value using dot notation.\nExample: communicator-cli config set server.base_url http://127.0.0.1:8080",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	})

	return configCmd
}

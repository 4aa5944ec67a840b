package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/replydesk/internal/security"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Drafter struct {
		Provider    string  `koanf:"provider"`
		APIKey      string  `koanf:"api_key"`
		Model       string  `koanf:"model"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
	} `koanf:"drafter"`

	Mailer struct {
		Endpoint      string  `koanf:"endpoint"`
		APIKey        string  `koanf:"api_key"`
		RatePerSecond float64 `koanf:"rate_per_second"`
		Burst         int     `koanf:"burst"`
	} `koanf:"mailer"`

	Security security.Config `koanf:"security"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":            8080,
		"drafter.provider":       "gemini",
		"drafter.model":          "gemini-2.5-flash",
		"drafter.temperature":    0.4,
		"mailer.rate_per_second": 5,
		"mailer.burst":           10,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./replydesk.toml", "$HOME/.replydesk.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix REPLYDESK_
	k.Load(env.Provider("REPLYDESK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REPLYDESK_")), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# ReplyDesk Configuration

[server]
port = 8080

[drafter]
provider = "gemini"
api_key = "your-gemini-api-key"
model = "gemini-2.5-flash"
temperature = 0.4

[mailer]
endpoint = "https://mail.example.com/v1/send"
api_key = "your-mail-api-key"
rate_per_second = 5
burst = 10

[security]
# Appended on top of the built-in rule sets.
denylisted_domains = []
spam_keywords = []
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", config.Server.Port)
	}

	switch config.Drafter.Provider {
	case "openai", "gemini", "claude", "ollama":
	case "":
		return fmt.Errorf("drafter provider is required")
	default:
		return fmt.Errorf("unknown drafter provider %q", config.Drafter.Provider)
	}

	if config.Drafter.Provider != "ollama" && config.Drafter.APIKey == "" {
		return fmt.Errorf("drafter api_key is required for provider %s", config.Drafter.Provider)
	}

	if config.Mailer.Endpoint == "" {
		return fmt.Errorf("mailer endpoint is required")
	}

	return nil
}

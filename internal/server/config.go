package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ServerConfig is the complete service configuration.
type ServerConfig struct {
	Server ServerSettings `hcl:"server,block"`
	Game   GameSettings   `hcl:"game,block"`
	Store  StoreSettings  `hcl:"store,block"`
}

// ServerSettings contains transport-level configuration.
type ServerSettings struct {
	Address    string `hcl:"address,optional"`
	Port       int    `hcl:"port,optional"`
	LogLevel   string `hcl:"log_level,optional"`
	AdminToken string `hcl:"admin_token,optional"`
}

// GameSettings contains the lottery rules.
type GameSettings struct {
	MinNumber        int `hcl:"min_number,optional"`
	MaxNumber        int `hcl:"max_number,optional"`
	DrawDelaySeconds int `hcl:"draw_delay_seconds,optional"`
	ClaimWaitMs      int `hcl:"claim_wait_ms,optional"`
}

// StoreSettings selects and configures the persistence backend.
type StoreSettings struct {
	Backend       string `hcl:"backend,optional"` // "memory" or "redis"
	RedisAddr     string `hcl:"redis_addr,optional"`
	RedisPassword string `hcl:"redis_password,optional"`
	RedisDB       int    `hcl:"redis_db,optional"`
}

// DefaultServerConfig returns the configuration used when no file exists.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
		},
		Game: GameSettings{
			MinNumber:        1,
			MaxNumber:        100,
			DrawDelaySeconds: 10,
			ClaimWaitMs:      100,
		},
		Store: StoreSettings{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
	}
}

// LoadServerConfig loads configuration from an HCL file, falling back to
// defaults when the file does not exist.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultServerConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ServerConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	if config.Server.Address == "" {
		config.Server.Address = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	if config.Game.MinNumber == 0 {
		config.Game.MinNumber = 1
	}
	if config.Game.MaxNumber == 0 {
		config.Game.MaxNumber = 100
	}
	if config.Game.DrawDelaySeconds == 0 {
		config.Game.DrawDelaySeconds = 10
	}
	if config.Game.ClaimWaitMs == 0 {
		config.Game.ClaimWaitMs = 100
	}
	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.RedisAddr == "" {
		config.Store.RedisAddr = "localhost:6379"
	}

	return &config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *ServerConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.MinNumber < 1 {
		return fmt.Errorf("min_number must be at least 1, got %d", c.Game.MinNumber)
	}
	if c.Game.MaxNumber <= c.Game.MinNumber {
		return fmt.Errorf("max_number must be greater than min_number (%d <= %d)",
			c.Game.MaxNumber, c.Game.MinNumber)
	}
	if c.Game.DrawDelaySeconds < 1 {
		return fmt.Errorf("draw_delay_seconds must be positive, got %d", c.Game.DrawDelaySeconds)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis backend requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// ListenAddress returns the host:port the server binds to.
func (c *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// DrawDelay returns the configured countdown as a duration.
func (c *GameSettings) DrawDelay() time.Duration {
	return time.Duration(c.DrawDelaySeconds) * time.Second
}

// ClaimWait returns the configured exclusivity wait as a duration.
func (c *GameSettings) ClaimWait() time.Duration {
	return time.Duration(c.ClaimWaitMs) * time.Millisecond
}

package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Graph    GraphConfig       `yaml:"graph"`
	Sync     SyncConfig        `yaml:"sync"`
	Auth     AuthConfig        `yaml:"auth"`
	Projects []ProjectConfig   `yaml:"projects"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.validateProjects()
}

func (c *Config) validateProjects() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("projects: at least one project is required")
	}
	seen := make(map[string]bool, len(c.Projects))
	defaults := 0
	for i := range c.Projects {
		p := &c.Projects[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("projects: duplicate name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("projects: more than one default project")
	}
	if defaults == 0 {
		c.Projects[0].Default = true
	}
	return nil
}

// DefaultProject returns the name of the default project.
func (c *Config) DefaultProject() string {
	for _, p := range c.Projects {
		if p.Default {
			return p.Name
		}
	}
	return c.Projects[0].Name
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// GraphConfig holds the SQLite graph database configuration.
type GraphConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the graph configuration.
func (c *GraphConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig tunes the sync orchestrator. Durations are in milliseconds.
type SyncConfig struct {
	Workers        int  `yaml:"workers"`
	QueueSize      int  `yaml:"queue_size"`
	DebounceMS     int  `yaml:"debounce_ms"`
	RenameWindowMS int  `yaml:"rename_window_ms"`
	ReadRetries    int  `yaml:"read_retries"`
	Watch          bool `yaml:"watch"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(1), validation.Max(64)),
		validation.Field(&c.QueueSize, validation.Min(1), validation.Max(4096)),
		validation.Field(&c.DebounceMS, validation.Min(0), validation.Max(60_000)),
		validation.Field(&c.RenameWindowMS, validation.Min(0), validation.Max(60_000)),
		validation.Field(&c.ReadRetries, validation.Min(0), validation.Max(10)),
	)
}

// Debounce returns the per-path write debounce interval.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// RenameWindow returns the delete/create rename-pairing window.
func (c *SyncConfig) RenameWindow() time.Duration {
	return time.Duration(c.RenameWindowMS) * time.Millisecond
}

// ProjectConfig declares one project: a named document root with its own
// graph namespace.
type ProjectConfig struct {
	Name    string `yaml:"name"`
	Root    string `yaml:"root"`
	Default bool   `yaml:"default"`
	// PermalinksFollowMoves regenerates permalinks when documents are
	// renamed. Off by default: a move keeps id and permalink stable.
	PermalinksFollowMoves bool `yaml:"permalinks_follow_moves"`
}

// Validate validates one project declaration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Root, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Graph: GraphConfig{
			Path: "./ansuz.db",
		},
		Sync: SyncConfig{
			Workers:        4,
			QueueSize:      64,
			DebounceMS:     200,
			RenameWindowMS: 2000,
			ReadRetries:    3,
			Watch:          true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Projects: []ProjectConfig{
			{Name: "main", Root: "./documents", Default: true},
		},
	}
}

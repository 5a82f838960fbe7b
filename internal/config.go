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

// Remote kinds.
const (
	RemoteFS       = "fs"
	RemoteDropbox  = "dropbox"
	RemoteDisabled = "disabled"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Remote RemoteConfig      `yaml:"remote"`
	Sync   SyncConfig        `yaml:"sync"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// LogFile, when set, receives a copy of the log output with size-based
	// rotation.
	LogFile string     `yaml:"log_file"`
	HTTP    HTTPConfig `yaml:"http"`
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

// SQLiteConfig holds the note store database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RemoteConfig selects and configures the remote file store.
type RemoteConfig struct {
	Kind    string        `yaml:"kind"`
	FS      FSConfig      `yaml:"fs"`
	Dropbox DropboxConfig `yaml:"dropbox"`
	Timeout time.Duration `yaml:"timeout"`
}

// FSConfig points the fs remote at a mirror directory.
type FSConfig struct {
	Path string `yaml:"path"`
}

// DropboxConfig holds Dropbox API settings. An empty Token leaves sync
// disabled until one is configured.
type DropboxConfig struct {
	Token      string `yaml:"token"`
	Root       string `yaml:"root"`
	APIURL     string `yaml:"api_url"`
	ContentURL string `yaml:"content_url"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	if c.Kind == "" {
		c.Kind = RemoteDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(RemoteFS, RemoteDropbox, RemoteDisabled)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.Kind == RemoteFS && c.FS.Path == "" {
		return fmt.Errorf("remote: kind is %q but fs.path is empty", RemoteFS)
	}
	return nil
}

// SyncConfig tunes when and how sync passes run.
type SyncConfig struct {
	// Interval between periodic full passes. Zero disables them.
	Interval time.Duration `yaml:"interval"`
	// Debounce is the editor quiet period before an edit is saved.
	Debounce    time.Duration `yaml:"debounce"`
	Concurrency int           `yaml:"concurrency"`
	// Watch triggers a pass when the fs remote directory changes.
	Watch bool `yaml:"watch"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.Debounce, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
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
		SQLite: SQLiteConfig{
			Path: "./mono.db",
		},
		Remote: RemoteConfig{
			Kind:    RemoteFS,
			FS:      FSConfig{Path: "./mirror"},
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    5 * time.Minute,
			Debounce:    500 * time.Millisecond,
			Concurrency: 4,
			Watch:       true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

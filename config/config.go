package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"convo/model"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ProviderConfig describes one entry of the [[providers]] array.
type ProviderConfig struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Enabled    bool   `toml:"enabled"`
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model,omitempty"`
	APIVersion string `toml:"api_version,omitempty"` // Azure only
}

// SamplingConfig holds the default request parameters for new conversations.
type SamplingConfig struct {
	Temperature      *float64           `toml:"temperature,omitempty"`
	TopP             *float64           `toml:"top_p,omitempty"`
	MaxTokens        *int               `toml:"max_tokens,omitempty"`
	Stop             []string           `toml:"stop,omitempty"`
	FrequencyPenalty *float64           `toml:"frequency_penalty,omitempty"`
	PresencePenalty  *float64           `toml:"presence_penalty,omitempty"`
	LogitBias        map[string]float64 `toml:"logit_bias,omitempty"`
	User             string             `toml:"user,omitempty"`
}

type ConversationConfig struct {
	SystemPrompt string `toml:"system_prompt"`
	AutoTruncate bool   `toml:"auto_truncate"`
	Stream       bool   `toml:"stream"`
}

type SecurityConfig struct {
	CredentialStorage string `toml:"credential_storage"` // "plaintext" or "ssh_key"
	SSHKeyPath        string `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	DefaultProvider string             `toml:"default_provider"`
	Providers       []ProviderConfig   `toml:"providers"`
	Conversation    ConversationConfig `toml:"conversation"`
	Sampling        SamplingConfig     `toml:"sampling"`
	Security        SecurityConfig     `toml:"security"`
}

type Config struct {
	DataDirectory   string
	DefaultProvider string
	DefaultModel    string // Overrides the provider's model when set
	Providers       []ProviderConfig
	SystemPrompt    string
	AutoTruncate    bool
	Stream          bool
	Sampling        SamplingConfig
	Security        SecurityConfig
	CredentialStore *CredentialStore
}

var Debug = false
var DebugLog *logrus.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Provider returns the configuration for the given provider ID.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// APIKey returns the stored API key for a provider, falling back to the
// provider's conventional environment variable.
func (c *Config) APIKey(providerID string) string {
	if c.CredentialStore != nil {
		if key := c.CredentialStore.Get(providerID); key != "" {
			return key
		}
	}
	if env := apiKeyEnvVar(providerID); env != "" {
		return os.Getenv(env)
	}
	return ""
}

// Params converts the sampling defaults into request parameters.
func (c *Config) Params(modelName string) model.Params {
	s := c.Sampling
	p := model.Params{
		Model:            modelName,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		MaxTokens:        s.MaxTokens,
		Stop:             s.Stop,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		LogitBias:        s.LogitBias,
		User:             s.User,
	}
	return p.Clone()
}

func apiKeyEnvVar(providerID string) string {
	switch providerID {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	case "azure":
		return "AZURE_OPENAI_API_KEY"
	default:
		return ""
	}
}

func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("CONVO_PROVIDER"); p != "" {
		c.DefaultProvider = p
	}
	if m := os.Getenv("CONVO_MODEL"); m != "" {
		c.DefaultModel = m
	}
	if dataDir := os.Getenv("CONVO_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if baseURL := os.Getenv("CONVO_BASE_URL"); baseURL != "" {
		for i := range c.Providers {
			if c.Providers[i].ID == c.DefaultProvider {
				c.Providers[i].BaseURL = baseURL
			}
		}
	}
}

func CheckDebug() bool {
	debug := strings.ToLower(os.Getenv("CONVO_DEBUG"))
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log may contain conversation content
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = logrus.New()
	DebugLog.SetOutput(f)
	DebugLog.SetLevel(logrus.DebugLevel)
	DebugLog.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: true,
	})
	DebugLog.Printf("=== Debug logging started (CONVO_DEBUG=%s) ===", os.Getenv("CONVO_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory:   GetDefaultDataDir(),
		DefaultProvider: "openai",
		AutoTruncate:    true,
		Stream:          true,
	}

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	if systemCfg.DataDirectory != "" {
		cfg.DataDirectory = systemCfg.DataDirectory
	}
	if dataDir := os.Getenv("CONVO_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	store, err := newCredentialStoreFromConfig(cfg.Security)
	if err != nil {
		return nil, err
	}
	if err := store.Load(cfg.DataDir()); err != nil {
		if DebugLog != nil {
			DebugLog.Printf("[Config] Warning: failed to load credentials: %v", err)
		}
	}
	cfg.CredentialStore = store

	return cfg, nil
}

func (c *Config) applyUserConfig(u *UserConfig) {
	if u.DefaultProvider != "" {
		c.DefaultProvider = u.DefaultProvider
	}
	c.Providers = u.Providers
	c.SystemPrompt = u.Conversation.SystemPrompt
	c.AutoTruncate = u.Conversation.AutoTruncate
	c.Stream = u.Conversation.Stream
	c.Sampling = u.Sampling
	c.Security = u.Security
}

func newCredentialStoreFromConfig(sec SecurityConfig) (*CredentialStore, error) {
	switch SecurityMethod(sec.CredentialStorage) {
	case "", SecurityPlainText:
		return NewCredentialStore(SecurityPlainText, ""), nil
	case SecuritySSHKey:
		if sec.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh_key credential storage requires ssh_key_path")
		}
		return NewCredentialStore(SecuritySSHKey, ExpandPath(sec.SSHKeyPath)), nil
	default:
		return nil, fmt.Errorf("unknown credential storage method: %s", sec.CredentialStorage)
	}
}

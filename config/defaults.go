package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/convo",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultProvider: "openai",
		Conversation: ConversationConfig{
			AutoTruncate: true,
			Stream:       true,
		},
		Security: SecurityConfig{
			CredentialStorage: string(SecurityPlainText),
		},
	}
}

// DefaultProviders returns the built-in provider list. Cloud providers
// still need an API key before they can be used.
func DefaultProviders() []ProviderConfig {
	ids := []string{"openai", "anthropic", "openrouter", "ollama", "azure"}
	providers := make([]ProviderConfig, 0, len(ids))
	for _, id := range ids {
		providers = append(providers, ProviderConfig{
			ID:      id,
			Name:    getProviderDisplayName(id),
			Enabled: id != "azure",
			BaseURL: getProviderDefaultBaseURL(id),
		})
	}
	return providers
}

func GenerateSystemConfigTemplate() string {
	return `# convo System Configuration
# Location: ~/.config/convo/settings.toml
# This file uses TOML format: https://toml.io

# Directory where transcripts, credentials and user config are stored
data_directory = "~/.local/share/convo"
`
}

func GenerateUserConfigTemplate() string {
	return `# convo User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Provider used when none is given on the command line
default_provider = "openai"

[conversation]
# System prompt prepended to new conversations (optional)
system_prompt = ""

# Drop the oldest non-system message and retry when the model reports
# that the conversation no longer fits its context window
auto_truncate = true

# Stream replies as they are generated
stream = true

[sampling]
# temperature = 0.7
# top_p = 1.0
# max_tokens = 1024
# stop = ["\n\nUser:"]
# frequency_penalty = 0.0
# presence_penalty = 0.0
# user = "my-app-user"

[security]
# "plaintext" (credentials.toml) or "ssh_key" (credentials.enc)
credential_storage = "plaintext"
# ssh_key_path = "~/.ssh/id_ed25519"

[[providers]]
id = "openai"
name = "OpenAI"
enabled = true
base_url = "https://api.openai.com/v1"
model = "gpt-4o-mini"

[[providers]]
id = "anthropic"
name = "Anthropic"
enabled = true
base_url = "https://api.anthropic.com"

[[providers]]
id = "openrouter"
name = "OpenRouter"
enabled = true
base_url = "https://openrouter.ai/api/v1"

[[providers]]
id = "ollama"
name = "Ollama"
enabled = true
base_url = "http://localhost:11434"
model = "llama3.1:latest"

[[providers]]
id = "azure"
name = "Azure OpenAI"
enabled = false
base_url = "https://my-resource.openai.azure.com"
api_version = "2024-06-01"
`
}

// getProviderDisplayName returns the display name for a provider
func getProviderDisplayName(providerID string) string {
	switch providerID {
	case "ollama":
		return "Ollama"
	case "openrouter":
		return "OpenRouter"
	case "anthropic":
		return "Anthropic"
	case "openai":
		return "OpenAI"
	case "azure":
		return "Azure OpenAI"
	default:
		return providerID
	}
}

// getProviderDefaultBaseURL returns the default base URL for a provider
func getProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	case "anthropic":
		return "https://api.anthropic.com"
	case "openai":
		return "https://api.openai.com/v1"
	case "ollama":
		return "http://localhost:11434"
	default:
		return ""
	}
}

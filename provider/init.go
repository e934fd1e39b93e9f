package provider

import (
	"fmt"

	"convo/config"
	"convo/model"
)

// InitializeProviders creates a provider for every enabled entry in cfg.
//
// API keys come from the credential store, falling back to environment
// variables. A provider that fails to initialize (usually a missing key)
// is logged and skipped so the others remain usable.
func InitializeProviders(cfg *config.Config) map[string]model.Provider {
	providers := make(map[string]model.Provider)

	for _, providerCfg := range cfg.Providers {
		if !providerCfg.Enabled {
			continue
		}

		p, err := NewProviderFromConfig(cfg, providerCfg.ID, "")
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Provider] Warning: failed to initialize provider %s: %v", providerCfg.ID, err)
			}
			continue
		}

		providers[providerCfg.ID] = p
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Provider] Initialized provider: %s (model: %s)", providerCfg.ID, p.DefaultModel())
		}
	}

	return providers
}

// NewProviderFromConfig creates the provider configured under id.
// modelName overrides the configured model when non-empty; otherwise
// cfg.DefaultModel applies to the default provider.
func NewProviderFromConfig(cfg *config.Config, id, modelName string) (model.Provider, error) {
	providerCfg, ok := cfg.Provider(id)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", id)
	}

	if modelName == "" && id == cfg.DefaultProvider {
		modelName = cfg.DefaultModel
	}
	if modelName == "" {
		modelName = providerCfg.Model
	}

	p, err := NewProvider(Config{
		Type:       MapProviderIDToType(providerCfg.ID),
		BaseURL:    providerCfg.BaseURL,
		Model:      modelName,
		APIKey:     cfg.APIKey(providerCfg.ID),
		APIVersion: providerCfg.APIVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", id, err)
	}

	return p, nil
}

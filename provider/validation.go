package provider

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"convo/config"
	"convo/model"
	"convo/ollama"
)

const validationTimeout = 15 * time.Second

// PingProviderMsg is sent when provider ping completes
type PingProviderMsg struct {
	ProviderID string
	Valid      bool
	Err        error
}

// ModelsMsg is sent when a provider's model list has been fetched
type ModelsMsg struct {
	ProviderID string
	Models     []ollama.ModelInfo
	Err        error
}

// PingProvider checks that p is reachable and its credentials are accepted.
func PingProvider(p model.Provider) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), validationTimeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return PingProviderMsg{
				ProviderID: p.Name(),
				Valid:      false,
				Err:        fmt.Errorf("connection failed: %w", err),
			}
		}

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Provider] Provider %s ping successful", p.Name())
		}

		return PingProviderMsg{
			ProviderID: p.Name(),
			Valid:      true,
		}
	}
}

// FetchModels lists the models offered by p.
func FetchModels(p model.Provider) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), validationTimeout)
		defer cancel()

		models, err := p.ListModels(ctx)
		if err != nil {
			return ModelsMsg{ProviderID: p.Name(), Err: err}
		}

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Provider] Fetched %d models from provider %s", len(models), p.Name())
		}

		return ModelsMsg{
			ProviderID: p.Name(),
			Models:     models,
		}
	}
}

package provider_test

import (
	"context"
	"fmt"
	"log"

	"convo/conversation"
	"convo/provider"
	"convo/provider/testutil"
)

// ExampleNewProvider demonstrates creating an Ollama provider using the factory.
func ExampleNewProvider() {
	cfg := provider.Config{
		Type:    provider.ProviderTypeOllama,
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	}

	p, err := provider.NewProvider(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Provider created: %T (model %s)\n", p, p.DefaultModel())
	// Output: Provider created: *provider.OllamaProvider (model llama3.1)
}

// ExampleMapProviderIDToType shows how config provider ids select an
// implementation.
func ExampleMapProviderIDToType() {
	for _, id := range []string{"ollama", "claude", "azure-openai"} {
		fmt.Println(id, "->", provider.MapProviderIDToType(id))
	}
	// Output:
	// ollama -> ollama
	// claude -> anthropic
	// azure-openai -> azure
}

// Example_streaming drives a conversation over any provider. The mock
// stands in for a real service here.
func Example_streaming() {
	p := testutil.NewMockProvider("llama3.1")

	conv := conversation.New(p)
	conv.AppendSystemMessage("You are terse.")
	conv.AppendUserInput("Say something.")

	err := conv.StreamResponseFunc(context.Background(), func(fragment string) error {
		fmt.Printf("[%s]", fragment)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println()
	fmt.Println(conv.Len(), "messages")
	// Output:
	// [Mock ][response]
	// 3 messages
}

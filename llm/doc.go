// Package llm holds the provider-neutral vocabulary shared by the runtime:
// messages, requests, responses, stream events and errors.
//
// Provider packages (anthropic, openai, ollama) implement Client and convert
// their SDK errors into *Error so that retry predicates can classify failures
// without importing any SDK.
//
//	client, err := anthropic.NewClient(cfg, logger)
//	resp, err := client.Synchronous(ctx, &llm.Request{
//	    Model:    "claude-haiku-4-5",
//	    Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello!")},
//	})
//
// ProviderRegistry resolves a provider name into a ClientConfig using a
// ConfigSource with environment fallbacks.
package llm

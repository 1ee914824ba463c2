// Package textgen provides a provider-agnostic text completion client.
//
// The package deliberately exposes a plain-text contract: a request is an
// ordered list of role-tagged messages, a response is the raw text the model
// produced. There is no tool-call or structured-output surface because the
// models this module targets cannot reliably emit function-call payloads;
// the actionloop package layers its own XML action protocol on top of the
// text returned here.
//
// Provider backends implement ProviderAdapter. The bundled GollmAdapter
// wraps gollm and covers OpenAI, Anthropic, and any OpenAI-compatible
// endpoint (Ollama via base URL). Errors are classified into a taxonomy
// that distinguishes retryable conditions (rate limits, server errors,
// timeouts) from terminal ones (auth, invalid request), and Retry applies
// exponential backoff honoring that classification.
package textgen

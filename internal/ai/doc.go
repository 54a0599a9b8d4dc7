// Package ai implements the external AI capabilities pulsefeed consumes:
// a chat-completion Provider plus the triage, topic-clustering, and
// digest-composition calls built on it.
//
// Provider is an injected capability, not a hardcoded vendor. The
// shipped implementation talks to any OpenAI-compatible chat
// completions endpoint (OpenAI, Groq, Ollama, vLLM, ...), which covers
// every provider the system selects between. Callers own timeouts via
// context.
package ai

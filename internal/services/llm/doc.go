// Package llm provides an OpenAI-compatible chat client and the summarizer used
// for block and digest summaries.
//
// # Model Fallback
//
// Config.Models is an ordered chain. Each model is retried on HTTP 408/429/5xx,
// network timeouts, and empty content with exponential backoff (base 1s, max
// 10s). When a model is exhausted the next one is tried. Rejected credentials
// (401/403) stop the chain immediately.
//
// # Error Markers
//
// Every error returned by Client.Complete carries a services marker so the
// task worker can classify it: ErrConfiguration for credentials, ErrPermanent
// when the chain ends on a 4xx refusal, ErrTransient otherwise.
//
// # Rate Limiting
//
// RequestsPerMinute gates every HTTP attempt through a golang.org/x/time/rate
// limiter shared by all goroutines using the client.
//
// # Structured Output
//
// ClientSummarizer asks for JSON first. An unparseable answer or a permanent
// refusal falls back to a plain-text completion with the same input.
package llm

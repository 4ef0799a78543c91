// Package transcribe uploads block audio to an OpenAI-compatible
// speech-to-text endpoint and returns the transcript with timestamped segments.
//
// Models are tried in configured order. Each model gets a bounded number of
// attempts for HTTP 408/429/5xx and timeouts; other 4xx answers move straight
// to the next model. Returned errors carry services markers: ErrConfiguration
// for rejected credentials, ErrValidation for unreadable audio, ErrPermanent
// when every model refused the upload, ErrTransient otherwise.
package transcribe

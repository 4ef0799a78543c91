// Package config loads, normalizes, and validates radiodigest configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RADIODIGEST_LLM_API_KEY. The Config type centralizes every knob the workers,
// scheduler, and CLI need: program block layouts, the coordination authority,
// lease and retry settings, and external service credentials.
//
// Configuration is read once at process start and treated as immutable
// afterwards. An unrecognized coordination authority is a startup error.
package config

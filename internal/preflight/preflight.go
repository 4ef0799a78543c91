package preflight

import (
	"context"

	"radiodigest/internal/config"
)

// minFreeBytes is the free space below which the data directory check fails.
const minFreeBytes = 512 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Transcript directory", cfg.TranscriptDir()),
		CheckFreeSpace("Data volume", cfg.Paths.DataDir, minFreeBytes),
		CheckLLM(ctx, "Summarization LLM", cfg.LLM),
		CheckTranscription("Speech-to-text", cfg.Transcription),
		CheckSMTP(ctx, "SMTP relay", cfg.SMTP),
	}
	return results
}

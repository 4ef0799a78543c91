package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"radiodigest/internal/store"
)

// writeJSON prints v as indented JSON. Digest bodies contain '<' and '&', so HTML
// escaping is off.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type blockJSON struct {
	ID             int64             `json:"id"`
	Program        string            `json:"program"`
	Date           string            `json:"date"`
	Code           string            `json:"code"`
	Status         string            `json:"status"`
	FailedFrom     string            `json:"failed_from,omitempty"`
	ErrorMessage   string            `json:"error,omitempty"`
	AudioPath      string            `json:"audio_path,omitempty"`
	TranscriptPath string            `json:"transcript_path,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	Participants   int               `json:"participants"`
	Transitions    map[string]string `json:"transitions,omitempty"`
	UpdatedAt      string            `json:"updated_at"`
}

func blockView(block *store.Block) blockJSON {
	view := blockJSON{
		ID:             block.ID,
		Program:        block.Program,
		Date:           block.Date,
		Code:           block.Code,
		Status:         string(block.Status),
		FailedFrom:     string(block.FailedFrom),
		ErrorMessage:   block.ErrorMessage,
		AudioPath:      block.AudioPath,
		TranscriptPath: block.TranscriptPath,
		Summary:        block.Summary,
		Participants:   block.Participants,
		UpdatedAt:      block.UpdatedAt.Format(time.RFC3339),
	}
	if len(block.Transitions) > 0 {
		view.Transitions = make(map[string]string, len(block.Transitions))
		for status, at := range block.Transitions {
			view.Transitions[string(status)] = at.Format(time.RFC3339)
		}
	}
	return view
}

type taskJSON struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	BlockID     int64  `json:"block_id,omitempty"`
	Program     string `json:"program,omitempty"`
	Date        string `json:"date,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	WorkerID    string `json:"worker_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func taskView(task *store.Task) taskJSON {
	return taskJSON{
		ID:          task.ID,
		Type:        string(task.Type),
		BlockID:     task.BlockID,
		Program:     task.Unit.Program,
		Date:        task.Unit.Date,
		Status:      string(task.Status),
		Attempts:    task.Attempts,
		MaxAttempts: task.MaxAttempts,
		WorkerID:    task.WorkerID,
		LastError:   task.LastError,
		CreatedAt:   task.CreatedAt.Format(time.RFC3339),
	}
}

type digestJSON struct {
	Program       string `json:"program"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	BlockCount    int    `json:"block_count"`
	Participants  int    `json:"participants"`
	Rebuilds      int    `json:"rebuilds"`
	ContentFormat string `json:"content_format,omitempty"`
	Content       string `json:"content,omitempty"`
	ErrorMessage  string `json:"error,omitempty"`
	SentAt        string `json:"sent_at,omitempty"`
}

func digestView(dg *store.Digest, withContent bool) digestJSON {
	view := digestJSON{
		Program:       dg.Unit.Program,
		Date:          dg.Unit.Date,
		Status:        string(dg.Status),
		BlockCount:    dg.BlockCount,
		Participants:  dg.Participants,
		Rebuilds:      dg.Rebuilds,
		ContentFormat: dg.ContentFormat,
		ErrorMessage:  dg.ErrorMessage,
	}
	if withContent {
		view.Content = dg.Content
	}
	if dg.SentAt != nil {
		view.SentAt = dg.SentAt.Format(time.RFC3339)
	}
	return view
}

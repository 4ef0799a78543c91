package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DocumentPath returns where the transcript of one block is stored under root.
func DocumentPath(root, program, date, code string) string {
	return filepath.Join(root, program, date, code+".json")
}

// Save writes transcript to path as indented JSON. The file is written to a
// temporary sibling and renamed so readers never see a partial document.
func Save(path string, transcript Transcript) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

// Load reads a transcript document written by Save.
func Load(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	var transcript Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript %s: %w", path, err)
	}
	return transcript, nil
}

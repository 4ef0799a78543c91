package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteAudio writes size bytes of placeholder audio under the config base directory
// and returns the path. A size <= 0 writes a single byte.
func WriteAudio(t testing.TB, dir, name string, size int) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"radiodigest/internal/config"
	"radiodigest/internal/mailer"
	"radiodigest/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Models:  cfg.Models,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError("LLM API", err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckTranscription verifies the speech-to-text settings are complete. The
// endpoint is not called because every request uploads audio.
func CheckTranscription(name string, cfg config.Transcription) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}
	if len(cfg.Models) == 0 {
		return Result{Name: name, Detail: "no models configured"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d model(s) configured", len(cfg.Models))}
}

// CheckSMTP verifies the relay settings and that the relay accepts TCP connections.
func CheckSMTP(ctx context.Context, name string, cfg config.SMTP) Result {
	sender, err := mailer.New(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if err := sender.Check(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", address, summarizeNetError("SMTP relay", err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", address)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes available.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s)", detail, humanize.IBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// summarizeNetError produces a human-readable summary for connectivity failures.
func summarizeNetError(target string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("check timed out (%s unresponsive)", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("check timed out (%s unreachable)", target)
	}
	return err.Error()
}

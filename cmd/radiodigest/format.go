package main

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

// statusColor maps block, task, and digest statuses onto a terminal color.
func statusColor(status string) string {
	switch status {
	case "completed", "sent", "ready":
		return ansiGreen
	case "failed":
		return ansiRed
	case "running", "building", "sending", "recording", "transcribing", "summarizing":
		return ansiYellow
	case "pending", "scheduled":
		return ansiBlue
	default:
		return ""
	}
}

func colorStatus(status string, colorize bool) string {
	color := statusColor(status)
	if !colorize || color == "" {
		return status
	}
	return color + status + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatWhenPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatWhen(*t)
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "\n", " "))
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, &invalidIDError{value: arg}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type invalidIDError struct {
	value string
}

func (e *invalidIDError) Error() string {
	return "invalid id " + strconv.Quote(e.value)
}

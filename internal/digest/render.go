package digest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"radiodigest/internal/config"
	"radiodigest/internal/mailer"
	"radiodigest/internal/store"
)

// UnitHeader is the generic header carrying the reporting unit on outbound mail.
const UnitHeader = "X-Radiodigest-Unit"

var titleCaser = cases.Title(language.Und)

// ProgramTitle returns the display title of a program. Names that are still the
// program key get dashes replaced and title casing applied.
func ProgramTitle(program config.Program) string {
	name := strings.TrimSpace(program.Name)
	if name == "" || name == program.Key {
		name = strings.NewReplacer("-", " ", "_", " ").Replace(program.Key)
		return titleCaser.String(name)
	}
	return name
}

// Subject renders the email subject for a digest.
func Subject(program config.Program, date string) string {
	return fmt.Sprintf("%s digest for %s", ProgramTitle(program), displayDate(date))
}

// Render builds the outbound email for a ready digest.
func Render(program config.Program, digest *store.Digest) mailer.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", ProgramTitle(program), displayDate(digest.Unit.Date))
	b.WriteString(strings.TrimSpace(digest.Content))
	b.WriteString("\n\n--\n")
	fmt.Fprintf(&b, "Blocks: %d\n", digest.BlockCount)
	if digest.Participants > 0 {
		fmt.Fprintf(&b, "Participants: %d\n", digest.Participants)
	}
	return mailer.Message{
		To:      append([]string(nil), program.Recipients...),
		Subject: Subject(program, digest.Unit.Date),
		Body:    b.String(),
		Headers: map[string]string{UnitHeader: digest.Unit.String()},
	}
}

func displayDate(date string) string {
	parsed, err := time.Parse(store.DateLayout, date)
	if err != nil {
		return date
	}
	return parsed.Format("Monday, January 2, 2006")
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// Package console renders interview progress for a terminal and keeps a
// plain-text copy of the transcript.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
)

const clock = "15:04:05"

// Speaker returns the display name for a role.
func Speaker(r transcript.Role) string {
	if r == transcript.RoleUser {
		return "You"
	}
	return "Coach"
}

// FormatItem renders it as "[15:04:05] You: text".
func FormatItem(it transcript.Item) string {
	return fmt.Sprintf("[%s] %s: %s", it.Timestamp.Format(clock), Speaker(it.Role), it.Text)
}

// statusLine is printed when the interview enters a status.
func statusLine(s session.Status) string {
	switch s {
	case session.StatusIdle:
		return "Ready for your interview. Start a new session when you are."
	case session.StatusConnecting:
		return "Setting up your interview booth: checking the microphone and connecting to the coach..."
	case session.StatusActive:
		return "Interview session live. The coach is listening; speak naturally."
	case session.StatusFinished:
		return "Interview session completed."
	default:
		return ""
	}
}

// Printer is a [session.Observer] writing one line per notification.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ session.Observer = (*Printer)(nil)

// NewPrinter returns a Printer writing to w, or to stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// OnStatusChange implements [session.Observer]. The error status is reported
// through OnError instead.
func (p *Printer) OnStatusChange(s session.Status) {
	if line := statusLine(s); line != "" {
		p.println(line)
	}
}

// OnTranscriptAppended implements [session.Observer].
func (p *Printer) OnTranscriptAppended(it transcript.Item) {
	p.println(FormatItem(it))
}

// OnError implements [session.Observer].
func (p *Printer) OnError(msg string) {
	p.println("Something went wrong: " + msg)
}

// WriteTranscript writes a titled plain-text summary of items.
func WriteTranscript(w io.Writer, items []transcript.Item, generated time.Time) error {
	if _, err := fmt.Fprintf(w, "Mock Interview Chat Summary\nGenerated on: %s\n\n",
		generated.Format(time.DateTime)); err != nil {
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "(no transcript)")
		return err
	}
	for _, it := range items {
		if _, err := fmt.Fprintln(w, FormatItem(it)); err != nil {
			return err
		}
	}
	return nil
}

package console

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/asmcenter/voicecoach/internal/transcript"
)

// FileSink appends transcript lines to a file. A header line is written
// whenever the session changes.
type FileSink struct {
	mu      sync.Mutex
	f       *os.File
	session string
}

var _ transcript.Sink = (*FileSink)(nil)

// OpenFileSink opens path for appending, creating it if needed.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("console: open transcript file: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Name implements [transcript.Sink].
func (s *FileSink) Name() string { return "file" }

// Write implements [transcript.Sink].
func (s *FileSink) Write(ctx context.Context, sessionID string, items []transcript.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.session {
		if _, err := fmt.Fprintf(s.f, "== session %s ==\n", sessionID); err != nil {
			return fmt.Errorf("console: write transcript file: %w", err)
		}
		s.session = sessionID
	}
	for _, it := range items {
		if _, err := fmt.Fprintln(s.f, FormatItem(it)); err != nil {
			return fmt.Errorf("console: write transcript file: %w", err)
		}
	}
	return nil
}

// Close implements [transcript.Sink].
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

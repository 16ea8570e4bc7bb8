package handshake

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const logTypeStep = "handshake.step"

const maxLogLine = 128 * 1024

var (
	ErrInvalidLog     = errors.New("handshake: invalid session log")
	ErrLogLineTooLong = errors.New("handshake: session log line too large")
)

type logEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Step      *Step  `json:"step"`
}

// WriteLog writes the session log as one JSON object per line.
func WriteLog(w io.Writer, sessionID string, steps []Step) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: missing session id", ErrInvalidLog)
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := writeLogEnvelope(w, logEnvelope{
			Type:      logTypeStep,
			SessionID: sessionID,
			Seq:       i,
			Step:      &steps[i],
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReadLog reads a log written by WriteLog. It enforces sequence order,
// monotonic timestamps, and at most one terminal step in final position.
func ReadLog(r io.Reader) (string, []Step, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLogLine)
	sc.Split(splitLogLine)
	var (
		sessionID string
		steps     []Step
	)
	for sc.Scan() {
		var env logEnvelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrInvalidLog, err)
		}
		if env.Type != logTypeStep || env.Step == nil {
			return "", nil, fmt.Errorf("%w: unexpected entry type %q", ErrInvalidLog, env.Type)
		}
		if sessionID == "" {
			sessionID = env.SessionID
		} else if env.SessionID != sessionID {
			return "", nil, fmt.Errorf("%w: mixed sessions %s and %s", ErrInvalidLog, sessionID, env.SessionID)
		}
		if env.Seq != len(steps) {
			return "", nil, fmt.Errorf("%w: expected seq %d, got %d", ErrInvalidLog, len(steps), env.Seq)
		}
		if err := env.Step.Validate(); err != nil {
			return "", nil, err
		}
		if n := len(steps); n > 0 {
			if steps[n-1].Kind.Terminal() {
				return "", nil, fmt.Errorf("%w: entry after terminal step", ErrInvalidLog)
			}
			if env.Step.Timestamp.Before(steps[n-1].Timestamp) {
				return "", nil, fmt.Errorf("%w: timestamp went backwards at seq %d", ErrInvalidLog, env.Seq)
			}
		}
		steps = append(steps, *env.Step)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", nil, ErrLogLineTooLong
		}
		return "", nil, err
	}
	return sessionID, steps, nil
}

func writeLogEnvelope(w io.Writer, env logEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// splitLogLine is bufio.ScanLines without the implicit final line: input
// that does not end in a newline is a truncated log.
func splitLogLine(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(bytes.TrimSpace(data)) > 0 {
		return 0, nil, fmt.Errorf("%w: truncated final line", ErrInvalidLog)
	}
	return 0, nil, nil
}

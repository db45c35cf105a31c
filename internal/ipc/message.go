// Package ipc implements the parent <-> child control channel:
// newline-delimited JSON messages over the child's stdin and stdout.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

// MessageType discriminates control messages.
type MessageType string

const (
	// Parent -> child.
	TypeConfig   MessageType = "config"
	TypeShutdown MessageType = "shutdown"

	// Child -> parent.
	TypeStarted MessageType = "started"
	TypeEvent   MessageType = "event"
	TypeError   MessageType = "error"
)

// MaxFrameSize bounds one control frame. Larger lines are skipped whole and
// the stream carries on with the next frame.
const MaxFrameSize = 64 << 20

// Message is one control channel frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Config  json.RawMessage `json:"config,omitempty"`
	PID     int             `json:"pid,omitempty"`
	Level   string          `json:"level,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ConfigMessage wraps a config push.
func ConfigMessage(cfg domain.EnforcementConfig) (Message, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode config: %w", err)
	}
	return Message{Type: TypeConfig, Config: data}, nil
}

// ShutdownMessage asks the child to exit.
func ShutdownMessage() Message { return Message{Type: TypeShutdown} }

// StartedMessage announces a child's PID.
func StartedMessage(pid int) Message { return Message{Type: TypeStarted, PID: pid} }

// EventMessage reports a notable child event.
func EventMessage(level, reason string) Message {
	return Message{Type: TypeEvent, Level: level, Reason: reason}
}

// ErrorMessage reports a child-side failure.
func ErrorMessage(err error) Message { return Message{Type: TypeError, Message: err.Error()} }

// Encoder writes messages, one per line. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send writes one message.
func (e *Encoder) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decoder reads messages, one per line.
type Decoder struct {
	r   *bufio.Reader
	max int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return newDecoder(r, MaxFrameSize)
}

func newDecoder(r io.Reader, max int) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Next returns the next message. Blank, malformed and oversized lines are
// skipped. Returns io.EOF when the stream ends.
func (d *Decoder) Next() (Message, error) {
	for {
		line, err := d.readLine()
		if len(line) > 0 {
			var m Message
			if jerr := json.Unmarshal(line, &m); jerr == nil && m.Type != "" {
				return m, nil
			}
		}
		if err != nil {
			return Message{}, err
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// d.max is consumed to its end and returned empty.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > d.max {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, err
		}
		return bytes.TrimRight(line, "\r\n"), err
	}
}

// Pump decodes r until EOF, delivering messages to out. out is closed on return.
func Pump(r io.Reader, out chan<- Message) {
	defer close(out)
	dec := NewDecoder(r)
	for {
		m, err := dec.Next()
		if err != nil {
			return
		}
		out <- m
	}
}

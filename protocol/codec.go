package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineBytes bounds the size of a single wire record. Lines longer than
// this are treated as malformed rather than buffered indefinitely.
const MaxLineBytes = 64 * 1024

var (
	// ErrMalformed indicates a line that could not be decoded into an
	// Envelope. Decoding continues with the next line; only I/O errors
	// and oversized records are terminal.
	ErrMalformed = errors.New("malformed envelope")
	// ErrLineTooLong indicates a record exceeding MaxLineBytes. The
	// stream cannot be resynchronized afterwards, so the connection
	// must be closed.
	ErrLineTooLong = errors.New("record exceeds maximum line size")
)

// Encoder writes envelopes to a stream, one JSON object per line.
// It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Write marshals env and writes it followed by the record delimiter,
// flushing the underlying stream.
func (e *Encoder) Write(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited envelopes from a stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &Decoder{scanner: scanner}
}

// Read returns the next envelope on the stream. Undecodable or structurally
// invalid lines return an error wrapping ErrMalformed; callers should skip
// them and keep reading. Blank lines are skipped. io.EOF is returned when
// the stream ends.
func (d *Decoder) Read() (*Envelope, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &env, nil
	}

	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, MaxLineBytes)
		}
		return nil, err
	}
	return nil, io.EOF
}

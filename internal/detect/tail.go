package detect

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Iron-Ham/waproxy/internal/capture"
	"github.com/Iron-Ham/waproxy/internal/errors"
)

const readChunk = 32 * 1024

// Follower reads a growing file incrementally. A file that shrinks
// (truncated or recreated) is read again from the start.
// Not safe for concurrent use.
type Follower struct {
	path   string
	offset int64

	// OnRestart, if set, runs before any chunk of a restarted file is delivered.
	OnRestart func()
}

// NewFollower creates a Follower positioned at the start of path.
func NewFollower(path string) *Follower {
	return &Follower{path: path}
}

// Next calls fn with each chunk appended since the previous call.
// restarted is true when the file shrank and reading began again at 0.
// A missing file returns errors.ErrLogNotFound and resets the offset.
func (f *Follower) Next(fn func(chunk []byte)) (restarted bool, err error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			restarted = f.offset > 0
			if restarted {
				f.restart()
			}
			return restarted, errors.ErrLogNotFound
		}
		return false, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat log: %w", err)
	}
	if info.Size() < f.offset {
		f.restart()
		restarted = true
	}
	if info.Size() == f.offset {
		return restarted, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return restarted, fmt.Errorf("failed to seek log: %w", err)
	}

	buf := make([]byte, readChunk)
	for {
		n, rerr := file.Read(buf)
		if n > 0 {
			f.offset += int64(n)
			fn(buf[:n])
		}
		if rerr == io.EOF {
			return restarted, nil
		}
		if rerr != nil {
			return restarted, fmt.Errorf("failed to read log: %w", rerr)
		}
	}
}

func (f *Follower) restart() {
	f.offset = 0
	if f.OnRestart != nil {
		f.OnRestart()
	}
}

// Offset returns the number of bytes consumed so far.
func (f *Follower) Offset() int64 {
	return f.offset
}

// Reset rewinds to the start of the file.
func (f *Follower) Reset() {
	f.offset = 0
}

// SkipToEnd moves past everything currently in the file.
func (f *Follower) SkipToEnd() error {
	info, err := os.Stat(f.path)
	if err != nil {
		f.offset = 0
		if os.IsNotExist(err) {
			return errors.ErrLogNotFound
		}
		return fmt.Errorf("failed to stat log: %w", err)
	}
	f.offset = info.Size()
	return nil
}

// Tail tracks the pairing state of a bridge log file across polls.
// The authenticated marker is sticky until the file is recreated or Reset
// is called; the QR code is looked for in the last window of output.
// It is safe for concurrent use.
type Tail struct {
	mu            sync.Mutex
	scanner       *Scanner
	follower      *Follower
	window        *capture.RingBuffer
	carry         []byte // end of the previous chunk, for markers split across reads
	authenticated bool
}

// NewTail creates a Tail over path keeping windowBytes of recent output.
func NewTail(path string, scanner *Scanner, windowBytes int) *Tail {
	t := &Tail{
		scanner:  scanner,
		follower: NewFollower(path),
		window:   capture.NewRingBuffer(windowBytes),
	}
	t.follower.OnRestart = t.clearLocked
	return t
}

// Poll consumes new log output and returns the current result.
// A missing log file is reported as errors.ErrLogNotFound together with an
// empty result.
func (t *Tail) Poll() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := len(t.scanner.authenticated) - 1
	_, err := t.follower.Next(func(chunk []byte) {
		_, _ = t.window.Write(chunk)
		if t.authenticated {
			return
		}
		joined := append(t.carry, chunk...)
		if t.scanner.IsAuthenticated(joined) {
			t.authenticated = true
		}
		if len(joined) > keep {
			joined = joined[len(joined)-keep:]
		}
		t.carry = append(t.carry[:0], joined...)
	})
	if err != nil {
		if errors.Is(err, errors.ErrLogNotFound) {
			t.clearLocked()
		}
		return Result{}, err
	}

	if t.authenticated {
		return Result{Authenticated: true}, nil
	}
	return t.scanner.Scan(t.window.Bytes()), nil
}

// clearLocked drops state derived from earlier output. mu must be held.
func (t *Tail) clearLocked() {
	t.window.Reset()
	t.carry = t.carry[:0]
	t.authenticated = false
}

// Reset forgets everything read so far and starts again at offset 0.
func (t *Tail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.follower.Reset()
	t.clearLocked()
}

// Window returns a copy of the most recent output.
func (t *Tail) Window() []byte {
	return t.window.Bytes()
}

// TailLines returns the last n lines of the file at path, newlines included.
// A missing file returns a NotFoundError wrapping errors.ErrLogNotFound.
func TailLines(path string, n int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("log", path).WithCause(errors.ErrLogNotFound)
		}
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	if n <= 0 || info.Size() == 0 {
		return "", nil
	}

	// Read backwards until n line breaks precede the final line.
	var data []byte
	pos := info.Size()
	for pos > 0 {
		size := int64(readChunk)
		if size > pos {
			size = pos
		}
		pos -= size

		buf := make([]byte, size)
		if _, err := file.ReadAt(buf, pos); err != nil && err != io.EOF {
			return "", err
		}
		data = append(buf, data...)

		if countLines(data) > n {
			break
		}
	}

	return string(lastLines(data, n)), nil
}

// countLines counts lines, treating a final unterminated fragment as a line.
func countLines(data []byte) int {
	c := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		c++
	}
	return c
}

func lastLines(data []byte, n int) []byte {
	end := len(data)
	if end > 0 && data[end-1] == '\n' {
		end--
	}
	seen := 0
	for i := end - 1; i >= 0; i-- {
		if data[i] == '\n' {
			seen++
			if seen == n {
				return data[i+1:]
			}
		}
	}
	return data
}

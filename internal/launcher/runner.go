package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ProcessSpec describes one broadcast process to spawn
type ProcessSpec struct {
	StreamID    string
	BroadcastID string // external broadcast id, empty for manual ingest
}

// Process is the handle for a spawned broadcast process
type Process interface {
	Signal(sig os.Signal) error
	// Done is closed when the process has exited
	Done() <-chan struct{}
	// ExitErr reports the exit error, valid once Done is closed
	ExitErr() error
	// Output returns the captured tail of the process stderr
	Output() []byte
}

// Runner spawns broadcast processes
type Runner interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
}

// FFmpegRunner spawns ffmpeg pushing the staged media file for a
// stream to its RTMP ingest target. Media files are staged under
// mediaDir by the upload pipeline, keyed by stream id.
type FFmpegRunner struct {
	ffmpegPath    string
	mediaDir      string
	ingestBaseURL string
	tailBytes     int
}

// NewFFmpegRunner creates a runner for real ffmpeg processes
func NewFFmpegRunner(ffmpegPath, mediaDir, ingestBaseURL string, tailBytes int) *FFmpegRunner {
	if tailBytes <= 0 {
		tailBytes = 64 * 1024
	}
	return &FFmpegRunner{
		ffmpegPath:    ffmpegPath,
		mediaDir:      mediaDir,
		ingestBaseURL: ingestBaseURL,
		tailBytes:     tailBytes,
	}
}

// Spawn starts ffmpeg for the given stream
func (r *FFmpegRunner) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	target := spec.BroadcastID
	if target == "" {
		target = spec.StreamID
	}
	input := filepath.Join(r.mediaDir, spec.StreamID+".mp4")

	args := []string{
		"-re",
		"-stream_loop", "-1",
		"-i", input,
		"-c", "copy",
		"-f", "flv",
		fmt.Sprintf("%s/%s", r.ingestBaseURL, target),
	}

	cmd := exec.Command(r.ffmpegPath, args...)
	tail := newTailBuffer(r.tailBytes)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &execProcess{
		cmd:  cmd,
		tail: tail,
		done: make(chan struct{}),
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// execProcess wraps a running exec.Cmd
type execProcess struct {
	cmd  *exec.Cmd
	tail *tailBuffer
	done chan struct{}
	err  error
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

// ExitErr is valid once Done is closed
func (p *execProcess) ExitErr() error { return p.err }

func (p *execProcess) Output() []byte { return p.tail.Bytes() }

// tailBuffer is an io.Writer that keeps only the last max bytes
// written, so long-running processes cannot grow memory unbounded
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

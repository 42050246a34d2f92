package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

const chunkSize = 32 * 1024

var (
	// ErrRecording is returned by Start while a session is active.
	ErrRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop without an active session.
	ErrNotRecording = errors.New("no recording in progress")
)

// AudioSource produces captured audio. Open starts capture; the stream ends
// when the source is exhausted or the returned reader is closed.
type AudioSource interface {
	Open(ctx context.Context) (stream io.ReadCloser, contentType string, err error)
}

// ReaderSource adapts an existing stream, such as a file written by an
// external capture tool, into an AudioSource.
type ReaderSource struct {
	Reader      io.Reader
	ContentType string
}

// Open implements AudioSource.
func (s ReaderSource) Open(context.Context) (io.ReadCloser, string, error) {
	if s.Reader == nil {
		return nil, "", errors.New("reader source has no reader")
	}
	contentType := s.ContentType
	if contentType == "" {
		contentType = "audio/webm"
	}
	if rc, ok := s.Reader.(io.ReadCloser); ok {
		return rc, contentType, nil
	}
	return io.NopCloser(s.Reader), contentType, nil
}

// Recorder accumulates one capture session into a voice File.
type Recorder struct {
	source   AudioSource
	maxBytes int64
	clock    clock.Clock

	mu          sync.Mutex
	stream      io.ReadCloser
	contentType string
	buf         bytes.Buffer
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	readErr     error
	overflow    bool
}

// NewRecorder creates a recorder over source. maxBytes bounds a recording.
func NewRecorder(source AudioSource, maxBytes int64, clk clock.Clock) *Recorder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{source: source, maxBytes: maxBytes, clock: clk}
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Done is closed once the active capture ends on its own, when the source is
// exhausted or the size limit is hit. Without an active session it is closed.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Start begins a capture session.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return ErrRecording
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, contentType, err := r.source.Open(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open audio source: %w", err)
	}

	r.stream = stream
	r.contentType = contentType
	r.buf.Reset()
	r.readErr = nil
	r.overflow = false
	r.startedAt = r.clock.Now()
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.capture(ctx, stream, r.done)
	return nil
}

// Stop ends the session and returns the recording as a voice file.
func (r *Recorder) Stop() (conversation.File, error) {
	r.mu.Lock()
	if r.done == nil {
		r.mu.Unlock()
		return conversation.File{}, ErrNotRecording
	}
	done, stream, cancel := r.done, r.stream, r.cancel
	r.mu.Unlock()

	cancel()
	closeErr := stream.Close()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.done, r.stream, r.cancel = nil, nil, nil

	if r.overflow {
		return conversation.File{}, platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeFileTooLarge,
			fmt.Sprintf("recording exceeds %d bytes", r.maxBytes), nil)
	}
	if r.readErr != nil {
		return conversation.File{}, fmt.Errorf("capture audio: %w", r.readErr)
	}
	if closeErr != nil && r.buf.Len() == 0 {
		return conversation.File{}, fmt.Errorf("close audio source: %w", closeErr)
	}
	if r.buf.Len() == 0 {
		return conversation.File{}, platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeValidation, "recording is empty", nil)
	}

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	return conversation.File{
		Name:        "voice-" + r.startedAt.UTC().Format("20060102-150405") + extensionFor(r.contentType),
		ContentType: r.contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
		Voice:       true,
	}, nil
}

func (r *Recorder) capture(ctx context.Context, stream io.Reader, done chan struct{}) {
	defer close(done)
	chunk := make([]byte, chunkSize)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			if int64(r.buf.Len()+n) > r.maxBytes {
				r.overflow = true
				r.mu.Unlock()
				return
			}
			r.buf.Write(chunk[:n])
			r.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.mu.Lock()
				r.readErr = err
				r.mu.Unlock()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4":
		return ".m4a"
	default:
		return ".webm"
	}
}

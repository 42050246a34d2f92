package uploader

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

func TestRecorder_ProducesVoiceFile(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC))
	r := NewRecorder(ReaderSource{Reader: strings.NewReader("pcm-data"), ContentType: "audio/ogg"}, 0, mock)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Recording())
	assert.ErrorIs(t, r.Start(context.Background()), ErrRecording)

	file, err := r.Stop()
	require.NoError(t, err)
	assert.False(t, r.Recording())
	assert.True(t, file.Voice)
	assert.Equal(t, "audio/ogg", file.ContentType)
	assert.Equal(t, "voice-20260203-040506.ogg", file.Name)
	assert.Equal(t, int64(8), file.Size)

	data, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	assert.Equal(t, "pcm-data", string(data))
}

func TestRecorder_DoneWhenSourceExhausted(t *testing.T) {
	r := NewRecorder(ReaderSource{Reader: strings.NewReader("short clip")}, 0, nil)
	require.NoError(t, r.Start(context.Background()))

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("capture did not finish")
	}
	file, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, int64(len("short clip")), file.Size)

	select {
	case <-r.Done():
	default:
		t.Fatal("Done must be closed without an active session")
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	r := NewRecorder(ReaderSource{Reader: strings.NewReader("")}, 0, nil)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_Empty(t *testing.T) {
	r := NewRecorder(ReaderSource{Reader: strings.NewReader("")}, 0, nil)
	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop()
	assert.Equal(t, platformerrors.ErrorTypeValidation, platformerrors.TypeOf(err))
}

func TestRecorder_TooLong(t *testing.T) {
	r := NewRecorder(ReaderSource{Reader: strings.NewReader(strings.Repeat("a", 64))}, 16, nil)
	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop()
	assert.True(t, errors.Is(err, platformerrors.ErrFileTooLarge))
}

type pipeSource struct {
	r *io.PipeReader
}

func (p pipeSource) Open(context.Context) (io.ReadCloser, string, error) {
	return p.r, "audio/webm", nil
}

func TestRecorder_StopInterruptsLiveCapture(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewRecorder(pipeSource{r: pr}, 0, nil)
	require.NoError(t, r.Start(context.Background()))

	_, err := pw.Write([]byte("chunk-1"))
	require.NoError(t, err)

	file, err := r.Stop()
	require.NoError(t, err)
	data, _ := io.ReadAll(file.Body)
	assert.Equal(t, "chunk-1", string(data))
	assert.Equal(t, "audio/webm", file.ContentType)
}

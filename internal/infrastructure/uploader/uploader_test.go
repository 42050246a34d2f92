package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

// smallest valid PNG header
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 6, 0, 0, 0}

func newUploader(t *testing.T, url string, maxBytes int64) *Uploader {
	t.Helper()
	u, err := New(Options{BaseURL: url, Token: "secret-token", MaxBytes: maxBytes}, zerolog.Nop())
	require.NoError(t, err)
	return u
}

func fileOf(name string, data []byte) conversation.File {
	return conversation.File{Name: name, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func TestUpload_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, uploadPath, r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "conversation:10:5", r.FormValue("conversationId"))

		f, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngBytes, data)
		assert.Equal(t, "photo.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file_url":"https://cdn.example.com/u/photo.png"}`))
	}))
	defer srv.Close()

	att, err := newUploader(t, srv.URL, 0).Upload(context.Background(), fileOf("photo.png", pngBytes), "conversation:10:5")
	require.NoError(t, err)
	assert.Equal(t, conversation.Attachment{
		URL:  "https://cdn.example.com/u/photo.png",
		Kind: conversation.KindImage,
		Name: "photo.png",
	}, att)
}

func TestUpload_RelativeURLResolved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file_url":"/uploads/notes.txt"}`))
	}))
	defer srv.Close()

	att, err := newUploader(t, srv.URL, 0).Upload(context.Background(), fileOf("notes.txt", []byte("algebra homework")), "conversation:10:5")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/uploads/notes.txt", att.URL)
	assert.Equal(t, conversation.KindFile, att.Kind)
}

func TestUpload_VoiceHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file_url":"https://cdn.example.com/v.webm"}`))
	}))
	defer srv.Close()

	file := fileOf("voice", []byte("opaque audio bytes"))
	file.Voice = true
	att, err := newUploader(t, srv.URL, 0).Upload(context.Background(), file, "conversation:10:5")
	require.NoError(t, err)
	assert.Equal(t, conversation.KindVoice, att.Kind)
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantType platformerrors.ErrorType
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "disk full", http.StatusInternalServerError)
			},
			wantType: platformerrors.ErrorTypeUpload,
		},
		{
			name: "empty url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"file_url":""}`))
			},
			wantType: platformerrors.ErrorTypeUpload,
		},
		{
			name: "blob url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"file_url":"blob:https://app.example.com/4f1c"}`))
			},
			wantType: platformerrors.ErrorTypeUpload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newUploader(t, srv.URL, 0).Upload(context.Background(), fileOf("a.txt", []byte("x")), "conversation:10:5")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, platformerrors.TypeOf(err))
		})
	}
}

func TestValidate_FileTooLarge(t *testing.T) {
	u := newUploader(t, "https://api.example.com", 8)

	err := u.Validate(fileOf("big.bin", []byte("123456789")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, platformerrors.ErrFileTooLarge))

	assert.NoError(t, u.Validate(fileOf("ok.bin", []byte("12345678"))))
}

func TestValidate_UndeclaredSize(t *testing.T) {
	u := newUploader(t, "https://api.example.com", 8)

	oversized := strings.NewReader("123456789")
	err := u.Validate(conversation.File{Name: "big.bin", Body: oversized})
	assert.True(t, errors.Is(err, platformerrors.ErrFileTooLarge))
	assert.Equal(t, 9, oversized.Len(), "offset must be restored")

	assert.NoError(t, u.Validate(conversation.File{Name: "ok.bin", Body: strings.NewReader("1234")}))

	stream := io.MultiReader(strings.NewReader("1234"))
	err = u.Validate(conversation.File{Name: "pipe.bin", Body: stream})
	assert.True(t, errors.Is(err, platformerrors.ErrValidation))
}

func TestUpload_UndeclaredSizeStillLimited(t *testing.T) {
	u := newUploader(t, "https://api.example.com", 8)

	file := conversation.File{Name: "stream.bin", Body: strings.NewReader("123456789")}
	_, err := u.Upload(context.Background(), file, "conversation:10:5")
	assert.True(t, errors.Is(err, platformerrors.ErrFileTooLarge))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, conversation.KindImage, Classify("image/jpeg", false))
	assert.Equal(t, conversation.KindVoice, Classify("audio/ogg", false))
	assert.Equal(t, conversation.KindVoice, Classify("video/webm", true))
	assert.Equal(t, conversation.KindFile, Classify("application/pdf", false))
}

// Package uploader publishes attachments to the marketplace upload endpoint.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/infrastructure/metrics"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
	"github.com/edumarket/chatsync/internal/utils/redact"
)

const uploadPath = "/api/messages/upload"

// DefaultMaxBytes is the largest attachment accepted.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// Options configures an Uploader.
type Options struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	MaxBytes int64
	Redactor *redact.Redactor
}

type uploadResponse struct {
	FileURL string `json:"file_url"`
}

// Uploader sends files as multipart uploads and returns hosted references.
type Uploader struct {
	http     *resty.Client
	base     *url.URL
	maxBytes int64
	tracer   trace.Tracer
	redact   *redact.Redactor
	log      zerolog.Logger
}

// New builds an uploader rooted at opts.BaseURL.
func New(opts Options, log zerolog.Logger) (*Uploader, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upload base URL %q", opts.BaseURL)
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(base.String()).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}

	return &Uploader{
		http:     httpClient,
		base:     base,
		maxBytes: opts.MaxBytes,
		tracer:   otel.Tracer("chatsync/uploader"),
		redact:   opts.Redactor,
		log:      log.With().Str("component", "attachment-uploader").Logger(),
	}, nil
}

// Validate checks the file size before any network call. An undeclared
// size is measured when the body can seek and rejected otherwise.
func (u *Uploader) Validate(file conversation.File) error {
	if file.Body == nil {
		return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeValidation, "file has no content", nil)
	}
	size := file.Size
	if size <= 0 {
		measured, err := remaining(file.Body)
		if err != nil {
			return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeValidation, "file size is unknown", err)
		}
		size = measured
	}
	if size > u.maxBytes {
		return u.tooLarge(size)
	}
	return nil
}

// remaining reports the bytes left in a seekable body and restores its offset.
func remaining(body io.Reader) (int64, error) {
	seeker, ok := body.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("%T cannot report its size", body)
	}
	current, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := seeker.Seek(current, io.SeekStart); err != nil {
		return 0, err
	}
	return end - current, nil
}

// Upload sends file and returns its hosted reference.
func (u *Uploader) Upload(ctx context.Context, file conversation.File, key conversation.Key) (conversation.Attachment, error) {
	if err := u.Validate(file); err != nil {
		return conversation.Attachment{}, err
	}

	ctx, span := u.tracer.Start(ctx, "uploader.Upload", trace.WithAttributes(
		attribute.String("chatsync.conversation", key.String()),
		attribute.String("chatsync.file_name", file.Name),
	))
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(file.Body, u.maxBytes+1))
	if err != nil {
		return conversation.Attachment{}, u.fail(span, conversation.KindFile, "read file", err)
	}
	if int64(len(data)) > u.maxBytes {
		metrics.RecordUpload(string(conversation.KindFile), "too_large")
		return conversation.Attachment{}, u.tooLarge(int64(len(data)))
	}
	if len(data) == 0 {
		return conversation.Attachment{}, u.fail(span, conversation.KindFile, "file is empty", nil)
	}

	mime := mimetype.Detect(data)
	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.String()
	}
	kind := Classify(contentType, file.Voice)
	name := fileName(file, mime)
	span.SetAttributes(attribute.String("chatsync.kind", string(kind)), attribute.Int("chatsync.bytes", len(data)))

	var body uploadResponse
	resp, err := u.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetMultipartField("file", name, contentType, bytes.NewReader(data)).
		SetFormData(map[string]string{"conversationId": key.String()}).
		SetResult(&body).
		Post(uploadPath)
	if err != nil {
		return conversation.Attachment{}, u.fail(span, kind, "upload request failed", err)
	}
	if resp.IsError() {
		return conversation.Attachment{}, u.fail(span, kind,
			fmt.Sprintf("upload returned %d", resp.StatusCode()), fmt.Errorf("%s", u.redact.Snippet(resp.String(), 200)))
	}

	attachment := conversation.Attachment{
		URL:  u.resolve(body.FileURL),
		Kind: kind,
		Name: name,
	}
	if err := attachment.Validate(); err != nil {
		metrics.RecordUpload(string(kind), "failed")
		span.SetStatus(codes.Error, err.Error())
		return conversation.Attachment{}, err
	}

	metrics.RecordUpload(string(kind), "success")
	u.log.Debug().
		Str("conversation", key.String()).
		Str("kind", string(kind)).
		Int("bytes", len(data)).
		Str("url", attachment.URL).
		Msg("attachment uploaded")
	return attachment, nil
}

// Classify maps a content type to an attachment kind. Recordings are voice
// messages whatever container they use.
func Classify(contentType string, voice bool) conversation.AttachmentKind {
	if voice {
		return conversation.KindVoice
	}
	contentType = strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return conversation.KindImage
	case strings.HasPrefix(contentType, "audio/"):
		return conversation.KindVoice
	default:
		return conversation.KindFile
	}
}

// resolve turns a relative file_url into an absolute one under the base URL.
func (u *Uploader) resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return u.base.ResolveReference(ref).String()
}

func (u *Uploader) tooLarge(size int64) error {
	return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeFileTooLarge,
		fmt.Sprintf("file is %d bytes, limit is %d", size, u.maxBytes), nil).
		WithContext("limit", u.maxBytes)
}

func (u *Uploader) fail(span trace.Span, kind conversation.AttachmentKind, msg string, err error) error {
	metrics.RecordUpload(string(kind), "failed")
	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, msg)
	return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeUpload, msg, err)
}

func fileName(file conversation.File, mime *mimetype.MIME) string {
	name := path.Base(strings.ReplaceAll(file.Name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}
	if path.Ext(name) == "" {
		name += mime.Extension()
	}
	return name
}

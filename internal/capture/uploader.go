package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"river-monitor/internal/models"
	"river-monitor/pkg/config"
)

// UploaderConfig holds the primary delivery endpoint settings
type UploaderConfig struct {
	URL      string
	Token    string        // sent as a bearer token when set
	Field    string        // multipart form field carrying the image
	CAFile   string        // root authority the endpoint is verified against
	Insecure bool          // skip certificate verification (testing only)
	Timeout  time.Duration // inactivity bound, not total upload time
}

// DefaultUploadTimeout is the primary delivery inactivity bound
const DefaultUploadTimeout = 7 * time.Second

// HTTPUploader delivers artifacts as a multipart upload over HTTPS
type HTTPUploader struct {
	client *resty.Client
	url    string
	token  string
	field  string
	logger *zap.Logger
}

// NewHTTPUploader creates an uploader. Certificate verification is only
// disabled when Insecure is set explicitly.
func NewHTTPUploader(cfg UploaderConfig, logger *zap.Logger) (*HTTPUploader, error) {
	tlsConfig, err := config.NewTLSConfig(cfg.CAFile, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upload TLS: %w", err)
	}
	if cfg.Insecure {
		logger.Warn("Upload certificate verification disabled", zap.String("url", cfg.URL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	field := cfg.Field
	if field == "" {
		field = "photo"
	}

	client := resty.New().
		SetTransport(newIdleTimeoutTransport(timeout, tlsConfig)).
		SetHeader("Accept", "application/json")

	return &HTTPUploader{
		client: client,
		url:    cfg.URL,
		token:  cfg.Token,
		field:  field,
		logger: logger,
	}, nil
}

// Upload posts the artifact once. Connection failures, inactivity
// timeouts and non-2xx responses are all reported as ErrUploadFailed.
func (u *HTTPUploader) Upload(ctx context.Context, a *models.Artifact) error {
	if u.url == "" {
		return fmt.Errorf("%w: %w", ErrUploadFailed, errors.New("no upload endpoint configured"))
	}

	req := u.client.R().
		SetContext(ctx).
		SetFileReader(u.field, a.ID+".jpg", bytes.NewReader(a.Data)).
		SetFormData(map[string]string{
			"captured_at": a.CapturedAt.UTC().Format(time.RFC3339),
		})
	if u.token != "" {
		req.SetAuthToken(u.token)
	}

	resp, err := req.Post(u.url)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: endpoint returned status %d", ErrUploadFailed, resp.StatusCode())
	}

	u.logger.Info("Uploaded artifact",
		zap.String("artifact_id", a.ID),
		zap.Int("bytes", a.Len()),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()),
	)
	return nil
}

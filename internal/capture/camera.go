package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"river-monitor/internal/models"
)

// FileCamera serves the JPEG currently stored at a path, e.g. a snapshot
// written by an external camera daemon
type FileCamera struct {
	path string
	now  func() time.Time
}

// NewFileCamera creates a camera reading snapshots from path
func NewFileCamera(path string) *FileCamera {
	return &FileCamera{path: path, now: time.Now}
}

// AcquireFrame reads the snapshot file
func (c *FileCamera) AcquireFrame(ctx context.Context) (*models.Artifact, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", c.path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot %s is empty", c.path)
	}
	return &models.Artifact{CapturedAt: c.now(), Data: data}, nil
}

// Release drops the frame buffer
func (c *FileCamera) Release(a *models.Artifact) {
	if a != nil {
		a.Data = nil
	}
}

// HTTPCamera fetches a still from a camera snapshot endpoint
// (for example an ESP32-CAM "/capture" handler)
type HTTPCamera struct {
	client *resty.Client
	url    string
	logger *zap.Logger
	now    func() time.Time
}

// NewHTTPCamera creates a camera that GETs url for every frame
func NewHTTPCamera(url string, timeout time.Duration, logger *zap.Logger) *HTTPCamera {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "image/jpeg")

	return &HTTPCamera{client: client, url: url, logger: logger, now: time.Now}
}

// AcquireFrame downloads one frame
func (c *HTTPCamera) AcquireFrame(ctx context.Context) (*models.Artifact, error) {
	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot endpoint returned no data")
	}

	c.logger.Debug("Fetched snapshot", zap.String("url", c.url), zap.Int("bytes", len(data)))
	return &models.Artifact{CapturedAt: c.now(), Data: data}, nil
}

// Release drops the frame buffer
func (c *HTTPCamera) Release(a *models.Artifact) {
	if a != nil {
		a.Data = nil
	}
}

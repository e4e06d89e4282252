package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teslashibe/go-scenewatch/internal/httpc"
)

// RemoteConfig holds settings for an HTTP detection server.
type RemoteConfig struct {
	URL     string        // Endpoint accepting a JPEG body
	Timeout time.Duration // Per-request timeout
	APIKey  string        // Optional bearer token
}

// RemoteDetector sends frames to an external detection server.
//
// Request: POST <URL> with Content-Type image/jpeg.
// Response: {"detections":[{"label":..,"confidence":..,"box":{"x1":..,"y1":..,"x2":..,"y2":..}}]}
type RemoteDetector struct {
	cfg    RemoteConfig
	client *http.Client
}

type remoteResponse struct {
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}

// NewRemote creates a detector backed by a detection server
func NewRemote(cfg RemoteConfig) (*RemoteDetector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("detection: remote URL required")
	}
	return &RemoteDetector{
		cfg:    cfg,
		client: httpc.NewClient(cfg.Timeout),
	}, nil
}

// Detect posts the JPEG frame and decodes the returned detections.
func (d *RemoteDetector) Detect(ctx context.Context, jpeg []byte) ([]Detection, error) {
	if len(jpeg) == 0 {
		return nil, Failure("remote", ErrEmptyImage)
	}

	header := http.Header{"Accept": {"application/json"}}
	if d.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	resp, err := httpc.Post(ctx, d.client, d.cfg.URL, "image/jpeg", jpeg, header)
	if err != nil {
		return nil, Failure("remote", err)
	}

	var out remoteResponse
	if resp.Status != http.StatusOK {
		_ = json.Unmarshal(resp.Body, &out)
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.Status)
		}
		return nil, Failure("remote", fmt.Errorf("status %d: %s", resp.Status, msg))
	}

	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, Failure("remote", fmt.Errorf("decode response: %w", err))
	}

	// Malformed boxes from the server are a backend failure, not ours.
	if err := ValidateAll(out.Detections); err != nil {
		return nil, Failure("remote", err)
	}

	return out.Detections, nil
}

// Close releases idle connections.
func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

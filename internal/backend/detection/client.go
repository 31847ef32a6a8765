package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/backend/labels"
)

const (
	DefaultFormField = "file"
	DefaultTimeout   = 30 * time.Second
)

// ErrMalformedResponse is returned when the model answers with a body that is
// not an object carrying a "detections" key.
var ErrMalformedResponse = errors.New("malformed detection response")

// Detector runs object detection on an image stored on the local filesystem.
type Detector interface {
	Detect(ctx context.Context, filePath string) ([]database.Detection, error)
}

// Client talks to the external detection model over HTTP.
type Client struct {
	url       string
	formField string
	http      *resty.Client
}

func NewClient(url, formField string, timeout time.Duration) *Client {
	if formField == "" {
		formField = DefaultFormField
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:       url,
		formField: formField,
		http:      resty.New().SetTimeout(timeout),
	}
}

type modelResponse struct {
	Detections *[]modelDetection `json:"detections"`
}

type modelDetection struct {
	Confidence *float64        `json:"confidence"`
	Label      json.RawMessage `json:"label"`
	X1         *float64        `json:"x1"`
	Y1         *float64        `json:"y1"`
	X2         *float64        `json:"x2"`
	Y2         *float64        `json:"y2"`
}

// Detect uploads the file as a single multipart field and parses the returned boxes.
func (c *Client) Detect(ctx context.Context, filePath string) ([]database.Detection, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	fileName := filepath.Base(filePath)
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(c.formField, fileName, contentType, file).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to call detection model: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("detection model returned %d: %s", resp.StatusCode(), resp.String())
	}

	return parseResponse(resp.Body())
}

func parseResponse(body []byte) ([]database.Detection, error) {
	var parsed modelResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Detections == nil {
		return nil, fmt.Errorf("%w: missing detections", ErrMalformedResponse)
	}

	detections := make([]database.Detection, 0, len(*parsed.Detections))
	for _, raw := range *parsed.Detections {
		detections = append(detections, database.Detection{
			Confidence: raw.Confidence,
			Label:      resolveLabel(raw.Label),
			X1:         raw.X1,
			Y1:         raw.Y1,
			X2:         raw.X2,
			Y2:         raw.Y2,
		})
	}
	return detections, nil
}

// resolveLabel maps the model's numeric class id onto a label. Anything that
// is not a known integer id yields nil.
func resolveLabel(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var id int
	if err := json.Unmarshal(raw, &id); err != nil {
		slog.Debug("detection label is not an integer class id", "label", string(raw))
		return nil
	}
	label, ok := labels.LabelForID(id)
	if !ok {
		slog.Debug("unknown detection class id", "id", id)
		return nil
	}
	return &label
}

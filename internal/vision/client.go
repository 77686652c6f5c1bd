package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrAnalysisFailed = errors.New("vision: analysis failed")
)

// Classifier submits one image for defect classification.
type Classifier interface {
	Analyze(ctx context.Context, imagePath string) (*Result, error)
}

// HTTPClassifier talks to the remote classification service: one image file
// POSTed as multipart form data, JSON envelope back. Any network error or
// non-2xx status is a hard failure for the attempt.
type HTTPClassifier struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPClassifier returns a classifier for the given endpoint.
func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClassifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

type wireResponse struct {
	Success        bool    `json:"success"`
	Timestamp      string  `json:"timestamp"`
	ProcessingTime float64 `json:"processingTime"`
	Data           struct {
		FileInfo struct {
			OriginalFilename string   `json:"original_filename"`
			StoredLocations  []string `json:"stored_locations"`
		} `json:"file_info"`
		Predictions []wirePrediction `json:"predictions"`
	} `json:"data"`
}

type wirePrediction struct {
	BBox        []float64 `json:"bbox"`
	ClassName   string    `json:"class_name"`
	Confidence  float64   `json:"confidence"`
	DetectionID string    `json:"detection_id"`
}

// Analyze uploads the image and decodes the prediction set.
func (c *HTTPClassifier) Analyze(ctx context.Context, imagePath string) (*Result, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("vision: open %s: %w", imagePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Errorf("vision: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("vision: read %s: %w", imagePath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("vision: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrAnalysisFailed, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrAnalysisFailed, err)
	}
	if !wire.Success {
		return nil, fmt.Errorf("%w: service reported failure", ErrAnalysisFailed)
	}

	res := &Result{
		Timestamp:      time.Now(),
		ProcessingTime: wire.ProcessingTime,
		Predictions:    make([]Prediction, 0, len(wire.Data.Predictions)),
	}
	if ts, err := time.Parse(time.RFC3339, wire.Timestamp); err == nil {
		res.Timestamp = ts
	}
	for _, wp := range wire.Data.Predictions {
		if len(wp.BBox) != 4 {
			return nil, fmt.Errorf("%w: prediction %q has %d bbox coords", ErrAnalysisFailed, wp.DetectionID, len(wp.BBox))
		}
		res.Predictions = append(res.Predictions, Prediction{
			BBox:        BBox{X1: wp.BBox[0], Y1: wp.BBox[1], X2: wp.BBox[2], Y2: wp.BBox[3]},
			ClassName:   wp.ClassName,
			Confidence:  wp.Confidence,
			DetectionID: wp.DetectionID,
		})
	}
	return res, nil
}

package vision

import (
	"time"

	"defect-sorter/internal/config"
)

// BBox is a prediction bounding box, x1,y1 top-left and x2,y2 bottom-right.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the signed box area. Malformed boxes (x2<x1 or y2<y1) yield a
// negative area; callers accept that as-is.
func (b BBox) Area() float64 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Intersects reports whether the box overlaps the rectangle. Two boxes fail
// to intersect exactly when one lies entirely to one side of the other on
// either axis.
func (b BBox) Intersects(r config.Rect) bool {
	if b.X2 < r.X1 || r.X2 < b.X1 {
		return false
	}
	if b.Y2 < r.Y1 || r.Y2 < b.Y1 {
		return false
	}
	return true
}

// OverlapArea returns the intersection area of two boxes, 0 when disjoint.
func (b BBox) OverlapArea(o BBox) float64 {
	w := min(b.X2, o.X2) - max(b.X1, o.X1)
	if w <= 0 {
		return 0
	}
	h := min(b.Y2, o.Y2) - max(b.Y1, o.Y1)
	if h <= 0 {
		return 0
	}
	return w * h
}

// Prediction is one classified defect detection.
type Prediction struct {
	BBox        BBox    `json:"bbox"`
	ClassName   string  `json:"class_name"`
	Confidence  float64 `json:"confidence"`
	DetectionID string  `json:"detection_id"`
}

// Result is one immutable analysis outcome.
type Result struct {
	Timestamp      time.Time
	ProcessingTime float64
	Predictions    []Prediction
}

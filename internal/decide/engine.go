// Package decide turns one classified detection result and one settings
// snapshot into an eject/no-eject verdict. Evaluate is pure: no clocks, no
// I/O, identical inputs always produce identical verdicts.
package decide

import (
	"fmt"

	"defect-sorter/internal/config"
	"defect-sorter/internal/vision"
)

// Verdict is the outcome of one evaluation.
type Verdict struct {
	ShouldEject bool    `json:"shouldEject"`
	Reason      string  `json:"reason"`
	Details     Details `json:"details"`
}

// Details retain the evidence behind a verdict. When both the global and the
// per-class paths trigger, the global reason is primary and the per-class
// findings stay here.
type Details struct {
	TotalPredictions int      `json:"totalPredictions"`
	FilteredCount    int      `json:"filteredCount"`
	TotalArea        float64  `json:"totalArea"`
	OverlapArea      float64  `json:"overlapArea"`
	GlobalReason     string   `json:"globalReason,omitempty"`
	ClassReasons     []string `json:"classReasons,omitempty"`
}

// Evaluate applies the configured ejection rules to the detection result.
func Evaluate(result *vision.Result, settings config.Settings) Verdict {
	d := Details{}
	if result != nil {
		d.TotalPredictions = len(result.Predictions)
	}
	if result == nil || len(result.Predictions) == 0 {
		return Verdict{ShouldEject: false, Reason: "no defects detected", Details: d}
	}

	filtered := filterPredictions(result.Predictions, settings)
	d.FilteredCount = len(filtered)
	if len(filtered) == 0 {
		return Verdict{ShouldEject: false, Reason: "no defects in valid regions", Details: d}
	}

	for _, p := range filtered {
		d.TotalArea += p.BBox.Area()
	}
	if settings.Advanced.ConsiderOverlap {
		d.OverlapArea = pairwiseOverlap(filtered)
	}

	d.GlobalReason = globalReason(filtered, settings, &d)
	d.ClassReasons = classReasons(filtered, settings)

	switch {
	case d.GlobalReason != "":
		return Verdict{ShouldEject: true, Reason: d.GlobalReason, Details: d}
	case len(d.ClassReasons) > 0:
		return Verdict{ShouldEject: true, Reason: d.ClassReasons[0], Details: d}
	default:
		return Verdict{ShouldEject: false, Reason: "no ejection criteria met", Details: d}
	}
}

// filterPredictions drops predictions of disabled or unknown classes and
// predictions whose box does not intersect the region of interest.
func filterPredictions(preds []vision.Prediction, settings config.Settings) []vision.Prediction {
	roi := settings.Advanced.RegionOfInterest
	out := make([]vision.Prediction, 0, len(preds))
	for _, p := range preds {
		cs, ok := settings.Classes[p.ClassName]
		if !ok || !cs.Enabled {
			continue
		}
		if !p.BBox.Intersects(roi) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// globalReason evaluates the cross-class criteria in their fixed order and
// returns the first matching reason, or "".
func globalReason(filtered []vision.Prediction, settings config.Settings, d *Details) string {
	g := settings.Global
	count := len(filtered)

	if g.MaxDefectsBeforeEject > 0 && count >= g.MaxDefectsBeforeEject {
		return fmt.Sprintf("maximum defect count reached (%d >= %d)", count, g.MaxDefectsBeforeEject)
	}
	if g.RequireMultipleDefects && count >= 2 {
		return fmt.Sprintf("multiple defects detected (%d)", count)
	}
	if g.MinTotalArea > 0 && d.TotalArea >= g.MinTotalArea {
		return fmt.Sprintf("total defect area %.1f exceeds minimum %.1f", d.TotalArea, g.MinTotalArea)
	}
	if settings.Advanced.ConsiderOverlap && d.OverlapArea > 0 {
		return fmt.Sprintf("overlapping defects (overlap area %.1f)", d.OverlapArea)
	}
	return ""
}

// classReasons evaluates every per-class criterion independently.
func classReasons(filtered []vision.Prediction, settings config.Settings) []string {
	var reasons []string
	counts := map[string]int{}

	for _, p := range filtered {
		counts[p.ClassName]++
		cs := settings.Classes[p.ClassName]
		if p.Confidence < cs.MinConfidence {
			continue
		}
		if cs.MinArea > 0 && p.BBox.Area() < cs.MinArea {
			continue
		}
		reasons = append(reasons, fmt.Sprintf(
			"%s defect %s at confidence %.2f meets class thresholds",
			p.ClassName, p.DetectionID, p.Confidence))
	}

	// stable order: walk the known-class list, not the map
	for _, class := range config.KnownClasses {
		n, ok := counts[class]
		if !ok {
			continue
		}
		if cs := settings.Classes[class]; n > cs.MaxCount {
			reasons = append(reasons, fmt.Sprintf(
				"class %s count %d exceeds maximum %d", class, n, cs.MaxCount))
		}
	}
	return reasons
}

// pairwiseOverlap sums rectangle-intersection areas over all unordered pairs.
func pairwiseOverlap(preds []vision.Prediction) float64 {
	var total float64
	for i := 0; i < len(preds); i++ {
		for j := i + 1; j < len(preds); j++ {
			total += preds[i].BBox.OverlapArea(preds[j].BBox)
		}
	}
	return total
}

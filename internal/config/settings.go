package config

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSettings = errors.New("config: invalid settings")
	ErrUnknownPreset   = errors.New("config: unknown preset")
)

// KnownClasses lists every defect class the classifier can report. The
// settings invariant is one ClassSettings entry per entry of this list.
var KnownClasses = []string{"crack", "knot", "stain", "chip"}

// Rect is an axis-aligned rectangle in image coordinates.
type Rect struct {
	X1 float64 `toml:"x1" json:"x1"`
	Y1 float64 `toml:"y1" json:"y1"`
	X2 float64 `toml:"x2" json:"x2"`
	Y2 float64 `toml:"y2" json:"y2"`
}

// GlobalSettings hold cross-class ejection rules and actuator timings.
type GlobalSettings struct {
	EjectionDurationMS     int     `toml:"ejection_duration_ms" json:"ejectionDurationMs"`
	PistonDurationMS       int     `toml:"piston_duration_ms" json:"pistonDurationMs"`
	RiserDurationMS        int     `toml:"riser_duration_ms" json:"riserDurationMs"`
	RequireMultipleDefects bool    `toml:"require_multiple_defects" json:"requireMultipleDefects"`
	MinTotalArea           float64 `toml:"min_total_area" json:"minTotalArea"`
	MaxDefectsBeforeEject  int     `toml:"max_defects_before_eject" json:"maxDefectsBeforeEject"`
}

// ClassSettings hold the per-class ejection rules.
type ClassSettings struct {
	Enabled       bool    `toml:"enabled" json:"enabled"`
	MinConfidence float64 `toml:"min_confidence" json:"minConfidence"`
	MinArea       float64 `toml:"min_area" json:"minArea"`
	MaxCount      int     `toml:"max_count" json:"maxCount"`
}

// AdvancedSettings hold region filtering options. ExclusionZones is part of
// the persisted schema but is not consulted by the decision engine; it is
// reserved for a future filtering pass.
type AdvancedSettings struct {
	ConsiderOverlap  bool   `toml:"consider_overlap" json:"considerOverlap"`
	RegionOfInterest Rect   `toml:"region_of_interest" json:"regionOfInterest"`
	ExclusionZones   []Rect `toml:"exclusion_zones" json:"exclusionZones"`
}

// Settings is the full mutable configuration of the sorter. Readers always
// work on a Clone; the Store is the single writer.
type Settings struct {
	Global   GlobalSettings           `toml:"global" json:"global"`
	Classes  map[string]ClassSettings `toml:"classes" json:"classes"`
	Advanced AdvancedSettings         `toml:"advanced" json:"advanced"`
}

// DefaultSettings returns the factory configuration.
func DefaultSettings() Settings {
	s := Settings{
		Global: GlobalSettings{
			EjectionDurationMS:     250,
			PistonDurationMS:       400,
			RiserDurationMS:        600,
			RequireMultipleDefects: false,
			MinTotalArea:           0,
			MaxDefectsBeforeEject:  5,
		},
		Classes: map[string]ClassSettings{},
		Advanced: AdvancedSettings{
			ConsiderOverlap:  false,
			RegionOfInterest: Rect{X1: 0, Y1: 0, X2: 4096, Y2: 4096},
		},
	}
	for _, class := range KnownClasses {
		s.Classes[class] = ClassSettings{
			Enabled:       true,
			MinConfidence: 0.5,
			MinArea:       0,
			MaxCount:      3,
		}
	}
	return s
}

// Normalize repairs the per-class invariant: exactly one entry per known
// class. Unknown entries are dropped, missing ones get defaults.
func (s *Settings) Normalize() {
	def := DefaultSettings()
	if s.Classes == nil {
		s.Classes = map[string]ClassSettings{}
	}
	known := make(map[string]bool, len(KnownClasses))
	for _, class := range KnownClasses {
		known[class] = true
		if _, ok := s.Classes[class]; !ok {
			s.Classes[class] = def.Classes[class]
		}
	}
	for class := range s.Classes {
		if !known[class] {
			delete(s.Classes, class)
		}
	}
}

// Validate rejects settings that could wedge the machine or the rules.
func (s Settings) Validate() error {
	if s.Global.EjectionDurationMS <= 0 {
		return fmt.Errorf("%w: ejection_duration_ms must be positive", ErrInvalidSettings)
	}
	if s.Global.PistonDurationMS <= 0 {
		return fmt.Errorf("%w: piston_duration_ms must be positive", ErrInvalidSettings)
	}
	if s.Global.RiserDurationMS <= 0 {
		return fmt.Errorf("%w: riser_duration_ms must be positive", ErrInvalidSettings)
	}
	if s.Global.MaxDefectsBeforeEject < 0 {
		return fmt.Errorf("%w: max_defects_before_eject must not be negative", ErrInvalidSettings)
	}
	if s.Global.MinTotalArea < 0 {
		return fmt.Errorf("%w: min_total_area must not be negative", ErrInvalidSettings)
	}
	for class, cs := range s.Classes {
		if cs.MinConfidence < 0 || cs.MinConfidence > 1 {
			return fmt.Errorf("%w: class %q min_confidence outside [0,1]", ErrInvalidSettings, class)
		}
		if cs.MinArea < 0 {
			return fmt.Errorf("%w: class %q min_area must not be negative", ErrInvalidSettings, class)
		}
		if cs.MaxCount < 0 {
			return fmt.Errorf("%w: class %q max_count must not be negative", ErrInvalidSettings, class)
		}
	}
	roi := s.Advanced.RegionOfInterest
	if roi.X2 <= roi.X1 || roi.Y2 <= roi.Y1 {
		return fmt.Errorf("%w: region_of_interest is empty", ErrInvalidSettings)
	}
	return nil
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (s Settings) Clone() Settings {
	out := s
	out.Classes = make(map[string]ClassSettings, len(s.Classes))
	for class, cs := range s.Classes {
		out.Classes[class] = cs
	}
	if s.Advanced.ExclusionZones != nil {
		out.Advanced.ExclusionZones = make([]Rect, len(s.Advanced.ExclusionZones))
		copy(out.Advanced.ExclusionZones, s.Advanced.ExclusionZones)
	}
	return out
}

package config

// Patch types mirror the settings tree with optional fields. A nil field
// leaves the current value untouched; class entries are merged field by
// field, never replaced wholesale.

type GlobalPatch struct {
	EjectionDurationMS     *int     `json:"ejectionDurationMs,omitempty"`
	PistonDurationMS       *int     `json:"pistonDurationMs,omitempty"`
	RiserDurationMS        *int     `json:"riserDurationMs,omitempty"`
	RequireMultipleDefects *bool    `json:"requireMultipleDefects,omitempty"`
	MinTotalArea           *float64 `json:"minTotalArea,omitempty"`
	MaxDefectsBeforeEject  *int     `json:"maxDefectsBeforeEject,omitempty"`
}

type ClassPatch struct {
	Enabled       *bool    `json:"enabled,omitempty"`
	MinConfidence *float64 `json:"minConfidence,omitempty"`
	MinArea       *float64 `json:"minArea,omitempty"`
	MaxCount      *int     `json:"maxCount,omitempty"`
}

type AdvancedPatch struct {
	ConsiderOverlap  *bool   `json:"considerOverlap,omitempty"`
	RegionOfInterest *Rect   `json:"regionOfInterest,omitempty"`
	ExclusionZones   *[]Rect `json:"exclusionZones,omitempty"`
}

// SettingsPatch is one validated-then-applied mutation request.
type SettingsPatch struct {
	Global   *GlobalPatch          `json:"global,omitempty"`
	Classes  map[string]ClassPatch `json:"classes,omitempty"`
	Advanced *AdvancedPatch        `json:"advanced,omitempty"`
}

// Apply deep-merges the patch into a copy of cur and returns the result.
// cur is not modified.
func (p SettingsPatch) Apply(cur Settings) Settings {
	next := cur.Clone()

	if p.Global != nil {
		g := &next.Global
		if v := p.Global.EjectionDurationMS; v != nil {
			g.EjectionDurationMS = *v
		}
		if v := p.Global.PistonDurationMS; v != nil {
			g.PistonDurationMS = *v
		}
		if v := p.Global.RiserDurationMS; v != nil {
			g.RiserDurationMS = *v
		}
		if v := p.Global.RequireMultipleDefects; v != nil {
			g.RequireMultipleDefects = *v
		}
		if v := p.Global.MinTotalArea; v != nil {
			g.MinTotalArea = *v
		}
		if v := p.Global.MaxDefectsBeforeEject; v != nil {
			g.MaxDefectsBeforeEject = *v
		}
	}

	for class, cp := range p.Classes {
		cs, ok := next.Classes[class]
		if !ok {
			// unknown class entries are ignored; Normalize keeps the
			// one-entry-per-known-class invariant
			continue
		}
		if v := cp.Enabled; v != nil {
			cs.Enabled = *v
		}
		if v := cp.MinConfidence; v != nil {
			cs.MinConfidence = *v
		}
		if v := cp.MinArea; v != nil {
			cs.MinArea = *v
		}
		if v := cp.MaxCount; v != nil {
			cs.MaxCount = *v
		}
		next.Classes[class] = cs
	}

	if p.Advanced != nil {
		a := &next.Advanced
		if v := p.Advanced.ConsiderOverlap; v != nil {
			a.ConsiderOverlap = *v
		}
		if v := p.Advanced.RegionOfInterest; v != nil {
			a.RegionOfInterest = *v
		}
		if v := p.Advanced.ExclusionZones; v != nil {
			zones := make([]Rect, len(*v))
			copy(zones, *v)
			a.ExclusionZones = zones
		}
	}

	next.Normalize()
	return next
}

package config

func intp(v int) *int           { return &v }
func boolp(v bool) *bool        { return &v }
func floatp(v float64) *float64 { return &v }

func classAll(p ClassPatch) map[string]ClassPatch {
	out := make(map[string]ClassPatch, len(KnownClasses))
	for _, class := range KnownClasses {
		out[class] = p
	}
	return out
}

// Presets are named settings patches applied through Store.ApplyPreset.
var Presets = map[string]SettingsPatch{
	// factory defaults
	"default": {
		Global: &GlobalPatch{
			RequireMultipleDefects: boolp(false),
			MinTotalArea:           floatp(0),
			MaxDefectsBeforeEject:  intp(5),
		},
		Classes: classAll(ClassPatch{
			Enabled:       boolp(true),
			MinConfidence: floatp(0.5),
			MinArea:       floatp(0),
			MaxCount:      intp(3),
		}),
		Advanced: &AdvancedPatch{ConsiderOverlap: boolp(false)},
	},
	// eject on the slightest evidence
	"strict": {
		Global: &GlobalPatch{
			RequireMultipleDefects: boolp(false),
			MinTotalArea:           floatp(0),
			MaxDefectsBeforeEject:  intp(1),
		},
		Classes: classAll(ClassPatch{
			Enabled:       boolp(true),
			MinConfidence: floatp(0.3),
			MinArea:       floatp(0),
			MaxCount:      intp(1),
		}),
		Advanced: &AdvancedPatch{ConsiderOverlap: boolp(true)},
	},
	// only clear-cut defects cause ejection
	"lenient": {
		Global: &GlobalPatch{
			RequireMultipleDefects: boolp(true),
			MinTotalArea:           floatp(2500),
			MaxDefectsBeforeEject:  intp(8),
		},
		Classes: classAll(ClassPatch{
			Enabled:       boolp(true),
			MinConfidence: floatp(0.8),
			MinArea:       floatp(400),
			MaxCount:      intp(6),
		}),
		Advanced: &AdvancedPatch{ConsiderOverlap: boolp(false)},
	},
}

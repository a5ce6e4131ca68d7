package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Predefined feature flag names.
const (
	// Estimation
	FeatureFusionSequenceTracer = "fusion.sequence_tracer" // Fuse sequence-model estimates with the Bayesian tracer
	FeatureFusionConfidenceGate = "fusion.confidence_gate" // Weight fusion by sequence confidence

	// Selection
	FeatureSelectorBandTargeting    = "selector.band_targeting"    // Prefer items inside the success band
	FeatureSelectorExposureCooldown = "selector.exposure_cooldown" // Penalize recently served items
	FeatureSelectorPrereqGating     = "selector.prereq_gating"     // Lock skills behind prerequisite mastery

	// Calibration
	FeatureCalibrationDiscrimination = "calibration.discrimination_fit" // Fit discrimination alongside difficulty
	FeatureCalibrationAutoFlag       = "calibration.auto_flag"          // Flag non-converging items low-confidence

	// Serving
	FeatureServingProfileCache   = "serving.profile_cache"   // Read profiles through the cache
	FeatureServingContentFetch   = "serving.content_fetch"   // Inline prompts from the content service
	FeatureServingDegradedBanner = "serving.degraded_banner" // Report degraded mode in responses

	// Experimental
	FeatureExperimentalResponseTime = "experimental.response_time" // Fold solve time into estimates
	FeatureExperimentalAnalytics    = "experimental.analytics"     // Advanced analytics export
)

// Feature is a single flag with its rollout state.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent gates the feature to a stable fraction of
	// students (0-100), bucketed by a hash of student ID.
	RolloutPercent int

	// TargetCohorts restricts the feature to named cohorts when
	// non-empty (e.g. "2026-spring").
	TargetCohorts []string

	// Time window during which the feature is live. Nil means no bound.
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// Variants for A/B experiments; assignment is a stable hash.
	Variants []string
}

// FeatureContext carries the identity a flag is evaluated against.
type FeatureContext struct {
	StudentID string
	Cohort    string
	IsAdmin   bool
}

// featureDefaults is the catalog of known flags. Estimation, selection,
// calibration, and serving features ship enabled; experiments ship
// dark.
var featureDefaults = []Feature{
	{Name: FeatureFusionSequenceTracer, Description: "Fuse sequence-model estimates into mastery", Enabled: true, RolloutPercent: 100},
	{Name: FeatureFusionConfidenceGate, Description: "Weight fusion by sequence-model confidence", Enabled: true, RolloutPercent: 100},
	{Name: FeatureSelectorBandTargeting, Description: "Prefer items inside the target success band", Enabled: true, RolloutPercent: 100},
	{Name: FeatureSelectorExposureCooldown, Description: "Penalize recently served items in selection", Enabled: true, RolloutPercent: 100},
	{Name: FeatureSelectorPrereqGating, Description: "Gate skills behind prerequisite mastery", Enabled: true, RolloutPercent: 100},
	{Name: FeatureCalibrationDiscrimination, Description: "Fit item discrimination alongside difficulty", Enabled: true, RolloutPercent: 100},
	{Name: FeatureCalibrationAutoFlag, Description: "Flag non-converging items as low-confidence", Enabled: true, RolloutPercent: 100},
	{Name: FeatureServingProfileCache, Description: "Serve profile reads through the cache", Enabled: true, RolloutPercent: 100},
	{Name: FeatureServingContentFetch, Description: "Inline item prompts from the content service", Enabled: true, RolloutPercent: 100},
	{Name: FeatureServingDegradedBanner, Description: "Expose degraded mode in API responses", Enabled: true, RolloutPercent: 100},
	{Name: FeatureExperimentalResponseTime, Description: "Fold solve time into mastery estimates", Enabled: false},
	{Name: FeatureExperimentalAnalytics, Description: "Advanced analytics export", Enabled: false},
}

// FeatureFlags evaluates feature toggles with percentage rollout,
// cohort targeting, and per-student overrides. Estimation features
// roll out by student so a student's mastery trajectory stays
// consistent across sessions.
type FeatureFlags struct {
	mu               sync.RWMutex
	features         map[string]*Feature
	studentOverrides map[string]map[string]bool
}

// LoadFeatureFlags builds the catalog and applies environment
// overrides of the form FEATURE_<NAME>=true|false|<percent>, e.g.
// FEATURE_SELECTOR_EXPOSURE_COOLDOWN=50 for a 50% rollout.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature, len(featureDefaults)),
		studentOverrides: make(map[string]map[string]bool),
	}

	for i := range featureDefaults {
		f := featureDefaults[i]
		applyEnvOverride(&f)
		ff.features[f.Name] = &f
	}
	return ff
}

// applyEnvOverride mutates f from its FEATURE_* env var, if set.
func applyEnvOverride(f *Feature) {
	envKey := "FEATURE_" + strings.ReplaceAll(strings.ToUpper(f.Name), ".", "_")
	val := os.Getenv(envKey)
	if val == "" {
		return
	}

	if b, err := strconv.ParseBool(val); err == nil {
		f.Enabled = b
		f.RolloutPercent = 0
		if b {
			f.RolloutPercent = 100
		}
		return
	}
	if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
		f.Enabled = p > 0
		f.RolloutPercent = p
	}
}

// IsEnabled evaluates a flag for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.evaluate(featureName, ctx)
}

// evaluate is the lock-free core shared by IsEnabled and GetVariant.
// Caller holds at least a read lock.
func (ff *FeatureFlags) evaluate(featureName string, ctx *FeatureContext) bool {
	if ctx != nil && ctx.StudentID != "" {
		if enabled, ok := ff.studentOverrides[ctx.StudentID][featureName]; ok {
			return enabled
		}
	}

	f, ok := ff.features[featureName]
	if !ok {
		return false
	}
	if ctx != nil && ctx.IsAdmin {
		return true
	}
	if !f.Enabled || !f.liveAt(time.Now()) {
		return false
	}
	if ctx != nil && !f.targets(ctx.Cohort) {
		return false
	}

	if f.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return rolloutBucket(featureName, ctx.StudentID) < f.RolloutPercent
	}
	return f.RolloutPercent > 0
}

// liveAt checks the flag's time window.
func (f *Feature) liveAt(now time.Time) bool {
	if f.EnabledFrom != nil && now.Before(*f.EnabledFrom) {
		return false
	}
	if f.EnabledUntil != nil && now.After(*f.EnabledUntil) {
		return false
	}
	return true
}

// targets checks cohort membership; an empty target list matches all.
func (f *Feature) targets(cohort string) bool {
	if len(f.TargetCohorts) == 0 || cohort == "" {
		return true
	}
	for _, c := range f.TargetCohorts {
		if c == cohort {
			return true
		}
	}
	return false
}

// rolloutBucket maps (feature, student) to a stable bucket in [0, 100).
func rolloutBucket(featureName, studentID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName))
	_, _ = h.Write([]byte(studentID))
	return int(h.Sum32() % 100)
}

// GetVariant returns the A/B variant assigned to the student, or ""
// when the flag is off or has no variants.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[featureName]
	if !ok || len(f.Variants) == 0 || !ff.evaluate(featureName, ctx) {
		return ""
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName + "_variant"))
	_, _ = h.Write([]byte(ctx.StudentID))
	return f.Variants[int(h.Sum32()%uint32(len(f.Variants)))]
}

// SetStudentOverride pins a flag for one student. Used in debugging
// and support tooling.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.studentOverrides[studentID] == nil {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides drops all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent adjusts a flag's rollout live.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	f.RolloutPercent = percent
	f.Enabled = percent > 0
	return nil
}

// EnableFeature turns a flag fully on.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature turns a flag fully off.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of the catalog.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]*Feature, len(ff.features))
	for name, f := range ff.features {
		clone := *f
		out[name] = &clone
	}
	return out
}

// SequenceFusionEnabled reports whether sequence-model fusion is on
// for the student. Off means the Bayesian tracer alone drives mastery.
func (ff *FeatureFlags) SequenceFusionEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureFusionSequenceTracer, ctx)
}

// FeatureFlagError is a feature flag configuration error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string { return e.Message }

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

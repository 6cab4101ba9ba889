package farm

import "strings"

// Quality is the lighting quality level handed to faux_farm_begin.
type Quality string

const (
	QualityHigh       Quality = "high"
	QualityMedium     Quality = "medium"
	QualityLow        Quality = "low"
	QualityDirectOnly Quality = "direct_only"
	QualitySuperSlow  Quality = "super_slow"
	QualityDraft      Quality = "draft"
	QualityDebug      Quality = "debug"
)

// Qualities lists every accepted quality level.
var Qualities = []Quality{
	QualityHigh,
	QualityMedium,
	QualityLow,
	QualityDirectOnly,
	QualitySuperSlow,
	QualityDraft,
	QualityDebug,
}

// DefaultGroup selects every light group.
const DefaultGroup = "all"

// ParseQuality returns the quality named by s or a ValidationError.
func ParseQuality(s string) (Quality, error) {
	for _, q := range Qualities {
		if string(q) == s {
			return q, nil
		}
	}
	names := make([]string, len(Qualities))
	for i, q := range Qualities {
		names[i] = string(q)
	}
	return "", ValidationError{
		Field:   "quality",
		Value:   s,
		Message: "must be one of " + strings.Join(names, ", "),
	}
}

// PipelineConfig is the immutable input of one bake.
type PipelineConfig struct {
	Scenario string
	Target   string
	Quality  Quality
	Group    string
	BlobID   string
}

// NewPipelineConfig validates caller arguments. An empty group selects DefaultGroup.
func NewPipelineConfig(scenario, target, quality, group, blobID string) (PipelineConfig, error) {
	q, err := ParseQuality(quality)
	if err != nil {
		return PipelineConfig{}, err
	}
	if strings.TrimSpace(scenario) == "" {
		return PipelineConfig{}, ValidationError{Field: "scenario", Value: scenario, Message: "scenario is required"}
	}
	if strings.TrimSpace(target) == "" {
		return PipelineConfig{}, ValidationError{Field: "target", Value: target, Message: "target asset is required"}
	}
	if strings.TrimSpace(blobID) == "" {
		return PipelineConfig{}, ValidationError{Field: "blob_id", Value: blobID, Message: "blob id is required"}
	}
	if group == "" {
		group = DefaultGroup
	}
	return PipelineConfig{
		Scenario: scenario,
		Target:   target,
		Quality:  q,
		Group:    group,
		BlobID:   blobID,
	}, nil
}

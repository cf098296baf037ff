package models

// FeatureStatus controls how a feature flag resolves.
type FeatureStatus string

const (
	FeatureDisabled FeatureStatus = "disabled"
	FeatureEnabled  FeatureStatus = "enabled"
	FeatureBeta     FeatureStatus = "beta"
	FeatureRollout  FeatureStatus = "rollout"
)

// Feature is a runtime toggle.
type Feature struct {
	Name              string        `json:"name"`
	Status            FeatureStatus `json:"status"`
	Description       string        `json:"description"`
	RolloutPercentage int           `json:"rollout_percentage"`
	BetaUserIDs       []int64       `json:"beta_users"`
}

// UpdateFeatureRequest changes a feature flag.
type UpdateFeatureRequest struct {
	Status            FeatureStatus `json:"status" validate:"required,oneof=disabled enabled beta rollout"`
	RolloutPercentage *int          `json:"rollout_percentage" validate:"omitempty,min=0,max=100"`
	BetaUserIDs       []int64       `json:"beta_users"`
}

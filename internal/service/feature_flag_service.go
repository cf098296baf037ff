package service

import (
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

// DefaultFeatures is the flag set a fresh process starts with.
func DefaultFeatures() []models.Feature {
	return []models.Feature{
		{Name: "advanced_search", Status: models.FeatureBeta, Description: "Full-text search and advanced filters", RolloutPercentage: 100, BetaUserIDs: []int64{1, 2, 3}},
		{Name: "data_export", Status: models.FeatureEnabled, Description: "Export data to CSV/Excel", RolloutPercentage: 100},
		{Name: "admin_dashboard", Status: models.FeatureRollout, Description: "Advanced admin dashboard", RolloutPercentage: 50},
		{Name: "webhooks", Status: models.FeatureDisabled, Description: "Webhook notifications", RolloutPercentage: 100},
		{Name: "real_time_updates", Status: models.FeatureBeta, Description: "WebSocket real-time updates", RolloutPercentage: 100},
		{Name: "oauth_login", Status: models.FeatureDisabled, Description: "OAuth2 social login", RolloutPercentage: 100},
	}
}

// FeatureFlagService resolves runtime feature toggles. State is process-local.
type FeatureFlagService struct {
	mu        sync.RWMutex
	features  map[string]*models.Feature
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeatureFlagService constructs the service seeded with the given features.
func NewFeatureFlagService(features []models.Feature, validate *validator.Validate, logger *zap.Logger) *FeatureFlagService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FeatureFlagService{features: make(map[string]*models.Feature, len(features)), validator: validate, logger: logger}
	for i := range features {
		f := features[i]
		s.features[f.Name] = &f
	}
	return s
}

// IsEnabled reports whether the feature is on for the user. A nil user only
// sees globally enabled features.
func (s *FeatureFlagService) IsEnabled(name string, userID *int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feature, ok := s.features[name]
	if !ok {
		s.logger.Warn("unknown feature", zap.String("feature", name))
		return false
	}

	switch feature.Status {
	case models.FeatureEnabled:
		return true
	case models.FeatureBeta:
		if userID == nil {
			return false
		}
		for _, id := range feature.BetaUserIDs {
			if id == *userID {
				return true
			}
		}
		return false
	case models.FeatureRollout:
		if userID == nil {
			return false
		}
		bucket := *userID % 100
		if bucket < 0 {
			bucket = -bucket
		}
		return bucket < int64(feature.RolloutPercentage)
	default:
		return false
	}
}

// List returns all features ordered by name.
func (s *FeatureFlagService) List() []models.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Feature, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, copyFeature(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update changes the status, rollout or beta list of an existing feature.
func (s *FeatureFlagService) Update(name string, req models.UpdateFeatureRequest) (*models.Feature, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feature payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	feature, ok := s.features[name]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "feature not found")
	}
	feature.Status = req.Status
	if req.RolloutPercentage != nil {
		feature.RolloutPercentage = *req.RolloutPercentage
	}
	if req.BetaUserIDs != nil {
		feature.BetaUserIDs = append([]int64(nil), req.BetaUserIDs...)
	}
	s.logger.Info("feature updated", zap.String("feature", name), zap.String("status", string(feature.Status)), zap.Int("rollout", feature.RolloutPercentage))

	updated := copyFeature(feature)
	return &updated, nil
}

func copyFeature(f *models.Feature) models.Feature {
	out := *f
	out.BetaUserIDs = append([]int64(nil), f.BetaUserIDs...)
	return out
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/export"
)

// AthleteCachePattern matches every cached athlete listing.
const AthleteCachePattern = "cache:athletes:*"

type athleteRepository interface {
	List(ctx context.Context, filter models.AthleteFilter) ([]models.Athlete, int, error)
	FindByID(ctx context.Context, id int64) (*models.Athlete, error)
	ExistsByBib(ctx context.Context, bib string) (bool, error)
	Create(ctx context.Context, athlete *models.Athlete) error
}

type athleteCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type athleteList struct {
	Items []models.Athlete `json:"items"`
	Total int              `json:"total"`
}

// AthleteService manages athlete registration and listing.
type AthleteService struct {
	repo      athleteRepository
	cache     athleteCache
	listTTL   time.Duration
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAthleteService constructs an AthleteService.
func NewAthleteService(repo athleteRepository, cache athleteCache, listTTL time.Duration, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AthleteService {
	if listTTL <= 0 {
		listTTL = time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AthleteService{repo: repo, cache: cache, listTTL: listTTL, audit: audit, metrics: metrics, validator: validate, logger: logger}
}

// List returns a page of athletes, served from cache when possible. The bool
// reports a cache hit.
func (s *AthleteService) List(ctx context.Context, filter models.AthleteFilter) ([]models.Athlete, *models.Pagination, bool, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	key := fmt.Sprintf("cache:athletes:%d:%d:%s:%s", filter.Page, filter.PageSize, url.QueryEscape(strings.ToUpper(filter.Country)), url.QueryEscape(strings.ToLower(filter.Search)))

	var cached athleteList
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}, true, nil
	}

	start := time.Now()
	athletes, total, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("athletes_list", time.Since(start))
	if err != nil {
		return nil, nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list athletes")
	}

	if err := s.cache.Set(ctx, key, athleteList{Items: athletes, Total: total}, s.listTTL); err != nil {
		s.logger.Warn("athlete list not cached", zap.String("key", key), zap.Error(err))
	}
	return athletes, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, false, nil
}

// Get returns an athlete by id.
func (s *AthleteService) Get(ctx context.Context, id int64) (*models.Athlete, error) {
	athlete, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "athlete not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load athlete")
	}
	return athlete, nil
}

// Create registers an athlete and drops cached listings.
func (s *AthleteService) Create(ctx context.Context, req models.CreateAthleteRequest, actor *models.Session, meta models.RequestMeta) (*models.Athlete, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid athlete payload")
	}

	if req.BibNumber != nil && *req.BibNumber != "" {
		exists, err := s.repo.ExistsByBib(ctx, *req.BibNumber)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check bib number")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "bib number already assigned")
		}
	}

	athlete := &models.Athlete{
		Name:      strings.TrimSpace(req.Name),
		Country:   strings.ToUpper(req.Country),
		Gender:    req.Gender,
		Club:      req.Club,
		BibNumber: req.BibNumber,
	}
	if err := s.repo.Create(ctx, athlete); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create athlete")
	}

	if err := s.cache.Invalidate(ctx, AthleteCachePattern); err != nil {
		s.logger.Warn("athlete cache not invalidated", zap.Error(err))
	}

	if s.audit != nil {
		resourceID := strconv.FormatInt(athlete.ID, 10)
		entry := &models.AuditLog{
			Action:     models.AuditActionCreate,
			Resource:   "athlete",
			ResourceID: &resourceID,
			Details:    AuditDetails(map[string]interface{}{"name": athlete.Name, "country": athlete.Country}),
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		}
		if actor != nil {
			entry.UserID = &actor.ID
		}
		s.audit.Record(entry)
	}
	return athlete, nil
}

const exportPageSize = 100

// Export collects every athlete matching the filter into a CSV-ready table.
func (s *AthleteService) Export(ctx context.Context, filter models.AthleteFilter) (export.Table, error) {
	table := export.Table{Columns: []string{"id", "name", "country", "gender", "club", "bib_number", "created_at"}}

	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		start := time.Now()
		athletes, total, err := s.repo.List(ctx, filter)
		s.metrics.ObserveDBQuery("athletes_export", time.Since(start))
		if err != nil {
			return export.Table{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export athletes")
		}
		for _, a := range athletes {
			table.Rows = append(table.Rows, []string{
				strconv.FormatInt(a.ID, 10),
				a.Name,
				a.Country,
				deref(a.Gender),
				deref(a.Club),
				deref(a.BibNumber),
				a.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		if len(athletes) < exportPageSize || len(table.Rows) >= total {
			return table, nil
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

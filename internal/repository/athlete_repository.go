package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/athsys-api/internal/models"
)

const athleteColumns = `id, name, country, gender, club, bib_number, created_at, updated_at`

// AthleteRepository provides database access for athletes.
type AthleteRepository struct {
	db *sqlx.DB
}

// NewAthleteRepository constructs an AthleteRepository.
func NewAthleteRepository(db *sqlx.DB) *AthleteRepository {
	return &AthleteRepository{db: db}
}

// List returns athletes matching the filter with a total count.
func (r *AthleteRepository) List(ctx context.Context, filter models.AthleteFilter) ([]models.Athlete, int, error) {
	baseQuery := `FROM athletes WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Country != "" {
		conditions = append(conditions, fmt.Sprintf("country = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.Country))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", athleteColumns, baseQuery, pageSize, offset)
	athletes := []models.Athlete{}
	if err := r.db.SelectContext(ctx, &athletes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list athletes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count athletes: %w", err)
	}
	return athletes, total, nil
}

// FindByID returns a single athlete.
func (r *AthleteRepository) FindByID(ctx context.Context, id int64) (*models.Athlete, error) {
	query := `SELECT ` + athleteColumns + ` FROM athletes WHERE id = $1`
	var athlete models.Athlete
	if err := r.db.GetContext(ctx, &athlete, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find athlete: %w", err)
	}
	return &athlete, nil
}

// ExistsByBib reports whether a bib number is already assigned.
func (r *AthleteRepository) ExistsByBib(ctx context.Context, bib string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM athletes WHERE bib_number = $1)`, bib); err != nil {
		return false, fmt.Errorf("check bib number: %w", err)
	}
	return exists, nil
}

// Create inserts a new athlete and populates generated fields.
func (r *AthleteRepository) Create(ctx context.Context, athlete *models.Athlete) error {
	now := time.Now().UTC()
	athlete.CreatedAt = now
	athlete.UpdatedAt = now

	const query = `INSERT INTO athletes (name, country, gender, club, bib_number, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, athlete.Name, athlete.Country, athlete.Gender, athlete.Club, athlete.BibNumber, athlete.CreatedAt, athlete.UpdatedAt).Scan(&athlete.ID); err != nil {
		return fmt.Errorf("create athlete: %w", err)
	}
	return nil
}

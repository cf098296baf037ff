package models

import "time"

// Athlete is a competitor registered in the system.
type Athlete struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Country   string    `db:"country" json:"country"`
	Gender    *string   `db:"gender" json:"gender,omitempty"`
	Club      *string   `db:"club" json:"club,omitempty"`
	BibNumber *string   `db:"bib_number" json:"bib_number,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CreateAthleteRequest is the payload for registering an athlete.
type CreateAthleteRequest struct {
	Name      string  `json:"name" validate:"required,max=100"`
	Country   string  `json:"country" validate:"required,len=3,alpha"`
	Gender    *string `json:"gender" validate:"omitempty,oneof=male female"`
	Club      *string `json:"club" validate:"omitempty,max=100"`
	BibNumber *string `json:"bib_number" validate:"omitempty,max=20"`
}

// AthleteFilter captures listing criteria.
type AthleteFilter struct {
	Country  string
	Search   string
	Page     int
	PageSize int
}

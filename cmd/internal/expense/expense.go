// Package expense stores per-account expense records and serves the CRUD
// endpoints. Every successful write is announced to the account's live
// connections after it commits.
package expense

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Expense is one tracked record. Version starts at 1 and grows by one per
// update; clients use it to discard stale events.
type Expense struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Amount    float64   `json:"amount"`
	Category  string    `json:"category"`
	Date      time.Time `json:"date"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the user-editable part of an expense.
type Input struct {
	Title    string
	Amount   float64
	Category string
	Date     time.Time
}

const (
	maxTitleLen    = 200
	maxCategoryLen = 64
)

var (
	ErrNotFound        = errors.New("expense: not found")
	ErrInvalid         = errors.New("expense: invalid input")
	ErrVersionConflict = errors.New("expense: version conflict")
)

// ValidationError names the offending field. It unwraps to ErrInvalid.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("expense: %s: %s", e.Field, e.Msg)
}

func (e ValidationError) Unwrap() error { return ErrInvalid }

// Normalize trims text fields and moves the date to UTC.
func (in Input) Normalize() Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Date = in.Date.UTC()
	return in
}

// Validate checks a normalized input.
func (in Input) Validate() error {
	switch {
	case in.Title == "":
		return ValidationError{Field: "title", Msg: "title is required"}
	case len(in.Title) > maxTitleLen:
		return ValidationError{Field: "title", Msg: "title is too long"}
	case in.Category == "":
		return ValidationError{Field: "category", Msg: "category is required"}
	case len(in.Category) > maxCategoryLen:
		return ValidationError{Field: "category", Msg: "category is too long"}
	case math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount <= 0:
		return ValidationError{Field: "amount", Msg: "amount must be a positive number"}
	case in.Date.IsZero():
		return ValidationError{Field: "date", Msg: "invalid date"}
	}
	return nil
}

// Filter narrows List. Day, when set, matches the UTC calendar day.
type Filter struct {
	Category string
	Day      time.Time
}

func (f Filter) dayBounds() (time.Time, time.Time, bool) {
	if f.Day.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	d := f.Day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1), true
}

// Store persists expenses. Every method is scoped to userID; a record owned
// by another account reports ErrNotFound.
type Store interface {
	Create(ctx context.Context, userID string, in Input, now time.Time) (Expense, error)
	Get(ctx context.Context, userID, id string) (Expense, error)
	// List returns records newest date first.
	List(ctx context.Context, userID string, f Filter) ([]Expense, error)
	// Update replaces the editable fields and bumps the version. A positive
	// expectedVersion must match the stored one or ErrVersionConflict is
	// returned.
	Update(ctx context.Context, userID, id string, in Input, expectedVersion int64, now time.Time) (Expense, error)
	Delete(ctx context.Context, userID, id string) error
}

// Summary aggregates an account's spending.
type Summary struct {
	Total      float64                  `json:"total"`
	Month      float64                  `json:"month"`
	Today      float64                  `json:"today"`
	Count      int                      `json:"count"`
	ByCategory map[string]CategoryTotal `json:"by_category"`
}

// CategoryTotal is one bucket of Summary.ByCategory.
type CategoryTotal struct {
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// Summarize totals list. Month and Today use UTC calendar boundaries of now.
func Summarize(list []Expense, now time.Time) Summary {
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	s := Summary{ByCategory: map[string]CategoryTotal{}}
	for _, e := range list {
		s.Total += e.Amount
		s.Count++

		d := e.Date.UTC()
		if !d.Before(monthStart) && d.Before(monthStart.AddDate(0, 1, 0)) {
			s.Month += e.Amount
		}
		if !d.Before(dayStart) && d.Before(dayEnd) {
			s.Today += e.Amount
		}

		c := s.ByCategory[e.Category]
		c.Total += e.Amount
		c.Count++
		s.ByCategory[e.Category] = c
	}
	return s
}

package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"go-redzone/types"
)

var (
	ErrEmptyText     = errors.New("report text is required")
	ErrEmptyLocation = errors.New("location is required")
)

// ReportStore persists classified reports. Report text is the uniqueness key.
type ReportStore interface {
	InsertIfAbsent(ctx context.Context, report types.ClassifiedReport) (bool, error)
	Exists(ctx context.Context, text string) (bool, error)
	ListByLocation(ctx context.Context, location string, limit int) ([]types.ClassifiedReport, error)
}

// UpdateFunc folds new data into the current aggregate. current is nil when the
// location has never been seen. It may run more than once if the backend retries.
type UpdateFunc func(current *types.LocationAggregate) types.LocationAggregate

// AggregateStore holds one LocationAggregate per location key. Update must run
// fn as an atomic read-modify-write for that key.
type AggregateStore interface {
	Get(ctx context.Context, location string) (*types.LocationAggregate, error)
	Update(ctx context.Context, location string, fn UpdateFunc) (types.LocationAggregate, error)
	List(ctx context.Context, q AggregateQuery) ([]types.LocationAggregate, error)
	SetGeocode(ctx context.Context, location string, point types.GeoPoint) error
}

// AggregateQuery filters List. Results are ordered by score, highest first.
type AggregateQuery struct {
	MinScore     float64
	DisasterType string
	Limit        int
	// OnlyNew selects aggregates that have not been geocoded yet.
	OnlyNew bool
}

// UserDirectory is the read side of user registration plus the seeding write.
type UserDirectory interface {
	FindByExactAddress(ctx context.Context, location string) ([]types.User, error)
	GetEmergencyContacts(ctx context.Context, phoneNumber string) ([]string, error)
	UpsertUser(ctx context.Context, user types.User) error
}

// HashString hashes a given string using SHA-256 and returns its hex representation.
func HashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no image matches a lookup.
var ErrNotFound = errors.New("image not found")

// DatabaseService is the image store used by the core and the detection dispatcher.
// Implementations must be safe for concurrent use and write records atomically.
type DatabaseService interface {
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist(ctx context.Context) bool
	Close() error

	// InsertImage assigns a new ID to image and persists the whole record.
	InsertImage(ctx context.Context, image *Image) (string, error)
	// SaveImage replaces the stored record with the same ID.
	SaveImage(ctx context.Context, image *Image) error
	GetImageByID(ctx context.Context, id string) (*Image, error)

	FindByCameraAndDatetime(ctx context.Context, camera string, datetime time.Time) ([]*Image, error)
	// DistinctCamerasInRange returns the sorted cameras with images in [from, to].
	DistinctCamerasInRange(ctx context.Context, from, to time.Time) ([]string, error)
	FilterByCameraAndDate(ctx context.Context, camera string, date time.Time) ([]*Image, error)
	LatestByCamera(ctx context.Context, camera string) (*Image, error)
}

// dayBounds returns the first and last second of date's calendar day in loc.
func dayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
	return start, end
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const imageColumns = "id, name, camera, path, datetime, detections"

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
	location         *time.Location
}

func NewSQLiteDatabase(connectionString string, location *time.Location) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}

	if isInMemory(connectionString) {
		// every new connection to :memory: opens a separate, empty database
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if location == nil {
		location = time.Local
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		location:         location,
	}, nil
}

func isInMemory(connectionString string) bool {
	return connectionString == ":memory:" || strings.Contains(connectionString, "mode=memory")
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		camera TEXT NOT NULL,
		path TEXT NOT NULL,
		datetime TEXT NOT NULL,
		detections TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_images_camera_datetime ON images(camera, datetime);
	CREATE INDEX IF NOT EXISTS idx_images_datetime ON images(datetime);`)
	if err != nil {
		return fmt.Errorf("failed to create images table: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist(ctx context.Context) bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.PingContext(ctx)
	return err == nil
}

func (s *SQLiteDatabase) InsertImage(ctx context.Context, image *Image) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("failed to generate image id: %w", err)
	}

	detections, err := encodeDetections(image.Detections)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO images ("+imageColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		id, image.Name, image.Camera, image.Path, s.formatDatetime(image.Datetime), detections)
	if err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	image.ID = id
	return id, nil
}

func (s *SQLiteDatabase) SaveImage(ctx context.Context, image *Image) error {
	if image.ID == "" {
		return fmt.Errorf("failed to save image: missing id")
	}

	detections, err := encodeDetections(image.Detections)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			camera = excluded.camera,
			path = excluded.path,
			datetime = excluded.datetime,
			detections = excluded.detections`,
		image.ID, image.Name, image.Camera, image.Path, s.formatDatetime(image.Datetime), detections)
	if err != nil {
		return fmt.Errorf("failed to save image %s: %w", image.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) GetImageByID(ctx context.Context, id string) (*Image, error) {
	images, err := s.queryImages(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNotFound
	}
	return images[0], nil
}

func (s *SQLiteDatabase) FindByCameraAndDatetime(ctx context.Context, camera string, datetime time.Time) ([]*Image, error) {
	return s.queryImages(ctx,
		"SELECT "+imageColumns+" FROM images WHERE camera = ? AND datetime = ? ORDER BY rowid",
		camera, s.formatDatetime(datetime))
}

func (s *SQLiteDatabase) DistinctCamerasInRange(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT camera FROM images WHERE datetime >= ? AND datetime <= ? ORDER BY camera",
		s.formatDatetime(from), s.formatDatetime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query cameras: %w", err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	cameras := []string{}
	for rows.Next() {
		var camera string
		if err := rows.Scan(&camera); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, camera)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cameras: %w", err)
	}
	return cameras, nil
}

func (s *SQLiteDatabase) FilterByCameraAndDate(ctx context.Context, camera string, date time.Time) ([]*Image, error) {
	start, end := dayBounds(date, s.location)
	return s.queryImages(ctx,
		"SELECT "+imageColumns+" FROM images WHERE camera = ? AND datetime >= ? AND datetime <= ? ORDER BY datetime, rowid",
		camera, s.formatDatetime(start), s.formatDatetime(end))
}

func (s *SQLiteDatabase) LatestByCamera(ctx context.Context, camera string) (*Image, error) {
	images, err := s.queryImages(ctx,
		"SELECT "+imageColumns+" FROM images WHERE camera = ? ORDER BY datetime DESC, rowid DESC LIMIT 1",
		camera)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, ErrNotFound
	}
	return images[0], nil
}

func (s *SQLiteDatabase) queryImages(ctx context.Context, query string, args ...any) ([]*Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	images := []*Image{}
	for rows.Next() {
		var (
			img        Image
			datetime   string
			detections string
		)
		if err := rows.Scan(&img.ID, &img.Name, &img.Camera, &img.Path, &datetime, &detections); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.Datetime, err = time.ParseInLocation(DatetimeLayout, datetime, s.location)
		if err != nil {
			return nil, fmt.Errorf("failed to parse datetime of image %s: %w", img.ID, err)
		}
		img.Detections, err = decodeDetections(detections)
		if err != nil {
			return nil, fmt.Errorf("failed to decode detections of image %s: %w", img.ID, err)
		}
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate images: %w", err)
	}
	return images, nil
}

func (s *SQLiteDatabase) formatDatetime(t time.Time) string {
	return t.In(s.location).Format(DatetimeLayout)
}

func encodeDetections(detections []Detection) (string, error) {
	if detections == nil {
		detections = []Detection{}
	}
	data, err := json.Marshal(detections)
	if err != nil {
		return "", fmt.Errorf("failed to encode detections: %w", err)
	}
	return string(data), nil
}

func decodeDetections(data string) ([]Detection, error) {
	detections := []Detection{}
	if data == "" {
		return detections, nil
	}
	if err := json.Unmarshal([]byte(data), &detections); err != nil {
		return nil, err
	}
	if detections == nil {
		detections = []Detection{}
	}
	return detections, nil
}

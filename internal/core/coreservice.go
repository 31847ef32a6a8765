package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/backend/detection"
	"github.com/jo-hoe/vehiclewatch/internal/backend/imageprocessing"
	"github.com/jo-hoe/vehiclewatch/internal/backend/labels"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15-04-05"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Dispatcher schedules detection for a stored image without waiting for it.
type Dispatcher interface {
	Dispatch(filePath, imageID string) <-chan detection.Result
	Close()
}

// Annotator draws detections onto encoded image bytes.
type Annotator interface {
	Annotate(imageData []byte, detections []database.Detection) ([]byte, error)
}

// DataPoint is the vehicle count of one image, keyed by minute of day.
type DataPoint struct {
	Number int `json:"number"`
	Time   int `json:"time"`
}

// ImageDetail is a stored image with its detections, ready to be served.
type ImageDetail struct {
	Camera     string               `json:"camera"`
	Datetime   string               `json:"datetime"`
	Image      string               `json:"image"`
	Detections []database.Detection `json:"detections"`
	Annotated  bool                 `json:"annotated"`
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	dispatcher      Dispatcher
	annotator       Annotator
	location        *time.Location
	now             func() time.Time
}

func NewCoreService(config *ServiceConfig, databaseService database.DatabaseService, dispatcher Dispatcher) (*CoreService, error) {
	location, err := config.Location()
	if err != nil {
		return nil, err
	}
	return &CoreService{
		config:          config,
		databaseService: databaseService,
		dispatcher:      dispatcher,
		annotator:       imageprocessing.NewAnnotator(config.JPEGQuality, labels.FallbackColor),
		location:        location,
		now:             time.Now,
	}, nil
}

// ParseDate parses a YYYY-MM-DD date in the configured timezone.
func (service *CoreService) ParseDate(date string) (time.Time, error) {
	parsed, err := time.ParseInLocation(DateLayout, date, service.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be formatted as YYYY-MM-DD", ErrInvalidInput, date)
	}
	return parsed, nil
}

// ParseDatetime combines a YYYY-MM-DD date and a HH-mm-ss time of day.
func (service *CoreService) ParseDatetime(date, clock string) (time.Time, error) {
	day, err := service.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	parsed, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q must be formatted as HH-mm-ss", ErrInvalidInput, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, service.location), nil
}

// Today returns the current calendar date in the configured timezone.
func (service *CoreService) Today() time.Time {
	now := service.now().In(service.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, service.location)
}

// Cameras lists the cameras with at least one image on the given day.
func (service *CoreService) Cameras(ctx context.Context, date time.Time) ([]string, error) {
	day := date.In(service.location)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, service.location)
	to := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, service.location)

	cameras, err := service.databaseService.DistinctCamerasInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	if cameras == nil {
		cameras = []string{}
	}
	return cameras, nil
}

// DataPoints returns the vehicle count of every image a camera took on the given day.
func (service *CoreService) DataPoints(ctx context.Context, camera string, date time.Time) ([]DataPoint, error) {
	images, err := service.databaseService.FilterByCameraAndDate(ctx, camera, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load images of camera %s: %w", camera, err)
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Datetime.Before(images[j].Datetime)
	})

	points := make([]DataPoint, 0, len(images))
	for _, image := range images {
		points = append(points, service.dataPoint(image))
	}
	return points, nil
}

// DataPoint returns the vehicle count of the first image matching camera and datetime.
func (service *CoreService) DataPoint(ctx context.Context, camera string, datetime time.Time) (*DataPoint, error) {
	image, err := service.findFirst(ctx, camera, datetime)
	if err != nil {
		return nil, err
	}
	point := service.dataPoint(image)
	return &point, nil
}

// RetrieveImage loads the first image matching camera and datetime, optionally annotated.
func (service *CoreService) RetrieveImage(ctx context.Context, camera string, datetime time.Time, annotated bool) (*ImageDetail, error) {
	image, err := service.findFirst(ctx, camera, datetime)
	if err != nil {
		return nil, err
	}
	return service.detail(image, annotated)
}

// LatestImage loads the most recent image of a camera, optionally annotated.
func (service *CoreService) LatestImage(ctx context.Context, camera string, annotated bool) (*ImageDetail, error) {
	image, err := service.databaseService.LatestByCamera(ctx, camera)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: no images for camera %s", ErrNotFound, camera)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest image of camera %s: %w", camera, err)
	}
	return service.detail(image, annotated)
}

// AddImage stores the uploaded bytes, records the image and schedules detection.
// The returned record has no detections yet.
func (service *CoreService) AddImage(ctx context.Context, content io.Reader, camera, name string, datetime time.Time) (*database.Image, error) {
	camera = strings.TrimSpace(camera)
	if camera == "" {
		return nil, fmt.Errorf("%w: camera must not be empty", ErrInvalidInput)
	}
	baseName := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if baseName == "" || baseName == "." || baseName == ".." || baseName == "/" {
		return nil, fmt.Errorf("%w: invalid file name %q", ErrInvalidInput, name)
	}

	path, created, err := service.writeFile(content, baseName)
	if err != nil {
		return nil, err
	}

	image := &database.Image{
		Name:       baseName,
		Camera:     camera,
		Path:       path,
		Datetime:   datetime.In(service.location),
		Detections: []database.Detection{},
	}
	if _, err := service.databaseService.InsertImage(ctx, image); err != nil {
		// an overwritten file still belongs to an earlier record
		if created {
			if removeErr := os.Remove(path); removeErr != nil {
				slog.Warn("failed to remove unrecorded image file", "path", path, "error", removeErr)
			}
		}
		return nil, fmt.Errorf("failed to record image: %w", err)
	}
	slog.Info("image stored", "image_id", image.ID, "camera", camera, "path", path)

	service.dispatcher.Dispatch(path, image.ID)
	return image, nil
}

// Close stops the detection workers and releases the store.
func (service *CoreService) Close() error {
	service.dispatcher.Close()
	return service.databaseService.Close()
}

// writeFile stores content under name, overwriting an existing file. created
// reports whether the file did not exist before.
func (service *CoreService) writeFile(content io.Reader, name string) (path string, created bool, err error) {
	directory, err := filepath.Abs(service.config.ImagesDirectory)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve images directory: %w", err)
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create images directory: %w", err)
	}

	path = filepath.Join(directory, name)
	_, statErr := os.Stat(path)
	created = errors.Is(statErr, fs.ErrNotExist)

	file, err := os.Create(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := io.Copy(file, content); err != nil {
		_ = file.Close()
		return "", false, fmt.Errorf("failed to write image file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", false, fmt.Errorf("failed to write image file: %w", err)
	}
	return path, created, nil
}

func (service *CoreService) findFirst(ctx context.Context, camera string, datetime time.Time) (*database.Image, error) {
	images, err := service.databaseService.FindByCameraAndDatetime(ctx, camera, datetime)
	if err != nil {
		return nil, fmt.Errorf("failed to look up image: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no image for camera %s at %s", ErrNotFound, camera, datetime.Format(database.DatetimeLayout))
	}
	return images[0], nil
}

func (service *CoreService) dataPoint(image *database.Image) DataPoint {
	local := image.Datetime.In(service.location)
	return DataPoint{
		Number: len(image.Detections),
		Time:   local.Hour()*60 + local.Minute(),
	}
}

func (service *CoreService) detail(image *database.Image, annotated bool) (*ImageDetail, error) {
	data, err := os.ReadFile(image.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file of image %s is missing", ErrNotFound, image.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", image.ID, err)
	}

	detections := image.Detections
	if detections == nil {
		detections = []database.Detection{}
	}

	detail := &ImageDetail{
		Camera:     image.Camera,
		Datetime:   image.Datetime.In(service.location).Format(database.DatetimeLayout),
		Detections: detections,
	}

	if annotated {
		rendered, err := service.annotator.Annotate(data, detections)
		if err == nil {
			detail.Image = base64.StdEncoding.EncodeToString(rendered)
			detail.Annotated = true
			return detail, nil
		}
		slog.Warn("serving image without annotation", "image_id", image.ID, "error", err)
	}

	detail.Image = base64.StdEncoding.EncodeToString(data)
	return detail, nil
}

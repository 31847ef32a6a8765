package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jo-hoe/vehiclewatch/internal/backend/database"
	"github.com/jo-hoe/vehiclewatch/internal/core"

	"github.com/labstack/echo/v4"
)

const (
	imageUnavailableMessage = "Image does not exist or is unavailable."
	noImagesMessage         = "No images for the parameters sent"
)

type APIService struct {
	coreService *core.CoreService
	events      http.Handler
}

type Image struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Camera     string               `json:"camera"`
	Path       string               `json:"path"`
	Datetime   string               `json:"datetime"`
	Detections []database.Detection `json:"detections"`
}

type camerasRequest struct {
	Date string `query:"date" validate:"required"`
}

type uploadRequest struct {
	Camera string `form:"camera" validate:"required"`
	Name   string `form:"name" validate:"required"`
	Date   string `form:"date" validate:"required"`
	Time   string `form:"time" validate:"required"`
}

type generalRequest struct {
	Camera string `query:"camera" validate:"required"`
	Date   string `query:"date"`
}

type specificRequest struct {
	Camera    string `query:"camera" validate:"required"`
	Date      string `query:"date" validate:"required"`
	Time      string `query:"time" validate:"required"`
	Annotated string `query:"annotated"`
}

type latestRequest struct {
	Camera    string `query:"camera" validate:"required"`
	Annotated string `query:"annotated"`
}

// NewAPIService creates the HTTP surface. events may be nil, in which case no
// websocket endpoint is registered.
func NewAPIService(coreService *core.CoreService, events http.Handler) *APIService {
	return &APIService{
		coreService: coreService,
		events:      events,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	group := e.Group("/image")
	group.GET("/cameras", s.cameras)
	group.POST("/upload", s.upload)
	group.GET("/general", s.general)
	group.GET("/specific", s.specific)
	group.GET("/specific/less", s.specificLess)
	group.GET("/latest", s.latest)
	if s.events != nil {
		group.GET("/events", echo.WrapHandler(s.events))
	}
}

func (s *APIService) cameras(c echo.Context) error {
	var request camerasRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}
	date, err := s.coreService.ParseDate(request.Date)
	if err != nil {
		return toHTTPError(err, "")
	}

	cameras, err := s.coreService.Cameras(c.Request().Context(), date)
	if err != nil {
		return toHTTPError(err, "")
	}
	return c.JSON(http.StatusOK, cameras)
}

func (s *APIService) upload(c echo.Context) error {
	var request uploadRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}
	datetime, err := s.coreService.ParseDatetime(request.Date, request.Time)
	if err != nil {
		return toHTTPError(err, "")
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing image file")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to read image file: %v", err))
	}
	defer func() {
		_ = file.Close()
	}()

	image, err := s.coreService.AddImage(c.Request().Context(), file, request.Camera, request.Name, datetime)
	if err != nil {
		return toHTTPError(err, "")
	}

	c.Response().Header().Set(echo.HeaderLocation, fmt.Sprintf("%s://%s%s/%s", c.Scheme(), c.Request().Host, c.Request().URL.Path, image.ID))
	return c.JSON(http.StatusCreated, toImage(image))
}

func (s *APIService) general(c echo.Context) error {
	var request generalRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}

	date := s.coreService.Today()
	if request.Date != "" {
		parsed, err := s.coreService.ParseDate(request.Date)
		if err != nil {
			return toHTTPError(err, "")
		}
		date = parsed
	}

	points, err := s.coreService.DataPoints(c.Request().Context(), request.Camera, date)
	if err != nil {
		return toHTTPError(err, "")
	}
	return c.JSON(http.StatusOK, points)
}

func (s *APIService) specific(c echo.Context) error {
	var request specificRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}
	datetime, err := s.coreService.ParseDatetime(request.Date, request.Time)
	if err != nil {
		return toHTTPError(err, "")
	}

	annotated, err := parseAnnotated(request.Annotated)
	if err != nil {
		return err
	}

	detail, err := s.coreService.RetrieveImage(c.Request().Context(), request.Camera, datetime, annotated)
	if err != nil {
		return toHTTPError(err, noImagesMessage)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *APIService) specificLess(c echo.Context) error {
	var request specificRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}
	datetime, err := s.coreService.ParseDatetime(request.Date, request.Time)
	if err != nil {
		return toHTTPError(err, "")
	}

	point, err := s.coreService.DataPoint(c.Request().Context(), request.Camera, datetime)
	if err != nil {
		return toHTTPError(err, imageUnavailableMessage)
	}
	return c.JSON(http.StatusOK, point)
}

func (s *APIService) latest(c echo.Context) error {
	var request latestRequest
	if err := bindAndValidate(c, &request); err != nil {
		return err
	}

	annotated, err := parseAnnotated(request.Annotated)
	if err != nil {
		return err
	}

	detail, err := s.coreService.LatestImage(c.Request().Context(), request.Camera, annotated)
	if err != nil {
		return toHTTPError(err, noImagesMessage)
	}
	return c.JSON(http.StatusOK, detail)
}

func bindAndValidate(c echo.Context, request any) error {
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return c.Validate(request)
}

// parseAnnotated defaults to true when the parameter is absent.
func parseAnnotated(value string) (bool, error) {
	if value == "" {
		return true, nil
	}
	annotated, err := strconv.ParseBool(value)
	if err != nil {
		return false, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("annotated must be a boolean, got %q", value))
	}
	return annotated, nil
}

func toHTTPError(err error, notFoundMessage string) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		if notFoundMessage == "" {
			notFoundMessage = err.Error()
		}
		return echo.NewHTTPError(http.StatusNotFound, notFoundMessage)
	default:
		slog.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func toImage(image *database.Image) Image {
	detections := image.Detections
	if detections == nil {
		detections = []database.Detection{}
	}
	return Image{
		ID:         image.ID,
		Name:       image.Name,
		Camera:     image.Camera,
		Path:       image.Path,
		Datetime:   image.Datetime.Format(database.DatetimeLayout),
		Detections: detections,
	}
}

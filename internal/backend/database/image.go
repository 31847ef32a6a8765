package database

import "time"

// DatetimeLayout is the wall clock format used to persist and serialize capture times.
const DatetimeLayout = "2006-01-02T15:04:05"

// Image is one uploaded photograph and the detections found on it.
type Image struct {
	ID         string
	Name       string
	Camera     string
	Path       string
	Datetime   time.Time
	Detections []Detection
}

// Detection is one bounding box reported by the detection model.
// Fields are pointers because upstream entries may omit any of them.
type Detection struct {
	Confidence *float64 `json:"confidence"`
	Label      *string  `json:"label"`
	X1         *float64 `json:"x1"`
	Y1         *float64 `json:"y1"`
	X2         *float64 `json:"x2"`
	Y2         *float64 `json:"y2"`
}

// HasBox reports whether all four corner coordinates are present.
func (d Detection) HasBox() bool {
	return d.X1 != nil && d.Y1 != nil && d.X2 != nil && d.Y2 != nil
}

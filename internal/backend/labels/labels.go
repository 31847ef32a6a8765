package labels

import "image/color"

// Class is a vehicle class reported by the detection model.
type Class int

const (
	Car Class = iota
	Motorcycle
	Bus
	Vehicle
)

type classInfo struct {
	label string
	color color.RGBA
}

// FallbackColor is used for detections whose label is missing or unknown.
var FallbackColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

var classes = [...]classInfo{
	Car:        {label: "Car", color: color.RGBA{R: 0, G: 0, B: 255, A: 255}},
	Motorcycle: {label: "Motorcycle", color: color.RGBA{R: 0, G: 255, B: 0, A: 255}},
	Bus:        {label: "Bus", color: color.RGBA{R: 255, G: 255, B: 0, A: 255}},
	Vehicle:    {label: "Vehicle", color: color.RGBA{R: 255, G: 0, B: 0, A: 255}},
}

var byLabel = func() map[string]Class {
	m := make(map[string]Class, len(classes))
	for id, info := range classes {
		m[info.label] = Class(id)
	}
	return m
}()

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	return c >= 0 && int(c) < len(classes)
}

// Label returns the human readable label, or an empty string for unknown classes.
func (c Class) Label() string {
	if !c.Valid() {
		return ""
	}
	return classes[c].label
}

// Color returns the display color, or FallbackColor for unknown classes.
func (c Class) Color() color.RGBA {
	if !c.Valid() {
		return FallbackColor
	}
	return classes[c].color
}

func (c Class) String() string {
	return c.Label()
}

// Classes returns all known classes ordered by id.
func Classes() []Class {
	out := make([]Class, len(classes))
	for i := range classes {
		out[i] = Class(i)
	}
	return out
}

// ClassForID maps a numeric model class id onto a Class.
func ClassForID(id int) (Class, bool) {
	c := Class(id)
	return c, c.Valid()
}

// LabelForID resolves a numeric model class id to its label.
func LabelForID(id int) (string, bool) {
	c, ok := ClassForID(id)
	if !ok {
		return "", false
	}
	return c.Label(), true
}

// ColorForLabel resolves a label string to its display color.
func ColorForLabel(label string) (color.RGBA, bool) {
	c, ok := byLabel[label]
	if !ok {
		return color.RGBA{}, false
	}
	return c.Color(), true
}

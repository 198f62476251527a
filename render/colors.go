package render

import "image/color"

// NamedColor is a display color with the name it is reported under
type NamedColor struct {
	Name  string
	Color color.RGBA
}

var (
	// Palette is the ordered set of colors assigned to classes as they are
	// first encountered
	Palette = []NamedColor{
		{Name: "yellow", Color: color.RGBA{R: 255, G: 255, B: 0, A: 255}},  // #FFFF00
		{Name: "red", Color: color.RGBA{R: 255, G: 0, B: 0, A: 255}},       // #FF0000
		{Name: "blue", Color: color.RGBA{R: 0, G: 0, B: 255, A: 255}},      // #0000FF
		{Name: "green", Color: color.RGBA{R: 0, G: 128, B: 0, A: 255}},     // #008000
		{Name: "magenta", Color: color.RGBA{R: 255, G: 0, B: 255, A: 255}}, // #FF00FF
		{Name: "cyan", Color: color.RGBA{R: 0, G: 255, B: 255, A: 255}},    // #00FFFF
		{Name: "orange", Color: color.RGBA{R: 255, G: 165, B: 0, A: 255}},  // #FFA500
		{Name: "purple", Color: color.RGBA{R: 128, G: 0, B: 128, A: 255}},  // #800080
	}
)

// ClassColorMap assigns each class name a color from a palette on first
// encounter and returns the same color for that class thereafter.  A map
// should live for a single request only so colors are assigned afresh by
// the classes each request sees.  It is not safe for concurrent use.
type ClassColorMap struct {
	palette  []NamedColor
	assigned map[string]NamedColor
}

// NewClassColorMap returns an empty ClassColorMap drawing from the given
// palette, or from Palette when none is given
func NewClassColorMap(palette []NamedColor) *ClassColorMap {

	if len(palette) == 0 {
		palette = Palette
	}

	return &ClassColorMap{
		palette:  palette,
		assigned: make(map[string]NamedColor),
	}
}

// Assign returns the color for the named class, taking the next palette
// entry if the class has not been seen before.  The palette wraps around
// once every entry has been used.
func (m *ClassColorMap) Assign(name string) NamedColor {

	if c, ok := m.assigned[name]; ok {
		return c
	}

	c := m.palette[len(m.assigned)%len(m.palette)]
	m.assigned[name] = c

	return c
}

// Len returns the number of classes assigned a color
func (m *ClassColorMap) Len() int {
	return len(m.assigned)
}

package postprocess

import (
	"image/color"
	"strconv"
	"strings"
)

// RawDetection is a single oriented box returned by the detector in the
// coordinate space of the tile it was found in
type RawDetection struct {
	// CX is the x coordinate of the box center, in tile pixels
	CX float64
	// CY is the y coordinate of the box center, in tile pixels
	CY float64
	// Width of the box before rotation
	Width float64
	// Height of the box before rotation
	Height float64
	// Angle is the box rotation in radians
	Angle float64
	// Confidence is the detection score from 0 to 1
	Confidence float64
	// ClassID is the index of the class in the model's class table
	ClassID int
}

// Point is a sub-pixel coordinate in the source image
type Point struct {
	X float64
	Y float64
}

// GlobalDetection is a RawDetection remapped into source image coordinates
type GlobalDetection struct {
	RawDetection
	// ClassName is resolved from ClassID via the detector's class table
	ClassName string
	// Corners are the four vertices of the rotated box in source image
	// coordinates
	Corners [4]Point
	// Color is the display color assigned to ClassName for the request
	Color color.RGBA
	// ColorName is the palette name of Color
	ColorName string
}

// ClassTable maps a model class ID to its class name
type ClassTable map[int]string

// NewClassTable creates a ClassTable from labels ordered by class ID, such
// as those returned by LoadLabels
func NewClassTable(labels []string) ClassTable {
	t := make(ClassTable, len(labels))

	for i, name := range labels {
		t[i] = name
	}

	return t
}

// Name returns the class name for the given ID, or the ID in decimal form
// when the table has no entry for it
func (t ClassTable) Name(id int) string {
	if name, ok := t[id]; ok && name != "" {
		return name
	}

	return strconv.Itoa(id)
}

// AllowList is a set of class names retained by the class filter.  A nil
// AllowList is unset and allows every class, whilst an empty non-nil list
// allows none.
type AllowList map[string]struct{}

// NewAllowList returns an AllowList containing the given class names
func NewAllowList(names ...string) AllowList {
	a := make(AllowList, len(names))

	for _, n := range names {
		a[n] = struct{}{}
	}

	return a
}

// ParseAllowList builds an AllowList from configured or requested names.
// Names are trimmed and blanks dropped.  A nil slice or the wildcard "*"
// returns the nil AllowList that retains every class, while an empty
// non-nil slice retains none.
func ParseAllowList(names []string) AllowList {

	if names == nil {
		return nil
	}

	a := make(AllowList, len(names))

	for _, n := range names {
		n = strings.TrimSpace(n)

		if n == "*" {
			return nil
		}

		if n != "" {
			a[n] = struct{}{}
		}
	}

	return a
}

// Allows reports if detections of the named class are retained
func (a AllowList) Allows(name string) bool {
	if a == nil {
		return true
	}

	_, ok := a[name]
	return ok
}

// DOTAv1Classes are the class names of models trained on the DOTA v1 aerial
// imagery dataset, ordered by class ID
var DOTAv1Classes = []string{
	"plane", "ship", "storage tank", "baseball diamond", "tennis court",
	"basketball court", "ground track field", "harbor", "bridge",
	"large vehicle", "small vehicle", "helicopter", "roundabout",
	"soccer ball field", "swimming pool",
}

// DefaultAllowList are the classes reported when no allow list is configured
var DefaultAllowList = []string{"plane", "ship", "storage tank", "helicopter"}

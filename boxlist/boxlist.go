package boxlist

import (
	"fmt"
)

// Ordering is the layout of the four coordinates in a box.  The two
// orderings are mutually inverse, converting twice returns the original
// coordinates exactly.
type Ordering int

const (
	// OrderingYXYX is ymin, xmin, ymax, xmax.  This is the ordering used
	// by the training harness for ground truth and predictions.
	OrderingYXYX Ordering = iota
	// OrderingXYXY is xmin, ymin, xmax, ymax.  This is the native
	// ordering of the underlying detector.
	OrderingXYXY
)

// String returns a readable description of the Ordering
func (o Ordering) String() string {
	switch o {
	case OrderingYXYX:
		return "YXYX"
	case OrderingXYXY:
		return "XYXY"
	default:
		return "UNKNOWN"
	}
}

// recognised field names
const (
	FieldLabels = "labels"
	FieldScores = "scores"
)

// BoxList is an ordered collection of axis-aligned boxes for one image,
// plus named per-box field arrays.  Every field array has the same length
// as the box count, which may be zero.
//
// A BoxList is an immutable value, every transformation returns a new
// instance and never modifies the receiver.
type BoxList struct {
	ordering Ordering
	boxes    [][4]float32
	fields   map[string][]float32
}

// New creates a BoxList holding the given boxes in the given coordinate
// ordering.  The boxes slice is copied.
func New(ordering Ordering, boxes [][4]float32) *BoxList {
	bl := &BoxList{
		ordering: ordering,
		boxes:    make([][4]float32, len(boxes)),
		fields:   make(map[string][]float32),
	}
	copy(bl.boxes, boxes)
	return bl
}

// WithField returns a new BoxList carrying the given field.  The values
// slice is copied.  An existing field of the same name is replaced.
func (bl *BoxList) WithField(name string, values []float32) (*BoxList, error) {

	if len(values) != len(bl.boxes) {
		return nil, fmt.Errorf("field %q has %d values for %d boxes",
			name, len(values), len(bl.boxes))
	}

	nbl := bl.clone()
	nbl.fields[name] = append([]float32(nil), values...)

	return nbl, nil
}

// Len returns the number of boxes
func (bl *BoxList) Len() int {
	return len(bl.boxes)
}

// Ordering returns the coordinate ordering the boxes are held in
func (bl *BoxList) Ordering() Ordering {
	return bl.ordering
}

// Boxes returns a copy of the box coordinates
func (bl *BoxList) Boxes() [][4]float32 {
	boxes := make([][4]float32, len(bl.boxes))
	copy(boxes, bl.boxes)
	return boxes
}

// Field returns a copy of the named field array, or false if the field
// is not attached
func (bl *BoxList) Field(name string) ([]float32, bool) {

	values, ok := bl.fields[name]

	if !ok {
		return nil, false
	}

	return append([]float32(nil), values...), true
}

// FieldNames returns the names of all attached fields
func (bl *BoxList) FieldNames() []string {
	names := make([]string, 0, len(bl.fields))
	for name := range bl.fields {
		names = append(names, name)
	}
	return names
}

// Convert returns a new BoxList with box coordinates in the requested
// ordering.  All fields carry over unchanged.  Converting to the ordering
// the list is already in returns the receiver.
func (bl *BoxList) Convert(ordering Ordering) *BoxList {

	if ordering == bl.ordering {
		return bl
	}

	nbl := bl.clone()
	nbl.ordering = ordering

	// YXYX <-> XYXY is a swap of each coordinate pair, the same operation
	// in both directions
	for i, b := range nbl.boxes {
		nbl.boxes[i] = [4]float32{b[1], b[0], b[3], b[2]}
	}

	return nbl
}

// ToXYXY converts to the detector's native ordering
func (bl *BoxList) ToXYXY() *BoxList {
	return bl.Convert(OrderingXYXY)
}

// ToYXYX converts to the harness ordering
func (bl *BoxList) ToYXYX() *BoxList {
	return bl.Convert(OrderingYXYX)
}

// FilterByMask returns a new BoxList keeping only the boxes whose mask
// entry is true.  Box order is preserved and every attached field is
// filtered by the same mask.
func (bl *BoxList) FilterByMask(mask []bool) (*BoxList, error) {

	if len(mask) != len(bl.boxes) {
		return nil, fmt.Errorf("mask has %d entries for %d boxes",
			len(mask), len(bl.boxes))
	}

	nbl := &BoxList{
		ordering: bl.ordering,
		boxes:    make([][4]float32, 0, len(bl.boxes)),
		fields:   make(map[string][]float32),
	}

	for name := range bl.fields {
		nbl.fields[name] = make([]float32, 0, len(bl.boxes))
	}

	for i, keep := range mask {
		if !keep {
			continue
		}
		nbl.boxes = append(nbl.boxes, bl.boxes[i])
		for name, values := range bl.fields {
			nbl.fields[name] = append(nbl.fields[name], values[i])
		}
	}

	return nbl, nil
}

// clone makes a deep copy of the BoxList
func (bl *BoxList) clone() *BoxList {

	nbl := &BoxList{
		ordering: bl.ordering,
		boxes:    make([][4]float32, len(bl.boxes)),
		fields:   make(map[string][]float32, len(bl.fields)),
	}
	copy(nbl.boxes, bl.boxes)

	for name, values := range bl.fields {
		nbl.fields[name] = append([]float32(nil), values...)
	}

	return nbl
}

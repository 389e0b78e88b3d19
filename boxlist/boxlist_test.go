package boxlist

import (
	"testing"
)

func TestConvertRoundTrip(t *testing.T) {

	boxes := [][4]float32{
		{10, 20, 110, 220},
		{0, 0, 5.5, 7.25},
		{3.125, 9, 64, 64},
	}

	bl := New(OrderingYXYX, boxes)
	rt := bl.ToXYXY().ToYXYX()

	if rt.Ordering() != OrderingYXYX {
		t.Fatalf("round trip ordering is %s, expected YXYX", rt.Ordering())
	}

	got := rt.Boxes()

	for i, b := range boxes {
		if got[i] != b {
			t.Errorf("box %d round trip got %v, expected %v", i, got[i], b)
		}
	}
}

func TestConvertSwapsPairs(t *testing.T) {

	bl := New(OrderingYXYX, [][4]float32{{1, 2, 3, 4}})
	xy := bl.ToXYXY()

	expected := [4]float32{2, 1, 4, 3}

	if got := xy.Boxes()[0]; got != expected {
		t.Errorf("converted box is %v, expected %v", got, expected)
	}

	// the original list is untouched
	if got := bl.Boxes()[0]; got != ([4]float32{1, 2, 3, 4}) {
		t.Errorf("source box mutated to %v", got)
	}
}

func TestWithFieldLengthMismatch(t *testing.T) {

	bl := New(OrderingYXYX, [][4]float32{{0, 0, 1, 1}, {1, 1, 2, 2}})

	if _, err := bl.WithField(FieldLabels, []float32{1}); err == nil {
		t.Error("expected error attaching field of wrong length")
	}
}

func TestFilterByMask(t *testing.T) {

	bl := New(OrderingYXYX, [][4]float32{
		{0, 0, 1, 1},
		{1, 1, 2, 2},
		{2, 2, 3, 3},
		{3, 3, 4, 4},
	})

	bl, err := bl.WithField(FieldLabels, []float32{0, 1, 0, 2})
	if err != nil {
		t.Fatalf("attach labels: %v", err)
	}

	bl, err = bl.WithField(FieldScores, []float32{0.9, 0.8, 0.7, 0.6})
	if err != nil {
		t.Fatalf("attach scores: %v", err)
	}

	kept, err := bl.FilterByMask([]bool{false, true, false, true})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}

	if kept.Len() != 2 {
		t.Fatalf("filtered list has %d boxes, expected 2", kept.Len())
	}

	labels, _ := kept.Field(FieldLabels)
	scores, _ := kept.Field(FieldScores)

	if labels[0] != 1 || labels[1] != 2 {
		t.Errorf("filtered labels are %v, expected [1 2]", labels)
	}

	if scores[0] != 0.8 || scores[1] != 0.6 {
		t.Errorf("filtered scores are %v, expected [0.8 0.6]", scores)
	}

	if got := kept.Boxes()[0]; got != ([4]float32{1, 1, 2, 2}) {
		t.Errorf("filtered box 0 is %v, expected the second source box", got)
	}

	// original list unchanged
	if bl.Len() != 4 {
		t.Errorf("source list length changed to %d", bl.Len())
	}
}

func TestFilterByMaskAllFalse(t *testing.T) {

	bl := New(OrderingXYXY, [][4]float32{{0, 0, 1, 1}})
	bl, _ = bl.WithField(FieldLabels, []float32{0})

	kept, err := bl.FilterByMask([]bool{false})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}

	if kept.Len() != 0 {
		t.Errorf("expected empty list, got %d boxes", kept.Len())
	}

	labels, ok := kept.Field(FieldLabels)
	if !ok || len(labels) != 0 {
		t.Errorf("expected empty labels field to survive the filter")
	}
}

func TestFilterByMaskBadLength(t *testing.T) {

	bl := New(OrderingXYXY, [][4]float32{{0, 0, 1, 1}})

	if _, err := bl.FilterByMask([]bool{true, false}); err == nil {
		t.Error("expected error for mask of wrong length")
	}
}

func TestZeroBoxes(t *testing.T) {

	bl := New(OrderingYXYX, nil)

	if bl.Len() != 0 {
		t.Fatalf("empty list has %d boxes", bl.Len())
	}

	bl, err := bl.WithField(FieldLabels, nil)
	if err != nil {
		t.Fatalf("attach empty field: %v", err)
	}

	if rt := bl.ToXYXY().ToYXYX(); rt.Len() != 0 {
		t.Errorf("conversion of empty list produced %d boxes", rt.Len())
	}
}

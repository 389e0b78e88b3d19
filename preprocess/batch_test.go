package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/chewxy/math32"
)

func solidImage(w, h int, c color.NRGBA) image.Image {

	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	return img
}

func TestBatchShape(t *testing.T) {

	b := NewBatcher(64)

	batch, err := b.Batch([]image.Image{
		solidImage(320, 240, color.NRGBA{R: 10, G: 20, B: 30, A: 255}),
		solidImage(100, 100, color.NRGBA{R: 40, G: 50, B: 60, A: 255}),
	})

	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	shape := batch.Shape()

	if len(shape) != 4 || shape[0] != 2 || shape[1] != 3 ||
		shape[2] != 64 || shape[3] != 64 {
		t.Errorf("batch shape %v, expected [2 3 64 64]", shape)
	}
}

func TestBatchNormalisation(t *testing.T) {

	b := NewBatcher(8)

	batch, err := b.Batch([]image.Image{
		solidImage(8, 8, color.NRGBA{R: 255, G: 0, B: 128, A: 255}),
	})

	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	values := batch.Data().([]float32)
	plane := 8 * 8

	expected := [3]float32{
		(1.0 - meanRGB[0]) / stdRGB[0],
		(0.0 - meanRGB[1]) / stdRGB[1],
		(128.0/255.0 - meanRGB[2]) / stdRGB[2],
	}

	for c := 0; c < 3; c++ {
		if got := values[c*plane]; math32.Abs(got-expected[c]) > 1e-2 {
			t.Errorf("channel %d value %f, expected about %f", c, got, expected[c])
		}
	}
}

func TestBatchWithoutNormalisation(t *testing.T) {

	b := NewBatcher(4)
	b.SetNormalize(false)

	batch, err := b.Batch([]image.Image{
		solidImage(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
	})

	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	for i, v := range batch.Data().([]float32) {
		if math32.Abs(v-1) > 1e-3 {
			t.Fatalf("value %d is %f, expected 1", i, v)
		}
	}
}

func TestBatchEmpty(t *testing.T) {

	b := NewBatcher(32)

	if _, err := b.Batch(nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

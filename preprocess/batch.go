package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

// per channel normalisation constants the reference backbones were
// trained with (RGB order)
var (
	meanRGB = [3]float32{0.485, 0.456, 0.406}
	stdRGB  = [3]float32{0.229, 0.224, 0.225}
)

// Batcher converts images to the NCHW float32 batches the detection
// adapter consumes.  Images are resized to a fixed square size and
// normalised per channel.
type Batcher struct {
	// size is the square output size in pixels
	size int
	// normalize applies the per channel mean/std normalisation
	normalize bool
}

// NewBatcher returns a Batcher producing size x size batches with
// normalisation enabled
func NewBatcher(size int) *Batcher {
	return &Batcher{
		size:      size,
		normalize: true,
	}
}

// SetNormalize toggles the per channel normalisation
func (b *Batcher) SetNormalize(enable bool) {
	b.normalize = enable
}

// Size returns the square output size in pixels
func (b *Batcher) Size() int {
	return b.size
}

// Batch resizes the given images and packs them into one NCHW float32
// tensor with 3 channels in RGB order
func (b *Batcher) Batch(imgs []image.Image) (*tensor.Dense, error) {

	if len(imgs) == 0 {
		return nil, fmt.Errorf("empty image batch")
	}

	n := len(imgs)
	plane := b.size * b.size

	values := make([]float32, n*3*plane)

	for i, img := range imgs {

		if img == nil {
			return nil, fmt.Errorf("image %d is nil", i)
		}

		resized := imaging.Resize(img, b.size, b.size, imaging.Lanczos)

		pix := resized.Pix
		stride := resized.Stride

		for y := 0; y < b.size; y++ {

			row := pix[y*stride:]

			for x := 0; x < b.size; x++ {

				for c := 0; c < 3; c++ {

					v := float32(row[x*4+c]) / 255.0

					if b.normalize {
						v = (v - meanRGB[c]) / stdRGB[c]
					}

					values[(i*3+c)*plane+y*b.size+x] = v
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(n, 3, b.size, b.size),
		tensor.WithBacking(values)), nil
}

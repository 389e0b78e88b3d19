package backbone

import (
	"math/rand"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// batch-norm epsilon, matches the value the reference weights were
// trained with
const bnEps = 1e-5

// newTensor allocates a zero filled float32 tensor of the given shape
func newTensor(dims ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(dims...))
}

// raw returns the flat float32 backing of a tensor
func raw(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

// conv2d performs a bias free 2D convolution of x (NCHW) with the weight
// tensor w (outC, inC, kh, kw) using the given stride and zero padding
func conv2d(x, w *tensor.Dense, stride, pad int) *tensor.Dense {

	xs := x.Shape()
	ws := w.Shape()

	n, inC, inH, inW := xs[0], xs[1], xs[2], xs[3]
	outC, kh, kw := ws[0], ws[2], ws[3]

	outH := (inH+2*pad-kh)/stride + 1
	outW := (inW+2*pad-kw)/stride + 1

	out := newTensor(n, outC, outH, outW)

	xd := raw(x)
	wd := raw(w)
	od := raw(out)

	for b := 0; b < n; b++ {
		for oc := 0; oc < outC; oc++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {

					var acc float32

					for ic := 0; ic < inC; ic++ {
						for ky := 0; ky < kh; ky++ {

							iy := oy*stride - pad + ky

							if iy < 0 || iy >= inH {
								continue
							}

							xRow := ((b*inC+ic)*inH + iy) * inW
							wRow := ((oc*inC+ic)*kh + ky) * kw

							for kx := 0; kx < kw; kx++ {

								ix := ox*stride - pad + kx

								if ix < 0 || ix >= inW {
									continue
								}

								acc += xd[xRow+ix] * wd[wRow+kx]
							}
						}
					}

					od[((b*outC+oc)*outH+oy)*outW+ox] = acc
				}
			}
		}
	}

	return out
}

// conv1x1 performs a bias free 1x1 convolution of x (NCHW) with the weight
// tensor w (outC, inC, 1, 1).  A 1x1 convolution is a channel mixing
// matrix product, so it is computed per batch entry as the
// (outC x inC) . (inC x HW) product.
func conv1x1(x, w *tensor.Dense) *tensor.Dense {

	xs := x.Shape()

	n, inC, h, wd := xs[0], xs[1], xs[2], xs[3]
	outC := w.Shape()[0]
	hw := h * wd

	out := newTensor(n, outC, h, wd)

	wm := mat.NewDense(outC, inC, toFloat64(raw(w)))

	xd := raw(x)
	od := raw(out)

	for b := 0; b < n; b++ {

		xm := mat.NewDense(inC, hw, toFloat64(xd[b*inC*hw:(b+1)*inC*hw]))

		var om mat.Dense
		om.Mul(wm, xm)

		dst := od[b*outC*hw : (b+1)*outC*hw]

		for i := range dst {
			dst[i] = float32(om.RawMatrix().Data[i])
		}
	}

	return out
}

func toFloat64(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

// frozenBatchNorm applies batch normalisation in place using fixed running
// statistics.  The statistics are never updated, fine tuning batches are
// too small for reliable batch estimates.
type frozenBatchNorm struct {
	weight *tensor.Dense // gamma, per channel
	bias   *tensor.Dense // beta, per channel
	mean   *tensor.Dense // running mean, per channel
	vari   *tensor.Dense // running variance, per channel
}

func newFrozenBatchNorm(channels int) *frozenBatchNorm {

	bn := &frozenBatchNorm{
		weight: newTensor(channels),
		bias:   newTensor(channels),
		mean:   newTensor(channels),
		vari:   newTensor(channels),
	}

	// identity transform until weights are loaded
	w := raw(bn.weight)
	v := raw(bn.vari)

	for i := 0; i < channels; i++ {
		w[i] = 1
		v[i] = 1
	}

	return bn
}

// forward applies the normalisation in place and returns x
func (bn *frozenBatchNorm) forward(x *tensor.Dense) *tensor.Dense {

	xs := x.Shape()
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	hw := h * w

	gamma := raw(bn.weight)
	beta := raw(bn.bias)
	mean := raw(bn.mean)
	vari := raw(bn.vari)

	xd := raw(x)

	for ch := 0; ch < c; ch++ {

		scale := gamma[ch] / math32.Sqrt(vari[ch]+bnEps)
		shift := beta[ch] - mean[ch]*scale

		for b := 0; b < n; b++ {
			plane := xd[(b*c+ch)*hw : (b*c+ch+1)*hw]
			for i := range plane {
				plane[i] = plane[i]*scale + shift
			}
		}
	}

	return x
}

// relu applies max(0, v) in place and returns x
func relu(x *tensor.Dense) *tensor.Dense {

	xd := raw(x)

	for i, v := range xd {
		if v < 0 {
			xd[i] = 0
		}
	}

	return x
}

// maxPool2d performs 2D max pooling over x (NCHW)
func maxPool2d(x *tensor.Dense, kernel, stride, pad int) *tensor.Dense {

	xs := x.Shape()
	n, c, inH, inW := xs[0], xs[1], xs[2], xs[3]

	outH := (inH+2*pad-kernel)/stride + 1
	outW := (inW+2*pad-kernel)/stride + 1

	out := newTensor(n, c, outH, outW)

	xd := raw(x)
	od := raw(out)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {

			plane := xd[(b*c+ch)*inH*inW : (b*c+ch+1)*inH*inW]

			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {

					best := math32.Inf(-1)

					for ky := 0; ky < kernel; ky++ {

						iy := oy*stride - pad + ky

						if iy < 0 || iy >= inH {
							continue
						}

						for kx := 0; kx < kernel; kx++ {

							ix := ox*stride - pad + kx

							if ix < 0 || ix >= inW {
								continue
							}

							if v := plane[iy*inW+ix]; v > best {
								best = v
							}
						}
					}

					od[((b*c+ch)*outH+oy)*outW+ox] = best
				}
			}
		}
	}

	return out
}

// addInPlace accumulates b into a, shapes must match
func addInPlace(a, b *tensor.Dense) *tensor.Dense {

	ad := raw(a)
	bd := raw(b)

	for i := range ad {
		ad[i] += bd[i]
	}

	return a
}

// upsampleTo resizes x (NCHW) to the given spatial size with nearest
// neighbour interpolation
func upsampleTo(x *tensor.Dense, outH, outW int) *tensor.Dense {

	xs := x.Shape()
	n, c, inH, inW := xs[0], xs[1], xs[2], xs[3]

	out := newTensor(n, c, outH, outW)

	xd := raw(x)
	od := raw(out)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {

			src := xd[(b*c+ch)*inH*inW : (b*c+ch+1)*inH*inW]
			dst := od[(b*c+ch)*outH*outW : (b*c+ch+1)*outH*outW]

			for oy := 0; oy < outH; oy++ {

				iy := oy * inH / outH

				for ox := 0; ox < outW; ox++ {
					dst[oy*outW+ox] = src[iy*inW+ox*inW/outW]
				}
			}
		}
	}

	return out
}

// heInit fills t with He initialised values for a convolution weight of
// shape (outC, inC, kh, kw)
func heInit(t *tensor.Dense, rng *rand.Rand) {

	ts := t.Shape()
	fanIn := ts[1] * ts[2] * ts[3]
	std := math32.Sqrt(2 / float32(fanIn))

	td := raw(t)

	for i := range td {
		td[i] = float32(rng.NormFloat64()) * std
	}
}

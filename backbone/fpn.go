package backbone

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// PyramidLevels is the number of feature maps emitted per image
const PyramidLevels = 4

// stageNames are the four sequential stages every recognised base
// architecture must expose, in pyramid level order
var stageNames = [PyramidLevels]string{"layer1", "layer2", "layer3", "layer4"}

// Pyramid wraps a base feature extractor and emits a feature pyramid of
// four maps at a uniform channel width and decreasing resolution.  Each
// stage output is projected to the output width with a lateral 1x1
// convolution, merged top down with nearest neighbour upsampling, then
// smoothed with a 3x3 convolution.
type Pyramid struct {
	base        FeatureExtractor
	inChannels  [PyramidLevels]int
	outChannels int
	laterals    [PyramidLevels]*tensor.Dense
	smooths     [PyramidLevels]*tensor.Dense
	params      []*Param
}

// newPyramid assembles the pyramid wrapper from the base network, the
// measured per stage channel counts and the target channel width
func newPyramid(base FeatureExtractor, inChannels [PyramidLevels]int,
	outChannels int) *Pyramid {

	rng := rand.New(rand.NewSource(2))

	p := &Pyramid{
		base:        base,
		inChannels:  inChannels,
		outChannels: outChannels,
	}

	for i := 0; i < PyramidLevels; i++ {

		p.laterals[i] = newTensor(outChannels, inChannels[i], 1, 1)
		heInit(p.laterals[i], rng)

		p.smooths[i] = newTensor(outChannels, outChannels, 3, 3)
		heInit(p.smooths[i], rng)
	}

	p.params = append(p.params, base.Params()...)

	for i := 0; i < PyramidLevels; i++ {
		p.params = append(p.params,
			&Param{
				Name:         fmt.Sprintf("fpn.inner_blocks.%d.weight", i),
				Data:         p.laterals[i],
				RequiresGrad: true,
			},
			&Param{
				Name:         fmt.Sprintf("fpn.layer_blocks.%d.weight", i),
				Data:         p.smooths[i],
				RequiresGrad: true,
			},
		)
	}

	return p
}

// OutChannels returns the uniform channel width of the pyramid maps
func (p *Pyramid) OutChannels() int {
	return p.outChannels
}

// InChannels returns the measured channel count of each base stage
func (p *Pyramid) InChannels() [PyramidLevels]int {
	return p.inChannels
}

// Params lists the parameters of the base network and the pyramid heads
func (p *Pyramid) Params() []*Param {
	return p.params
}

// Forward runs the base network over x (NCHW, 3 channels) and returns the
// four pyramid maps, finest resolution first
func (p *Pyramid) Forward(x *tensor.Dense) ([]*tensor.Dense, error) {

	stages, err := p.base.ForwardStages(x)
	if err != nil {
		return nil, err
	}

	// lateral projections, finest first
	var inner [PyramidLevels]*tensor.Dense

	for i, name := range stageNames {

		stage, ok := stages[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingStage, name)
		}

		inner[i] = conv1x1(stage, p.laterals[i])
	}

	// top down pathway, coarsest lateral seeds the merge
	for i := PyramidLevels - 2; i >= 0; i-- {
		shape := inner[i].Shape()
		up := upsampleTo(inner[i+1], shape[2], shape[3])
		inner[i] = addInPlace(inner[i], up)
	}

	levels := make([]*tensor.Dense, PyramidLevels)

	for i := 0; i < PyramidLevels; i++ {
		levels[i] = conv2d(inner[i], p.smooths[i], 1, 1)
	}

	return levels, nil
}

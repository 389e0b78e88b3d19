package backbone

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Param is one named weight tensor of a network.  RequiresGrad marks the
// parameter as trainable, frozen parameters are excluded from gradient
// updates by the training harness.
type Param struct {
	Name         string
	Data         *tensor.Dense
	RequiresGrad bool
}

// FeatureExtractor is a base network exposing named sequential stages.
// ForwardStages is the instrumentation side channel used for channel
// introspection at build time, it returns the output of every stage for
// one input batch.
type FeatureExtractor interface {
	// ForwardStages runs a forward pass over x (NCHW, 3 channels) and
	// returns the named stage outputs
	ForwardStages(x *tensor.Dense) (map[string]*tensor.Dense, error)

	// Params lists every parameter of the network with a stable name
	Params() []*Param
}

type blockKind int

const (
	basicBlock blockKind = iota
	bottleneckBlock
)

// archSpec describes one member of the residual network family
type archSpec struct {
	kind   blockKind
	counts [4]int
}

// the recognised base architectures, each exposing the four sequential
// stages layer1..layer4
var archRegistry = map[string]archSpec{
	"resnet18":  {basicBlock, [4]int{2, 2, 2, 2}},
	"resnet34":  {basicBlock, [4]int{3, 4, 6, 3}},
	"resnet50":  {bottleneckBlock, [4]int{3, 4, 6, 3}},
	"resnet101": {bottleneckBlock, [4]int{3, 4, 23, 3}},
	"resnet152": {bottleneckBlock, [4]int{3, 8, 36, 3}},
}

// Architectures returns the names of the recognised base architectures
func Architectures() []string {
	names := make([]string, 0, len(archRegistry))
	for name := range archRegistry {
		names = append(names, name)
	}
	return names
}

// residualBlock is one basic or bottleneck residual unit.  The convolution
// weights are stored in order, for a basic block conv1/conv2 and for a
// bottleneck conv1/conv2/conv3.
type residualBlock struct {
	kind   blockKind
	stride int
	convs  []*tensor.Dense
	bns    []*frozenBatchNorm
	downW  *tensor.Dense // optional 1x1 projection on the shortcut
	downBN *frozenBatchNorm
}

func (blk *residualBlock) forward(x *tensor.Dense) *tensor.Dense {

	identity := x

	var out *tensor.Dense

	switch blk.kind {
	case basicBlock:
		out = relu(blk.bns[0].forward(conv2d(x, blk.convs[0], blk.stride, 1)))
		out = blk.bns[1].forward(conv2d(out, blk.convs[1], 1, 1))
	case bottleneckBlock:
		out = relu(blk.bns[0].forward(conv1x1(x, blk.convs[0])))
		out = relu(blk.bns[1].forward(conv2d(out, blk.convs[1], blk.stride, 1)))
		out = blk.bns[2].forward(conv1x1(out, blk.convs[2]))
	}

	if blk.downW != nil {
		identity = blk.downBN.forward(
			conv2d(identity, blk.downW, blk.stride, 0))
	}

	return relu(addInPlace(out, identity))
}

// ResNet is a residual network feature extractor with a 7x7 stem followed
// by the four sequential stages layer1..layer4, each halving spatial
// resolution and increasing channel depth.  Batch normalisation uses
// frozen running statistics throughout.
type ResNet struct {
	arch   string
	conv1  *tensor.Dense
	bn1    *frozenBatchNorm
	stages [4][]*residualBlock
	params []*Param
}

// newResNet constructs the network with deterministic He initialised
// weights and identity batch-norm statistics
func newResNet(arch string, spec archSpec) *ResNet {

	rng := rand.New(rand.NewSource(1))

	net := &ResNet{arch: arch}

	net.conv1 = newTensor(64, 3, 7, 7)
	heInit(net.conv1, rng)
	net.bn1 = newFrozenBatchNorm(64)

	net.registerParam("conv1.weight", net.conv1)
	net.registerBN("bn1", net.bn1)

	expansion := 1
	if spec.kind == bottleneckBlock {
		expansion = 4
	}

	inC := 64

	for s := 0; s < 4; s++ {

		planes := 64 << s
		stride := 1
		if s > 0 {
			stride = 2
		}

		for b := 0; b < spec.counts[s]; b++ {

			blkStride := 1
			if b == 0 {
				blkStride = stride
			}

			blk := newResidualBlock(spec.kind, inC, planes, blkStride, rng)
			net.stages[s] = append(net.stages[s], blk)

			prefix := fmt.Sprintf("layer%d.%d", s+1, b)
			net.registerBlock(prefix, blk)

			inC = planes * expansion
		}
	}

	return net
}

func newResidualBlock(kind blockKind, inC, planes, stride int,
	rng *rand.Rand) *residualBlock {

	blk := &residualBlock{kind: kind, stride: stride}

	outC := planes

	switch kind {
	case basicBlock:
		blk.convs = []*tensor.Dense{
			newTensor(planes, inC, 3, 3),
			newTensor(planes, planes, 3, 3),
		}
		blk.bns = []*frozenBatchNorm{
			newFrozenBatchNorm(planes),
			newFrozenBatchNorm(planes),
		}
	case bottleneckBlock:
		outC = planes * 4
		blk.convs = []*tensor.Dense{
			newTensor(planes, inC, 1, 1),
			newTensor(planes, planes, 3, 3),
			newTensor(outC, planes, 1, 1),
		}
		blk.bns = []*frozenBatchNorm{
			newFrozenBatchNorm(planes),
			newFrozenBatchNorm(planes),
			newFrozenBatchNorm(outC),
		}
	}

	for _, w := range blk.convs {
		heInit(w, rng)
	}

	if stride != 1 || inC != outC {
		blk.downW = newTensor(outC, inC, 1, 1)
		heInit(blk.downW, rng)
		blk.downBN = newFrozenBatchNorm(outC)
	}

	return blk
}

func (r *ResNet) registerParam(name string, data *tensor.Dense) {
	r.params = append(r.params, &Param{
		Name:         name,
		Data:         data,
		RequiresGrad: true,
	})
}

func (r *ResNet) registerBN(prefix string, bn *frozenBatchNorm) {
	r.registerParam(prefix+".weight", bn.weight)
	r.registerParam(prefix+".bias", bn.bias)
	// running statistics are bookkeeping, never trainable
	r.params = append(r.params,
		&Param{Name: prefix + ".running_mean", Data: bn.mean},
		&Param{Name: prefix + ".running_var", Data: bn.vari},
	)
}

func (r *ResNet) registerBlock(prefix string, blk *residualBlock) {

	for i, w := range blk.convs {
		r.registerParam(fmt.Sprintf("%s.conv%d.weight", prefix, i+1), w)
		r.registerBN(fmt.Sprintf("%s.bn%d", prefix, i+1), blk.bns[i])
	}

	if blk.downW != nil {
		r.registerParam(prefix+".downsample.0.weight", blk.downW)
		r.registerBN(prefix+".downsample.1", blk.downBN)
	}
}

// Arch returns the architecture name the network was built from
func (r *ResNet) Arch() string {
	return r.arch
}

// Params lists every parameter with its stable name and trainability flag
func (r *ResNet) Params() []*Param {
	return r.params
}

// ForwardStages runs the stem and the four stages over x and returns each
// stage output keyed by stage name
func (r *ResNet) ForwardStages(x *tensor.Dense) (map[string]*tensor.Dense, error) {

	xs := x.Shape()

	if len(xs) != 4 || xs[1] != 3 {
		return nil, fmt.Errorf("input shape %v, expected NCHW with 3 channels", xs)
	}

	out := relu(r.bn1.forward(conv2d(x, r.conv1, 2, 3)))
	out = maxPool2d(out, 3, 2, 1)

	outputs := make(map[string]*tensor.Dense, 4)

	for s, blocks := range r.stages {
		for _, blk := range blocks {
			out = blk.forward(out)
		}
		outputs[fmt.Sprintf("layer%d", s+1)] = out
	}

	return outputs, nil
}

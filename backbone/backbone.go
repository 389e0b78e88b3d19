package backbone

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnknownArch is returned when the architecture name is not in
	// the recognised residual network family
	ErrUnknownArch = errors.New("unknown architecture")

	// ErrMissingStage is returned when the base network does not expose
	// one of the four expected stages
	ErrMissingStage = errors.New("missing stage")
)

const (
	// DefaultOutChannels is the uniform channel width of the pyramid
	DefaultOutChannels = 256

	// probeSize is the spatial size of the throwaway input used for
	// channel introspection
	probeSize = 128

	// frozenPrefix selects the parameters excluded from gradient
	// updates.  Early layers encode generic low level features that
	// transfer well, the stem and layer2..layer4 stay trainable.
	frozenPrefix = "layer1."
)

// Config carries the optional build settings
type Config struct {
	// OutChannels is the pyramid channel width, DefaultOutChannels
	// when zero
	OutChannels int
	// WeightsDir is the directory pretrained checkpoints are read
	// from, one <arch>.rvw file per architecture
	WeightsDir string
}

// Build constructs a feature pyramid backbone from the named base
// architecture.  With pretrained set the base weights are loaded from the
// default weights directory, otherwise the network starts from a
// deterministic random initialisation.
func Build(arch string, pretrained bool) (*Pyramid, error) {
	return BuildWithConfig(arch, pretrained, Config{})
}

// BuildWithConfig is Build with explicit settings
func BuildWithConfig(arch string, pretrained bool, cfg Config) (*Pyramid, error) {

	spec, ok := archRegistry[arch]

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownArch, arch)
	}

	if cfg.OutChannels == 0 {
		cfg.OutChannels = DefaultOutChannels
	}

	if cfg.WeightsDir == "" {
		cfg.WeightsDir = "weights"
	}

	net := newResNet(arch, spec)

	if pretrained {
		ckpt, err := LoadCheckpoint(
			filepath.Join(cfg.WeightsDir, arch+checkpointExt))
		if err != nil {
			return nil, fmt.Errorf("pretrained weights for %s: %w", arch, err)
		}
		if err := applyCheckpoint(net.Params(), ckpt); err != nil {
			return nil, fmt.Errorf("pretrained weights for %s: %w", arch, err)
		}
	}

	Freeze(net.Params(), frozenPrefix)

	inChannels, err := probeChannels(net)

	if err != nil {
		return nil, err
	}

	return newPyramid(net, inChannels, cfg.OutChannels), nil
}

// Freeze disables gradient computation for every parameter whose name is
// under the given prefix.  It is a pure filter and set over the named
// parameter list.
func Freeze(params []*Param, prefix string) {
	for _, p := range params {
		if strings.HasPrefix(p.Name, prefix) {
			p.RequiresGrad = false
		}
	}
}

// probeChannels measures the channel width emitted by each of the four
// stages with a single forward pass over a zero valued input.  Channel
// counts differ across architecture variants so they are discovered
// empirically rather than hard coded.
func probeChannels(net FeatureExtractor) ([PyramidLevels]int, error) {

	var inChannels [PyramidLevels]int

	probe := newTensor(1, 3, probeSize, probeSize)

	outputs, err := net.ForwardStages(probe)

	if err != nil {
		return inChannels, fmt.Errorf("channel introspection: %w", err)
	}

	for i, name := range stageNames {

		out, ok := outputs[name]

		if !ok {
			return inChannels, fmt.Errorf("%w: %q", ErrMissingStage, name)
		}

		c := out.Shape()[1]

		if c <= 0 {
			return inChannels, fmt.Errorf(
				"channel introspection: stage %q emitted %d channels", name, c)
		}

		inChannels[i] = c
	}

	return inChannels, nil
}

package rastervision

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/TheSustainabilityConsortium/raster-vision/backbone"
	"github.com/TheSustainabilityConsortium/raster-vision/boxlist"
)

const (
	// BackgroundLabel is the reserved class id for "no object".  A
	// synthetic full image box with this label is injected into every
	// training target, and boxes carrying it are stripped from
	// inference output.
	BackgroundLabel = 0

	// ScoreThreshold is the low confidence cutoff the underlying
	// detector applies to its raw output before it reaches the adapter.
	// Any further score based filtering is up to the caller.
	ScoreThreshold = 0.05
)

// Target is one image's ground truth in the detector's native layout,
// boxes in XYXY ordering with a parallel class id per box
type Target struct {
	Boxes  [][4]float32
	Labels []float32
}

// RawDetections is one image's raw detector output, boxes in XYXY
// ordering, already filtered to scores above ScoreThreshold
type RawDetections struct {
	Boxes  [][4]float32
	Labels []float32
	Scores []float32
}

// Losses are the loss components the detector computes for one training
// batch
type Losses struct {
	BoxReg     float64
	Classifier float64
	Objectness float64
	RPNBoxReg  float64
}

// Detector is the underlying region based detector.  Its internal
// algorithms (anchor generation, region proposals, ROI pooling) are
// opaque to the adapter, which only translates input and output formats
// around it.
type Detector interface {
	// TrainForward computes the detection losses for a batch of images
	// and their ground truth targets
	TrainForward(images *tensor.Dense, targets []Target) (Losses, error)

	// Infer returns the raw detections for each image in the batch
	Infer(images *tensor.Dense) ([]RawDetections, error)
}

// DetectorConfig carries the construction settings for a Detector
type DetectorConfig struct {
	// NumLabels is the number of classes including the background class
	NumLabels int
	// MinSize and MaxSize bound the internal rescale of input images
	MinSize int
	MaxSize int
}

// DetectorBuilder constructs a Detector over a feature pyramid backbone
type DetectorBuilder func(pyramid *backbone.Pyramid, cfg DetectorConfig) (Detector, error)

// Adapter wraps a region based detector and translates between the
// harness's BoxList representation and the detector's native contract.
// It owns the bogus box workaround for training images with no ground
// truth boxes, the coordinate ordering translation in both directions
// and loss aggregation.
type Adapter struct {
	det Detector
}

// NewAdapter builds the detector from the backbone and wraps it.  imgSz
// is the square input resize target of the detector's internal rescale.
func NewAdapter(pyramid *backbone.Pyramid, numLabels, imgSz int,
	build DetectorBuilder) (*Adapter, error) {

	det, err := build(pyramid, DetectorConfig{
		NumLabels: numLabels,
		MinSize:   imgSz,
		MaxSize:   imgSz,
	})

	if err != nil {
		return nil, fmt.Errorf("error building detector: %w", err)
	}

	return &Adapter{det: det}, nil
}

// WrapDetector wraps an already constructed detector
func WrapDetector(det Detector) *Adapter {
	return &Adapter{det: det}
}

// Forward runs one batch through the detector.  With targets present it
// runs in training mode and returns the loss record, with targets nil it
// runs in inference mode and returns one BoxList of predictions per
// image.  images is an NCHW float32 batch with 3 channels.
func (a *Adapter) Forward(images *tensor.Dense,
	targets []*boxlist.BoxList) (*LossDict, []*boxlist.BoxList, error) {

	if targets != nil {
		losses, err := a.TrainForward(images, targets)
		return losses, nil, err
	}

	preds, err := a.Predict(images)

	return nil, preds, err
}

// TrainForward computes the aggregated loss record for a batch of images
// and their ground truth.  Each target BoxList holds boxes in the harness
// YXYX ordering with a labels field.  Targets with zero boxes are valid,
// the injected background box guarantees the detector always sees at
// least one box per image.
func (a *Adapter) TrainForward(images *tensor.Dense,
	targets []*boxlist.BoxList) (*LossDict, error) {

	shape := images.Shape()

	if len(shape) != 4 {
		return nil, fmt.Errorf("image batch has %d dimensions, expected 4",
			len(shape))
	}

	if shape[0] != len(targets) {
		return nil, fmt.Errorf("batch of %d images with %d targets",
			shape[0], len(targets))
	}

	h := float32(shape[2])
	w := float32(shape[3])

	converted := make([]Target, len(targets))

	for i, bl := range targets {

		augmented, err := appendBackgroundBox(bl, h, w)

		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}

		xyxy := augmented.ToXYXY()
		labels, _ := xyxy.Field(boxlist.FieldLabels)

		converted[i] = Target{
			Boxes:  xyxy.Boxes(),
			Labels: labels,
		}
	}

	losses, err := a.det.TrainForward(images, converted)

	if err != nil {
		return nil, err
	}

	ld := &LossDict{
		LossBoxReg:     losses.BoxReg,
		LossClassifier: losses.Classifier,
		LossObjectness: losses.Objectness,
		LossRPNBoxReg:  losses.RPNBoxReg,
	}
	ld.TotalLoss = floats.Sum([]float64{
		ld.LossBoxReg, ld.LossClassifier, ld.LossObjectness, ld.LossRPNBoxReg,
	})

	return ld, nil
}

// Predict returns one BoxList of predictions per image, boxes in the
// harness YXYX ordering with labels and scores fields attached.
// Background boxes are artifacts of how the detector represents "no
// detection" and are removed, an all background image yields an empty
// BoxList.
func (a *Adapter) Predict(images *tensor.Dense) ([]*boxlist.BoxList, error) {

	outputs, err := a.det.Infer(images)

	if err != nil {
		return nil, err
	}

	preds := make([]*boxlist.BoxList, len(outputs))

	for i, out := range outputs {

		bl := boxlist.New(boxlist.OrderingXYXY, out.Boxes)

		bl, err = bl.WithField(boxlist.FieldLabels, out.Labels)

		if err != nil {
			return nil, fmt.Errorf("detections %d: %w", i, err)
		}

		bl, err = bl.WithField(boxlist.FieldScores, out.Scores)

		if err != nil {
			return nil, fmt.Errorf("detections %d: %w", i, err)
		}

		bl, err = removeBackground(bl.ToYXYX())

		if err != nil {
			return nil, fmt.Errorf("detections %d: %w", i, err)
		}

		preds[i] = bl
	}

	return preds, nil
}

// appendBackgroundBox returns a new BoxList with one synthetic background
// box spanning the full image extent appended.  The underlying detector
// cannot train on an image with zero ground truth boxes, the background
// class box satisfies it without ever surfacing as a real detection.
func appendBackgroundBox(bl *boxlist.BoxList, h, w float32) (*boxlist.BoxList, error) {

	if bl.Ordering() != boxlist.OrderingYXYX {
		return nil, fmt.Errorf("target boxes in %s ordering, expected YXYX",
			bl.Ordering())
	}

	labels, ok := bl.Field(boxlist.FieldLabels)

	if !ok {
		return nil, fmt.Errorf("target has no %q field", boxlist.FieldLabels)
	}

	boxes := append(bl.Boxes(), [4]float32{0, 0, h, w})
	labels = append(labels, BackgroundLabel)

	return boxlist.New(boxlist.OrderingYXYX, boxes).
		WithField(boxlist.FieldLabels, labels)
}

// removeBackground filters out every box labelled with the background
// class
func removeBackground(bl *boxlist.BoxList) (*boxlist.BoxList, error) {

	labels, ok := bl.Field(boxlist.FieldLabels)

	if !ok {
		return nil, fmt.Errorf("detections have no %q field", boxlist.FieldLabels)
	}

	mask := make([]bool, len(labels))

	for i, label := range labels {
		mask[i] = label != BackgroundLabel
	}

	return bl.FilterByMask(mask)
}

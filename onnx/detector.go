// Package onnx provides an inference only Detector backed by an ONNX
// runtime session.  It serves models exported with a fixed number of
// detection slots, padding entries carry a zero score and are dropped by
// the detector's confidence cutoff.
//
// The caller owns the process global runtime setup
// (ort.SetSharedLibraryPath and ort.InitializeEnvironment) before
// constructing a Detector.
package onnx

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	rastervision "github.com/TheSustainabilityConsortium/raster-vision"
)

// ErrNotTrainable is returned from the training path, an ONNX session
// only runs inference
var ErrNotTrainable = errors.New("onnx detector cannot train")

// Config carries the session construction settings
type Config struct {
	// ModelPath is the ONNX model file
	ModelPath string
	// InputSize is the square input size the model was exported with
	InputSize int
	// MaxDetections is the fixed detection slot count of the export,
	// 100 when zero
	MaxDetections int
	// tensor names of the export, defaulted to "images", "boxes",
	// "labels" and "scores" when empty
	InputName  string
	BoxesName  string
	LabelsName string
	ScoresName string
}

// Detector runs a detection model through an ONNX runtime session.  It
// implements the adapter's Detector contract for inference, the training
// path returns ErrNotTrainable.
type Detector struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	labels  *ort.Tensor[float32]
	scores  *ort.Tensor[float32]
	size    int
	maxDet  int
}

// NewDetector creates the session and its bound input and output tensors
func NewDetector(cfg Config) (*Detector, error) {

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("no model path given")
	}

	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("input size %d", cfg.InputSize)
	}

	if cfg.MaxDetections == 0 {
		cfg.MaxDetections = 100
	}

	if cfg.InputName == "" {
		cfg.InputName = "images"
	}
	if cfg.BoxesName == "" {
		cfg.BoxesName = "boxes"
	}
	if cfg.LabelsName == "" {
		cfg.LabelsName = "labels"
	}
	if cfg.ScoresName == "" {
		cfg.ScoresName = "scores"
	}

	options, err := ort.NewSessionOptions()

	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}

	defer options.Destroy()

	input, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)))

	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	boxes, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(cfg.MaxDetections), 4))

	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating boxes tensor: %w", err)
	}

	labels, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(cfg.MaxDetections)))

	if err != nil {
		input.Destroy()
		boxes.Destroy()
		return nil, fmt.Errorf("error creating labels tensor: %w", err)
	}

	scores, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(cfg.MaxDetections)))

	if err != nil {
		input.Destroy()
		boxes.Destroy()
		labels.Destroy()
		return nil, fmt.Errorf("error creating scores tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.BoxesName, cfg.LabelsName, cfg.ScoresName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{boxes, labels, scores},
		nil,
	)

	if err != nil {
		input.Destroy()
		boxes.Destroy()
		labels.Destroy()
		scores.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Detector{
		session: session,
		input:   input,
		boxes:   boxes,
		labels:  labels,
		scores:  scores,
		size:    cfg.InputSize,
		maxDet:  cfg.MaxDetections,
	}, nil
}

// Close frees the session and its tensors
func (d *Detector) Close() error {

	var first error

	for _, destroy := range []func() error{
		d.session.Destroy,
		d.input.Destroy,
		d.boxes.Destroy,
		d.labels.Destroy,
		d.scores.Destroy,
	} {
		if err := destroy(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

// TrainForward always fails, the session has no training path
func (d *Detector) TrainForward(images *tensor.Dense,
	targets []rastervision.Target) (rastervision.Losses, error) {

	return rastervision.Losses{}, ErrNotTrainable
}

// Infer runs the session once per image in the batch.  Slots below the
// confidence cutoff, including the export's zero padded slots, are
// dropped before the detections are returned.
func (d *Detector) Infer(images *tensor.Dense) ([]rastervision.RawDetections, error) {

	shape := images.Shape()

	if len(shape) != 4 || shape[1] != 3 ||
		shape[2] != d.size || shape[3] != d.size {
		return nil, fmt.Errorf("image batch shape %v, expected [n 3 %d %d]",
			shape, d.size, d.size)
	}

	n := shape[0]
	plane := 3 * d.size * d.size

	values := images.Data().([]float32)
	results := make([]rastervision.RawDetections, n)

	for i := 0; i < n; i++ {

		copy(d.input.GetData(), values[i*plane:(i+1)*plane])

		if err := d.session.Run(); err != nil {
			return nil, fmt.Errorf("inference on image %d: %w", i, err)
		}

		results[i] = d.collect()
	}

	return results, nil
}

// collect reads the bound output tensors into one image's detections
func (d *Detector) collect() rastervision.RawDetections {

	boxes := d.boxes.GetData()
	labels := d.labels.GetData()
	scores := d.scores.GetData()

	out := rastervision.RawDetections{}

	for s := 0; s < d.maxDet; s++ {

		if scores[s] <= rastervision.ScoreThreshold {
			continue
		}

		out.Boxes = append(out.Boxes, [4]float32{
			boxes[s*4], boxes[s*4+1], boxes[s*4+2], boxes[s*4+3],
		})
		out.Labels = append(out.Labels, labels[s])
		out.Scores = append(out.Scores, scores[s])
	}

	return out
}

package backbone

import (
	"bytes"
	"testing"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

func TestCheckpointRoundTrip(t *testing.T) {

	weights := map[string]*tensor.Dense{
		"conv1.weight": tensor.New(tensor.WithShape(2, 3, 1, 1),
			tensor.WithBacking([]float32{0.5, -1.25, 3, 0, 100, -0.0625})),
		"bn1.weight": tensor.New(tensor.WithShape(2),
			tensor.WithBacking([]float32{1, 2})),
	}

	var buf bytes.Buffer

	err := WriteCheckpoint(&buf, weights, []string{"conv1.weight", "bn1.weight"})

	if err != nil {
		t.Fatalf("write: %v", err)
	}

	ckpt, err := ReadCheckpoint(&buf)

	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for name, want := range weights {

		got, ok := ckpt[name]

		if !ok {
			t.Fatalf("checkpoint is missing %q", name)
		}

		if !got.Shape().Eq(want.Shape()) {
			t.Errorf("%s shape %v, expected %v", name, got.Shape(), want.Shape())
		}

		gd := raw(got)

		for i, w := range raw(want) {
			// float16 storage loses precision for large magnitudes
			if math32.Abs(gd[i]-w) > math32.Abs(w)*1e-3 {
				t.Errorf("%s[%d] = %f, expected %f", name, i, gd[i], w)
			}
		}
	}
}

func TestReadCheckpointBadMagic(t *testing.T) {

	buf := bytes.NewBufferString("XXXX garbage")

	if _, err := ReadCheckpoint(buf); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestApplyCheckpoint(t *testing.T) {

	param := &Param{
		Name: "bn1.weight",
		Data: newTensor(3),
	}

	ckpt := map[string]*tensor.Dense{
		"bn1.weight": tensor.New(tensor.WithShape(3),
			tensor.WithBacking([]float32{4, 5, 6})),
		"unused.weight": tensor.New(tensor.WithShape(1),
			tensor.WithBacking([]float32{9})),
	}

	if err := applyCheckpoint([]*Param{param}, ckpt); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if d := raw(param.Data); d[0] != 4 || d[1] != 5 || d[2] != 6 {
		t.Errorf("applied values %v, expected [4 5 6]", d)
	}
}

func TestApplyCheckpointMissingParam(t *testing.T) {

	param := &Param{Name: "conv1.weight", Data: newTensor(1, 1, 1, 1)}

	err := applyCheckpoint([]*Param{param}, map[string]*tensor.Dense{})

	if err == nil {
		t.Error("expected error for checkpoint missing a parameter")
	}
}

func TestApplyCheckpointShapeMismatch(t *testing.T) {

	param := &Param{Name: "conv1.weight", Data: newTensor(2, 2)}

	ckpt := map[string]*tensor.Dense{
		"conv1.weight": newTensor(2, 3),
	}

	if err := applyCheckpoint([]*Param{param}, ckpt); err == nil {
		t.Error("expected error for shape mismatch")
	}
}

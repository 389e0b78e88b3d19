package backbone

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

// checkpoint file extension
const checkpointExt = ".rvw"

// checkpoint file magic
var checkpointMagic = [4]byte{'R', 'V', 'W', '1'}

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// LoadCheckpoint reads a weight checkpoint file.  The format is the magic
// "RVW1", a uint32 tensor count, then per tensor a uint16 name length and
// name, a uint8 dimension count, the dimensions as uint32, and the values
// as packed float16.  All integers are little endian.
func LoadCheckpoint(file string) (map[string]*tensor.Dense, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint: %w", err)
	}

	defer f.Close()

	return ReadCheckpoint(bufio.NewReader(f))
}

// ReadCheckpoint reads a weight checkpoint from r
func ReadCheckpoint(r io.Reader) (map[string]*tensor.Dense, error) {

	var magic [4]byte

	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("error reading checkpoint magic: %w", err)
	}

	if magic != checkpointMagic {
		return nil, fmt.Errorf("bad checkpoint magic %q", magic[:])
	}

	var count uint32

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("error reading tensor count: %w", err)
	}

	ckpt := make(map[string]*tensor.Dense, count)

	for i := uint32(0); i < count; i++ {

		name, t, err := readTensor(r)

		if err != nil {
			return nil, fmt.Errorf("error reading tensor %d: %w", i, err)
		}

		ckpt[name] = t
	}

	return ckpt, nil
}

func readTensor(r io.Reader) (string, *tensor.Dense, error) {

	var nameLen uint16

	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return "", nil, err
	}

	nameBytes := make([]byte, nameLen)

	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return "", nil, err
	}

	var nDims uint8

	if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
		return "", nil, err
	}

	if nDims == 0 {
		return "", nil, fmt.Errorf("tensor %q has no dimensions", nameBytes)
	}

	dims := make([]int, nDims)
	size := 1

	for d := range dims {

		var v uint32

		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return "", nil, err
		}

		dims[d] = int(v)
		size *= int(v)
	}

	packed := make([]uint16, size)

	if err := binary.Read(r, binary.LittleEndian, packed); err != nil {
		return "", nil, err
	}

	values := make([]float32, size)

	for i, bits := range packed {
		values[i] = f16LookupTable[bits]
	}

	t := tensor.New(tensor.WithShape(dims...), tensor.WithBacking(values))

	return string(nameBytes), t, nil
}

// WriteCheckpoint writes the named tensors to w in checkpoint format.
// Values are stored as float16, halving the file size at a precision
// adequate for network weights.
func WriteCheckpoint(w io.Writer, tensors map[string]*tensor.Dense,
	order []string) error {

	if _, err := w.Write(checkpointMagic[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian,
		uint32(len(order))); err != nil {
		return err
	}

	for _, name := range order {

		t, ok := tensors[name]

		if !ok {
			return fmt.Errorf("tensor %q not supplied", name)
		}

		if err := writeTensor(w, name, t); err != nil {
			return fmt.Errorf("error writing tensor %q: %w", name, err)
		}
	}

	return nil
}

func writeTensor(w io.Writer, name string, t *tensor.Dense) error {

	if err := binary.Write(w, binary.LittleEndian,
		uint16(len(name))); err != nil {
		return err
	}

	if _, err := io.WriteString(w, name); err != nil {
		return err
	}

	dims := t.Shape()

	if err := binary.Write(w, binary.LittleEndian,
		uint8(len(dims))); err != nil {
		return err
	}

	for _, d := range dims {
		if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}

	values := raw(t)
	packed := make([]uint16, len(values))

	for i, v := range values {
		packed[i] = float16.Fromfloat32(v).Bits()
	}

	return binary.Write(w, binary.LittleEndian, packed)
}

// applyCheckpoint copies checkpoint tensors into the matching parameters.
// Every parameter must be present in the checkpoint with an identical
// shape, extra checkpoint entries are ignored.
func applyCheckpoint(params []*Param, ckpt map[string]*tensor.Dense) error {

	for _, p := range params {

		src, ok := ckpt[p.Name]

		if !ok {
			return fmt.Errorf("checkpoint is missing %q", p.Name)
		}

		if !src.Shape().Eq(p.Data.Shape()) {
			return fmt.Errorf("checkpoint tensor %q has shape %v, expected %v",
				p.Name, src.Shape(), p.Data.Shape())
		}

		copy(raw(p.Data), raw(src))
	}

	return nil
}

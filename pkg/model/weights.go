// Package model holds the framework-agnostic weight representation shared by
// the quality evaluator and the aggregator.
package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Tensor is a single flattened layer of a model. Shape/rank information is
// owned by the training contract; aggregation only ever needs the flat
// element list.
type Tensor []float32

// WeightSet is an ordered list of tensors, e.g. one per layer.
type WeightSet []Tensor

// magic identifies the little-endian tensor-list encoding written by
// SaveWeightSet and understood by LoadWeightSet. The wire format is not
// dictated by any external contract, only the invariants of the aggregation
// math and the sha256 of the final serialized file are fixed.
const magic = "FLW1"

// LoadWeightSet reads a weight set previously written by SaveWeightSet.
func LoadWeightSet(path string) (WeightSet, error) {
	f, err := os.Open(path) // #nosec G304 - path constructed from MODEL_DIR + validated round/participant IDs
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr) != magic {
		return nil, fmt.Errorf("not a weight file: bad magic")
	}

	var numTensors uint32
	if err := binary.Read(f, binary.LittleEndian, &numTensors); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}

	ws := make(WeightSet, numTensors)
	for i := range ws {
		var length uint32
		if err := binary.Read(f, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("read tensor %d length: %w", i, err)
		}
		t := make(Tensor, length)
		for j := range t {
			var bits uint32
			if err := binary.Read(f, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("read tensor %d element %d: %w", i, j, err)
			}
			t[j] = math.Float32frombits(bits)
		}
		ws[i] = t
	}
	return ws, nil
}

// SaveWeightSet writes ws to path in the format LoadWeightSet understands.
func SaveWeightSet(path string, ws WeightSet) error {
	f, err := os.Create(path) // #nosec G304 - path constructed from MODEL_DIR + validated round ID
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(ws))); err != nil {
		return err
	}
	for _, t := range ws {
		if err := binary.Write(f, binary.LittleEndian, uint32(len(t))); err != nil {
			return err
		}
		for _, v := range t {
			if err := binary.Write(f, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats computes the mean of per-tensor mean absolute magnitudes, and the
// variance of those per-tensor magnitudes, over all nonempty tensors.
func (ws WeightSet) Stats() (avgMagnitude, variance float64) {
	var magnitudes []float64
	for _, t := range ws {
		if len(t) == 0 {
			continue
		}
		var sum float64
		for _, v := range t {
			sum += math.Abs(float64(v))
		}
		magnitudes = append(magnitudes, sum/float64(len(t)))
	}
	if len(magnitudes) == 0 {
		return 0, 0
	}
	var mean float64
	for _, m := range magnitudes {
		mean += m
	}
	mean /= float64(len(magnitudes))

	var varSum float64
	for _, m := range magnitudes {
		d := m - mean
		varSum += d * d
	}
	return mean, varSum / float64(len(magnitudes))
}

// ScanNaNInf reports whether any tensor contains a NaN or an Inf element.
func (ws WeightSet) ScanNaNInf() (hasNaN, hasInf bool) {
	for _, t := range ws {
		for _, v := range t {
			if math.IsNaN(float64(v)) {
				hasNaN = true
			}
			if math.IsInf(float64(v), 0) {
				hasInf = true
			}
		}
	}
	return hasNaN, hasInf
}

// SameShape reports whether ws and other have the same number of tensors and
// the same per-tensor element counts, the precondition the aggregator
// enforces before element-wise averaging.
func (ws WeightSet) SameShape(other WeightSet) bool {
	if len(ws) != len(other) {
		return false
	}
	for i := range ws {
		if len(ws[i]) != len(other[i]) {
			return false
		}
	}
	return true
}

// WeightedAverage computes the element-wise weighted average of sets,
// normalizing weights so they sum to 1 (falling back to a uniform weight
// when the sum is zero or non-positive). All sets must share the first
// set's shape; a mismatch is an error since the trainer contract guarantees
// identical architectures.
func WeightedAverage(sets []WeightSet, weights []float64) (WeightSet, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("no weight sets to average")
	}
	if len(sets) != len(weights) {
		return nil, fmt.Errorf("%d weight sets but %d weights", len(sets), len(weights))
	}
	for i := 1; i < len(sets); i++ {
		if !sets[0].SameShape(sets[i]) {
			return nil, fmt.Errorf("weight set %d has a different shape than set 0", i)
		}
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	norm := make([]float64, len(weights))
	if total > 0 {
		for i, w := range weights {
			norm[i] = w / total
		}
	} else {
		uniform := 1.0 / float64(len(weights))
		for i := range norm {
			norm[i] = uniform
		}
	}

	out := make(WeightSet, len(sets[0]))
	for k := range out {
		out[k] = make(Tensor, len(sets[0][k]))
		for i, set := range sets {
			w := float32(norm[i])
			for e, v := range set[k] {
				out[k][e] += w * v
			}
		}
	}
	return out, nil
}

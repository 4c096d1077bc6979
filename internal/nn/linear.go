package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/classhead/internal/parallel"
	"github.com/born-ml/classhead/internal/tensor"
)

// State dict keys for Linear parameters.
const (
	WeightKey = "weight"
	BiasKey   = "bias"
)

// Linear implements the classifier head: a fully connected layer mapping a
// feature vector to one score per output row.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Row i of W and entry i of b together form output neuron i. A Linear with
// zero output rows is valid: it keeps its input dimension and produces empty
// score vectors.
//
// Linear values are not modified after construction except through
// LoadStateDict on a freshly built layer; surgery builds new layers instead.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *tensor.Tensor // [out_features, in_features]
	bias        *tensor.Tensor // [out_features]
}

// NewLinear creates a new Linear layer.
//
// Weights are initialized using Xavier/Glorot uniform distribution drawn
// from rng. Biases are initialized to zeros.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, rng),
		bias:        tensor.Zeros(tensor.Shape{outFeatures}),
	}
}

// NewLinearFrom wraps existing weight [N, D] and bias [N] tensors. Both are
// copied.
func NewLinearFrom(weight, bias *tensor.Tensor) (*Linear, error) {
	ws := weight.Shape()
	if len(ws) != 2 {
		return nil, fmt.Errorf("weight must be 2D [out, in], got shape %v", ws)
	}
	if !bias.Shape().Equal(tensor.Shape{ws[0]}) {
		return nil, fmt.Errorf("bias shape mismatch: expected %v, got %v", tensor.Shape{ws[0]}, bias.Shape())
	}
	return &Linear{
		inFeatures:  ws[1],
		outFeatures: ws[0],
		weight:      weight.Clone(),
		bias:        bias.Clone(),
	}, nil
}

// Forward computes the output of the linear layer.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return l.ForwardWith(input, parallel.DefaultConfig())
}

// ForwardWith is Forward with explicit control over how batch rows are
// spread across goroutines. Results do not depend on cfg.
func (l *Linear) ForwardWith(input *tensor.Tensor, cfg parallel.Config) (*tensor.Tensor, error) {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		return nil, fmt.Errorf("linear forward: expected 2D input [batch, features], got shape %v", inputShape)
	}
	if inputShape[1] != l.inFeatures {
		return nil, fmt.Errorf("linear forward: expected input with %d features, got %d", l.inFeatures, inputShape[1])
	}

	batch := inputShape[0]
	out := tensor.Zeros(tensor.Shape{batch, l.outFeatures})

	x := input.Data()
	w := l.weight.Data()
	b := l.bias.Data()
	y := out.Data()
	parallel.Rows(batch, cfg, func(r parallel.Range) {
		for n := r.Lo; n < r.Hi; n++ {
			xRow := x[n*l.inFeatures : (n+1)*l.inFeatures]
			for o := 0; o < l.outFeatures; o++ {
				wRow := w[o*l.inFeatures : (o+1)*l.inFeatures]
				sum := b[o]
				for k, v := range xRow {
					sum += v * wRow[k]
				}
				y[n*l.outFeatures+o] = sum
			}
		}
	})
	return out, nil
}

// Weight returns the weight tensor [out_features, in_features]. Callers must
// not modify it.
func (l *Linear) Weight() *tensor.Tensor {
	return l.weight
}

// Bias returns the bias tensor [out_features]. Callers must not modify it.
func (l *Linear) Bias() *tensor.Tensor {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output rows.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// Neuron returns copies of weight row i and bias entry i.
func (l *Linear) Neuron(i int) ([]float32, float32) {
	return l.weight.Row(i), l.bias.Data()[i]
}

// Clone returns a deep copy.
func (l *Linear) Clone() *Linear {
	return &Linear{
		inFeatures:  l.inFeatures,
		outFeatures: l.outFeatures,
		weight:      l.weight.Clone(),
		bias:        l.bias.Clone(),
	}
}

// Equal reports whether both layers hold bit-identical parameters.
func (l *Linear) Equal(other *Linear) bool {
	return l.weight.Equal(other.weight) && l.bias.Equal(other.bias)
}

// StateDict returns a map of parameter names to copies of the tensors.
func (l *Linear) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		WeightKey: l.weight.Clone(),
		BiasKey:   l.bias.Clone(),
	}
}

// LoadStateDict loads parameters from a state dictionary.
//
// Shapes must match the layer exactly.
func (l *Linear) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	weight, ok := stateDict[WeightKey]
	if !ok {
		return fmt.Errorf("missing weight in state dict")
	}
	expectedWeightShape := tensor.Shape{l.outFeatures, l.inFeatures}
	if !weight.Shape().Equal(expectedWeightShape) {
		return fmt.Errorf("weight shape mismatch: expected %v, got %v",
			expectedWeightShape, weight.Shape())
	}

	bias, ok := stateDict[BiasKey]
	if !ok {
		return fmt.Errorf("missing bias in state dict")
	}
	expectedBiasShape := tensor.Shape{l.outFeatures}
	if !bias.Shape().Equal(expectedBiasShape) {
		return fmt.Errorf("bias shape mismatch: expected %v, got %v",
			expectedBiasShape, bias.Shape())
	}

	l.weight = weight.Clone()
	l.bias = bias.Clone()
	return nil
}

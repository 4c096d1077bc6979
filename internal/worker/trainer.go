package worker

import (
	"context"
	"math"

	"github.com/born-ml/classhead/internal/model"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Batch is one round of training data for a head.
type Batch struct {
	Features        *tensor.Tensor // [B, D]
	Targets         []int          // class index per row of Features
	AnchorsPerClass int
}

// TrainStats summarises a training round on its own batch.
type TrainStats struct {
	Samples    int     `json:"samples"`
	Classes    int     `json:"classes"`
	LossBefore float64 `json:"loss_before"`
	LossAfter  float64 `json:"loss_after"`
	Accuracy   float64 `json:"accuracy"`
}

// Trainer updates a head from a batch of labelled feature vectors. It must
// return a new head and leave the given one untouched.
type Trainer interface {
	Train(ctx context.Context, head *nn.Linear, batch Batch) (*nn.Linear, TrainStats, error)
}

// ImprintTrainer moves each trained class's rows toward the mean of that
// class's L2-normalised feature vectors:
//
//	w ← (1−rate)·w + rate·mean(x/‖x‖)
//
// Biases and rows of classes absent from the batch are unchanged.
type ImprintTrainer struct {
	Rate float32
}

// NewImprintTrainer returns an ImprintTrainer with the given blend rate.
func NewImprintTrainer(rate float32) *ImprintTrainer {
	return &ImprintTrainer{Rate: rate}
}

// Train implements Trainer.
func (t *ImprintTrainer) Train(ctx context.Context, head *nn.Linear, batch Batch) (*nn.Linear, TrainStats, error) {
	anchors := max(batch.AnchorsPerClass, 1)
	dim := head.InFeatures()
	numClasses := head.OutFeatures() / anchors

	samples := len(batch.Targets)
	if samples == 0 {
		return head.Clone(), TrainStats{}, nil
	}
	if s := batch.Features.Shape(); len(s) != 2 || s[0] != samples || s[1] != dim {
		return nil, TrainStats{}, errors.Errorf("imprint: features %v do not match %d targets of dimension %d", s, samples, dim)
	}

	sums := make(map[int][]float64)
	counts := make(map[int]int)
	for i, c := range batch.Targets {
		if c < 0 || c >= numClasses {
			return nil, TrainStats{}, errors.Errorf("imprint: target %d out of range [0, %d)", c, numClasses)
		}
		if err := ctx.Err(); err != nil {
			return nil, TrainStats{}, err
		}
		x := batch.Features.Row(i)
		norm := l2(x)
		if norm == 0 {
			norm = 1
		}
		if sums[c] == nil {
			sums[c] = make([]float64, dim)
		}
		for k, v := range x {
			sums[c][k] += float64(v) / norm
		}
		counts[c]++
	}

	weight := head.Weight().Clone()
	w := weight.Data()
	rate := float64(t.Rate)
	for c, sum := range sums {
		n := float64(counts[c])
		for a := 0; a < anchors; a++ {
			row := w[(c*anchors+a)*dim : (c*anchors+a+1)*dim]
			for k := range row {
				row[k] = float32((1-rate)*float64(row[k]) + rate*sum[k]/n)
			}
		}
	}

	updated, err := nn.NewLinearFrom(weight, head.Bias())
	if err != nil {
		return nil, TrainStats{}, err
	}

	before, _, err := evaluate(head, batch, anchors)
	if err != nil {
		return nil, TrainStats{}, err
	}
	after, accuracy, err := evaluate(updated, batch, anchors)
	if err != nil {
		return nil, TrainStats{}, err
	}

	return updated, TrainStats{
		Samples:    samples,
		Classes:    len(sums),
		LossBefore: before,
		LossAfter:  after,
		Accuracy:   accuracy,
	}, nil
}

// evaluate returns the mean cross-entropy loss and the accuracy of head on
// batch.
func evaluate(head *nn.Linear, batch Batch, anchors int) (float64, float64, error) {
	logits, err := head.Forward(batch.Features)
	if err != nil {
		return 0, 0, err
	}

	losses := make(stats.Float64Data, len(batch.Targets))
	hits := make(stats.Float64Data, len(batch.Targets))
	for i, target := range batch.Targets {
		scores := model.ClassScores(logits.Row(i), anchors)
		p := float64(nn.Softmax(scores)[target])
		losses[i] = -math.Log(math.Max(p, 1e-12))
		if nn.Argmax(scores) == target {
			hits[i] = 1
		}
	}

	loss, err := stats.Mean(losses)
	if err != nil {
		return 0, 0, errors.Wrap(err, "mean loss")
	}
	accuracy, err := stats.Mean(hits)
	if err != nil {
		return 0, 0, errors.Wrap(err, "accuracy")
	}
	return loss, accuracy, nil
}

func l2(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Package worker runs the three operations a task dispatcher sends to a
// classifier node: training on a shard of labelled items, averaging the
// checkpoints those runs produce, and inference.
//
// Checkpoints live in a store.Store. The consensus model is kept under
// CurrentKey; every training run writes a new checkpoint below
// PendingPrefix, and averaging folds the pending checkpoints into a new
// current one.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/born-ml/classhead/internal/aggregate"
	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/checkpoint"
	"github.com/born-ml/classhead/internal/config"
	"github.com/born-ml/classhead/internal/featcache"
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/model"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/born-ml/classhead/internal/store"
	"github.com/born-ml/classhead/internal/surgery"
	"github.com/born-ml/classhead/internal/tensor"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store layout.
const (
	CurrentKey    = "current"
	PendingPrefix = "pending/"
)

// Errors returned by the worker.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNoModel          = errors.New("no model has been trained yet")
	ErrNothingToAverage = errors.New("no pending checkpoints to average")
)

// LabeledItem is one training example.
type LabeledItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Subset selects the share of a request's items this worker trains on:
// item i belongs to the worker when i % Count == Index. A zero Count
// selects every item.
type Subset struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Contains reports whether item position i belongs to the subset.
func (s Subset) Contains(i int) bool {
	return s.Count <= 1 || i%s.Count == s.Index
}

func (s Subset) validate() error {
	if s.Count < 0 || s.Index < 0 || (s.Count > 0 && s.Index >= s.Count) {
		return errors.Wrapf(ErrInvalidRequest, "subset %d of %d", s.Index, s.Count)
	}
	return nil
}

// TrainRequest asks for one training run.
type TrainRequest struct {
	Items []LabeledItem `json:"items"`
	// Classes is the project's current label class set. The model is
	// reconciled against it before training. Empty leaves the classes as
	// they are.
	Classes []string `json:"classes"`
	Subset  Subset   `json:"subset"`
}

// TrainResult describes a finished training run.
type TrainResult struct {
	CheckpointKey string         `json:"checkpoint_key"`
	Report        surgery.Report `json:"report"`
	Stats         TrainStats     `json:"stats"`
	Skipped       int            `json:"skipped"`
}

// AverageResult describes a finished averaging run.
type AverageResult struct {
	CheckpointKey string `json:"checkpoint_key"`
	Count         int    `json:"count"`
}

// Prediction is the inference result for one item.
type Prediction struct {
	ItemID     string    `json:"item_id"`
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Logits     []float32 `json:"logits"`
}

// Deps are the collaborators of a Worker. Store and Items are required.
type Deps struct {
	Store    store.Store
	Items    ItemSource
	Registry *backbone.Registry // defaults to backbone.NewRegistry()
	Trainer  Trainer            // defaults to an ImprintTrainer
	Cache    *featcache.Cache   // defaults to one sized by the config
	Logger   *zap.Logger        // defaults to a no-op logger
	Now      func() time.Time   // defaults to time.Now
}

// Worker serves train, average and infer requests against one store.
// Operations are serialised.
type Worker struct {
	cfg      config.Model
	store    store.Store
	items    ItemSource
	registry *backbone.Registry
	trainer  Trainer
	cache    *featcache.Cache
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	surgeon    *surgery.Surgeon
	rng        *rand.Rand
	extractors map[string]backbone.Extractor
}

// New creates a Worker. No I/O happens until the first operation.
func New(cfg config.Config, deps Deps) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("worker: a store is required")
	}
	if deps.Items == nil {
		return nil, errors.New("worker: an item source is required")
	}
	if deps.Registry == nil {
		deps.Registry = backbone.NewRegistry()
	}
	dim, err := deps.Registry.Dim(cfg.Model.FeatureExtractor)
	if err != nil {
		return nil, err
	}
	if deps.Trainer == nil {
		deps.Trainer = NewImprintTrainer(cfg.Model.ImprintRate)
	}
	if deps.Cache == nil {
		deps.Cache, err = featcache.New(cfg.Features.CacheSize, dim)
		if err != nil {
			return nil, err
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Worker{
		cfg:        cfg.Model,
		store:      deps.Store,
		items:      deps.Items,
		registry:   deps.Registry,
		trainer:    deps.Trainer,
		cache:      deps.Cache,
		logger:     deps.Logger,
		now:        deps.Now,
		surgeon:    surgery.New(cfg.Model.SurgeryOptions()),
		rng:        rand.New(rand.NewSource(cfg.Model.Seed)), //nolint:gosec // weight init
		extractors: make(map[string]backbone.Extractor),
	}, nil
}

// Train runs one training round: it loads the current model (or starts a
// new one from req.Classes), reconciles its classes with req.Classes,
// trains on the worker's subset of req.Items and stores the result as a
// pending checkpoint.
func (w *Worker) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if err := req.Subset.validate(); err != nil {
		return TrainResult{}, err
	}
	if err := labels.CheckUnique(req.Classes); err != nil {
		return TrainResult{}, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	m, err := w.loadOrCreate(ctx, req.Classes)
	if err != nil {
		return TrainResult{}, err
	}

	var report surgery.Report
	if len(req.Classes) > 0 {
		m.Labels, m.Head, report, err = w.surgeon.Reconcile(m.Labels, m.Head, req.Classes, w.cfg.Policy())
		if err != nil {
			return TrainResult{}, errors.Wrap(err, "reconcile label classes")
		}
		if report.Changed() {
			w.logger.Info("reconciled label classes",
				zap.Strings("added", report.Added),
				zap.Strings("removed", report.Removed),
				zap.Int("classes", m.Labels.Len()))
		}
	}

	var (
		ids     []string
		targets []int
		skipped int
	)
	for i, item := range req.Items {
		if !req.Subset.Contains(i) {
			continue
		}
		idx, ok := m.Labels.Index(item.Label)
		if !ok {
			skipped++
			continue
		}
		ids = append(ids, item.ID)
		targets = append(targets, idx)
	}
	if skipped > 0 {
		w.logger.Warn("skipped items with unknown labels", zap.Int("skipped", skipped))
	}

	features, err := w.features(ctx, m, ids)
	if err != nil {
		return TrainResult{}, err
	}

	head, trainStats, err := w.trainer.Train(ctx, m.Head, Batch{
		Features:        features,
		Targets:         targets,
		AnchorsPerClass: m.AnchorsPerClass,
	})
	if err != nil {
		return TrainResult{}, errors.Wrap(err, "train")
	}
	m.Head = head

	key := w.pendingKey()
	if err := w.put(ctx, key, m.Checkpoint(), map[string]string{
		"operation": "train",
		"samples":   fmt.Sprint(trainStats.Samples),
		"subset":    fmt.Sprintf("%d/%d", req.Subset.Index, req.Subset.Count),
	}); err != nil {
		return TrainResult{}, err
	}

	w.logger.Info("trained",
		zap.String("key", key),
		zap.Int("samples", trainStats.Samples),
		zap.Int("classes", trainStats.Classes),
		zap.Float64("loss_before", trainStats.LossBefore),
		zap.Float64("loss_after", trainStats.LossAfter),
		zap.Float64("accuracy", trainStats.Accuracy))

	return TrainResult{
		CheckpointKey: key,
		Report:        report,
		Stats:         trainStats,
		Skipped:       skipped,
	}, nil
}

// AverageModelStates averages every pending checkpoint, in key order, into
// a new current model and deletes the pending checkpoints it consumed.
func (w *Worker) AverageModelStates(ctx context.Context) (AverageResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys, err := w.store.List(ctx, PendingPrefix)
	if err != nil {
		return AverageResult{}, err
	}
	if len(keys) == 0 {
		return AverageResult{}, ErrNothingToAverage
	}

	avg, err := aggregate.AverageFiles(ctx, w.store, keys)
	if err != nil {
		return AverageResult{}, errors.Wrap(err, "average")
	}
	if err := w.put(ctx, CurrentKey, avg, map[string]string{
		"operation": "average",
		"count":     fmt.Sprint(len(keys)),
	}); err != nil {
		return AverageResult{}, err
	}

	for _, key := range keys {
		if err := w.store.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return AverageResult{}, err
		}
	}

	w.logger.Info("averaged checkpoints", zap.Int("count", len(keys)), zap.Int("classes", avg.NumClasses()))
	return AverageResult{CheckpointKey: CurrentKey, Count: len(keys)}, nil
}

// Infer predicts a label for each item with the current model.
func (w *Worker) Infer(ctx context.Context, itemIDs []string) ([]Prediction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ckpt, err := w.current(ctx)
	if err != nil {
		return nil, err
	}
	if ckpt == nil {
		return nil, ErrNoModel
	}
	m, err := model.FromCheckpoint(ckpt, w.registry, w.loadOptions(), false)
	if err != nil {
		return nil, err
	}

	features, err := w.features(ctx, m, itemIDs)
	if err != nil {
		return nil, err
	}
	preds, err := m.Predict(ctx, features, true)
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, len(preds))
	for i, p := range preds {
		out[i] = Prediction{
			ItemID:     itemIDs[i],
			Label:      p.Label,
			Confidence: p.Confidence,
			Logits:     p.Logits,
		}
	}
	w.logger.Debug("inferred", zap.Int("items", len(out)))
	return out, nil
}

func (w *Worker) loadOptions() checkpoint.LoadOptions {
	return checkpoint.LoadOptions{AnchorsPerClass: w.cfg.AnchorsPerClass, Rand: w.rng}
}

// current returns the current checkpoint, or nil if there is none.
func (w *Worker) current(ctx context.Context) (*checkpoint.Checkpoint, error) {
	data, err := w.store.Get(ctx, CurrentKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return checkpoint.Unmarshal(data)
}

func (w *Worker) loadOrCreate(ctx context.Context, classes []string) (*model.Model, error) {
	ckpt, err := w.current(ctx)
	if err != nil {
		return nil, err
	}
	if ckpt != nil {
		return model.FromCheckpoint(ckpt, w.registry, w.loadOptions(), false)
	}

	lm, err := labels.FromNames(classes)
	if err != nil {
		return nil, err
	}
	dim, err := w.registry.Dim(w.cfg.FeatureExtractor)
	if err != nil {
		return nil, err
	}
	w.logger.Info("starting new model",
		zap.String("feature_extractor", w.cfg.FeatureExtractor),
		zap.Int("classes", lm.Len()))
	return &model.Model{
		Labels:           lm,
		Head:             nn.NewLinear(dim, lm.Len()*w.cfg.AnchorsPerClass, w.rng),
		FeatureExtractor: w.cfg.FeatureExtractor,
		Pretrained:       w.cfg.Pretrained,
		AnchorsPerClass:  w.cfg.AnchorsPerClass,
	}, nil
}

// features returns [len(ids), D] feature vectors for m's head, taking
// cached vectors first and loading the rest from the item source.
func (w *Worker) features(ctx context.Context, m *model.Model, ids []string) (*tensor.Tensor, error) {
	dim := m.Head.InFeatures()
	cache := w.cache
	if cache.Dim() != dim {
		cache = nil
	}

	rows := make([][]float32, len(ids))
	var missing []int
	for i, id := range ids {
		if vec, ok := cache.Get(featureKey(m, id)); ok {
			rows[i] = vec
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		missingIDs := make([]string, len(missing))
		for j, i := range missing {
			missingIDs[j] = ids[i]
		}
		loaded, err := w.load(ctx, m, missingIDs)
		if err != nil {
			return nil, err
		}
		if loaded.Dim(1) != dim {
			return nil, errors.Errorf("items have %d features, head expects %d", loaded.Dim(1), dim)
		}
		for j, i := range missing {
			rows[i] = loaded.Row(j)
			if err := cache.Add(featureKey(m, ids[i]), rows[i]); err != nil {
				w.logger.Warn("feature cache rejected vector", zap.Error(err))
			}
		}
	}

	data := make([]float32, 0, len(ids)*dim)
	for _, row := range rows {
		data = append(data, row...)
	}
	return tensor.New(tensor.Shape{len(ids), dim}, data)
}

// load fetches items from the source and runs them through the feature
// extractor if needed. The result is [len(ids), D].
func (w *Worker) load(ctx context.Context, m *model.Model, ids []string) (*tensor.Tensor, error) {
	batch, err := w.items.Load(ctx, ids)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, errors.Wrap(ErrInvalidRequest, err.Error())
		}
		return nil, errors.Wrap(err, "load items")
	}

	if w.items.FeatureVectors() {
		return model.Flatten(batch)
	}
	extractor, err := w.extractor(m.FeatureExtractor, m.Pretrained)
	if err != nil {
		return nil, err
	}
	features, err := extractor.Extract(ctx, batch)
	if err != nil {
		return nil, errors.Wrap(err, "feature extraction failed")
	}
	return model.Flatten(features)
}

// featureKey identifies an item's feature vector. Vectors depend on both the
// extractor and its weights, so the pretrained flag is part of the key.
func featureKey(m *model.Model, itemID string) string {
	return extractorKey(m.FeatureExtractor, m.Pretrained) + "/" + itemID
}

func extractorKey(id string, pretrained bool) string {
	return fmt.Sprintf("%s/%t", id, pretrained)
}

func (w *Worker) extractor(id string, pretrained bool) (backbone.Extractor, error) {
	key := extractorKey(id, pretrained)
	if ext, ok := w.extractors[key]; ok {
		return ext, nil
	}
	ext, err := w.registry.New(id, pretrained)
	if err != nil {
		return nil, err
	}
	w.extractors[key] = ext
	return ext, nil
}

func (w *Worker) put(ctx context.Context, key string, ckpt *checkpoint.Checkpoint, meta map[string]string) error {
	data, err := checkpoint.Marshal(ckpt, checkpoint.EncodeOptions{
		Compress: w.cfg.Compress,
		Metadata: meta,
	})
	if err != nil {
		return err
	}
	return w.store.Put(ctx, key, data)
}

// pendingKey returns a key that sorts after every key issued earlier.
func (w *Worker) pendingKey() string {
	return PendingPrefix + w.now().UTC().Format("20060102T150405.000000000") + "-" + uuid.New().String()
}

// IsClientError reports whether err was caused by the request rather than
// by the worker or its collaborators.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var clientErrors = []error{
	ErrInvalidRequest,
	ErrNoModel,
	ErrNothingToAverage,
	labels.ErrDuplicateClass,
	labels.ErrUnknownClass,
	labels.ErrClassExists,
	labels.ErrNotContiguous,
	aggregate.ErrLabelMapMismatch,
	aggregate.ErrParameterSetMismatch,
	aggregate.ErrShapeMismatch,
	aggregate.ErrMetadataMismatch,
}

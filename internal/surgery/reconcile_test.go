package surgery

import (
	"testing"

	"github.com/born-ml/classhead/internal/labels"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_AddAndRemove(t *testing.T) {
	m := labels.MustFromNames("cat", "dog", "bird")
	head := headFrom(t, [][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}, []float32{0, 0, 0})

	s := New(Options{Seed: 8})
	m2, head2, rep, err := s.Reconcile(m, head, []string{"zebra", "bird", "cat", "ant"},
		Policy{AddMissing: true, RemoveObsolete: true})
	require.NoError(t, err)
	assertContiguous(t, m2, head2, 1)

	assert.Equal(t, []string{"dog"}, rep.Removed)
	assert.Equal(t, []string{"ant", "zebra"}, rep.Added)
	assert.True(t, rep.Changed())

	// Removal ran first, then additions were appended in sorted order.
	assert.Equal(t, []string{"cat", "bird", "ant", "zebra"}, m2.Names())
	w, _ := head2.Neuron(1)
	assert.Equal(t, []float32{0.5, 0.5}, w)
}

func TestReconcile_PolicyHalves(t *testing.T) {
	m := labels.MustFromNames("cat", "dog")
	head := headFrom(t, [][]float32{{1}, {2}}, []float32{0, 0})
	target := []string{"cat", "bird"}
	s := New(Options{})

	m2, _, rep, err := s.Reconcile(m, head, target, Policy{AddMissing: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "bird"}, m2.Names())
	assert.Empty(t, rep.Removed)

	m3, _, rep, err := s.Reconcile(m, head, target, Policy{RemoveObsolete: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat"}, m3.Names())
	assert.Empty(t, rep.Added)

	m4, head4, rep, err := s.Reconcile(m, head, target, Policy{})
	require.NoError(t, err)
	assert.Same(t, m, m4)
	assert.Same(t, head, head4)
	assert.False(t, rep.Changed())
}

func TestReconcile_DuplicateTarget(t *testing.T) {
	m := labels.MustFromNames("cat")
	head := headFrom(t, [][]float32{{1}}, []float32{0})

	_, _, _, err := New(Options{}).Reconcile(m, head, []string{"dog", "dog"},
		Policy{AddMissing: true, RemoveObsolete: true})
	assert.True(t, errors.Is(err, ErrDuplicateClass))
}

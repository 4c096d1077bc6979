package surgery

import (
	"github.com/born-ml/classhead/internal/labels"
	"github.com/born-ml/classhead/internal/nn"
	"github.com/pkg/errors"
)

// Policy selects which half of a reconciliation runs.
type Policy struct {
	AddMissing     bool // add neurons for target classes the map lacks
	RemoveObsolete bool // remove neurons for mapped classes the target lacks
}

// Report lists the classes a reconciliation added and removed.
type Report struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Changed reports whether the reconciliation touched the head.
func (r Report) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Reconcile brings the map and head in line with the target class set.
//
// Obsolete classes are removed first so that freshly added rows never need
// re-indexing; both sets are processed in sorted order.
func (s *Surgeon) Reconcile(m *labels.ClassMap, head *nn.Linear, target []string, p Policy) (*labels.ClassMap, *nn.Linear, Report, error) {
	var rep Report
	if err := labels.CheckUnique(target); err != nil {
		return nil, nil, rep, errors.Wrap(err, "reconcile")
	}

	missing, obsolete := m.Diff(target)

	var err error
	if p.RemoveObsolete && len(obsolete) > 0 {
		if m, head, err = s.RemoveNeurons(m, head, obsolete); err != nil {
			return nil, nil, rep, err
		}
		rep.Removed = obsolete
	}
	if p.AddMissing && len(missing) > 0 {
		if m, head, err = s.AddNeurons(m, head, missing); err != nil {
			return nil, nil, rep, err
		}
		rep.Added = missing
	}
	return m, head, rep, nil
}

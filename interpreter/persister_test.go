package interpreter

import (
	"context"

	"github.com/comalice/scxml-core/persistence"
)

// fakePersister captures the Active slice of whatever snapshot is saved,
// for tests that only care that Stop actually persists something.
type fakePersister struct {
	onSave func(active []string)
}

func (f fakePersister) Save(_ context.Context, snap persistence.Snapshot) error {
	if f.onSave != nil {
		f.onSave(snap.Active)
	}
	return nil
}

func (f fakePersister) Load(_ context.Context, _ string) (persistence.Snapshot, error) {
	return persistence.Snapshot{}, persistence.ErrNotFound
}

package field

import (
	"context"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// Hook runs at one stage of a Field's save lifecycle. Returning an error
// aborts the remaining pipeline.
type Hook func(ctx context.Context, f *types.Field) error

// hooks is the ordered pre_save → persist → post_save pipeline. persist is
// fixed (the Registry's own DB write); pre/post are registered once at
// Registry construction, not per call, to avoid callback-soup.
type hooks struct {
	preSave  []Hook
	postSave []Hook
}

func (h *hooks) runPreSave(ctx context.Context, f *types.Field) error {
	for _, hook := range h.preSave {
		if err := hook(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (h *hooks) runPostSave(ctx context.Context, f *types.Field) error {
	for _, hook := range h.postSave {
		if err := hook(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

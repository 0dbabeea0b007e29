package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/identity"
)

// MergeLines folds guest into target. Target lines keep their position and
// guest-only lines follow. On a shared product the quantities add up to at
// most MaxQty and the guest's pack size wins if the guest chose one.
func MergeLines(target, guest []Line) []Line {
	out := make([]Line, 0, len(target)+len(guest))
	index := make(map[string]int, len(target)+len(guest))

	put := func(l Line, fromGuest bool) {
		i, ok := index[l.ProductID]
		if !ok {
			index[l.ProductID] = len(out)
			l.Qty = ClampQty(l.Qty)
			out = append(out, l)
			return
		}
		cur := &out[i]
		cur.Qty = ClampQty(cur.Qty + l.Qty)
		if fromGuest && l.HasPackSize() {
			cur.PackSizeKg = l.PackSizeKg
		}
	}
	for _, l := range target {
		put(l, false)
	}
	for _, l := range guest {
		put(l, true)
	}
	return out
}

// Merger moves a guest cart into an authenticated identity's cart.
type Merger struct {
	storage Storage
}

// NewMerger creates a Merger over storage.
func NewMerger(storage Storage) *Merger {
	return &Merger{storage: storage}
}

// MergeResult is the outcome of Merger.Merge.
type MergeResult struct {
	Lines   []Line
	Changed bool
	// GuestRetained is set when the merged cart could not be saved and the
	// guest snapshot remains the only durable copy of the guest lines.
	GuestRetained bool
}

// Merge combines guest with the stored cart of target, saves the result
// under target's key and deletes the guest key. An empty guest cart is a
// no-op: nothing is read or written and Changed is false.
//
// A failure to read the target cart aborts the merge so a populated cart is
// never overwritten. A failure to save keeps the guest key in place.
func (m *Merger) Merge(ctx context.Context, guest []Line, target identity.Identity) (MergeResult, error) {
	if len(guest) == 0 || target.IsGuest() {
		return MergeResult{}, nil
	}

	targetKey := identity.CartKey(target)
	data, err := m.storage.Load(ctx, targetKey)
	if err != nil {
		return MergeResult{}, errors.Wrap(err, "load target cart")
	}
	existing, err := DecodeLines(data)
	if err != nil {
		zctx.From(ctx).Warn("Corrupt target cart, merging into empty",
			zap.String("key", targetKey),
			zap.Error(err),
		)
		existing = nil
	}

	res := MergeResult{Lines: MergeLines(existing, guest), Changed: true}

	lg := zctx.From(ctx).With(zap.String("identity", target.Key()))
	if err := m.storage.Save(ctx, targetKey, EncodeLines(res.Lines)); err != nil {
		lg.Warn("Merged cart write failed, keeping guest cart", zap.Error(err))
		res.GuestRetained = true
		return res, nil
	}
	if err := m.storage.Delete(ctx, identity.CartKey(identity.Guest())); err != nil {
		lg.Warn("Guest cart delete failed", zap.Error(err))
	}
	lg.Info("Guest cart merged", zap.Int("lines", len(res.Lines)))
	return res, nil
}

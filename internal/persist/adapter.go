package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/pkg/models"
)

// Adapter converts between the session collection and its durable slot.
// It is the only component that touches the slot.
type Adapter struct {
	slot   Slot
	logger *zap.Logger
}

// NewAdapter creates an adapter over slot. A nil logger disables logging.
func NewAdapter(slot Slot, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{slot: slot, logger: logger}
}

// Slot returns the underlying slot
func (a *Adapter) Slot() Slot {
	return a.slot
}

// Load reads the stored collection. A missing, unreadable or malformed slot
// yields an empty collection; the only error returned is ctx's.
func (a *Adapter) Load(ctx context.Context) (models.Collection, error) {
	blob, ok, err := a.slot.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Collection{}, ctxErr
		}
		a.logger.Warn("failed to read session slot, starting fresh",
			zap.String("slot", a.slot.Describe()),
			zap.Error(err))
		return models.Collection{}, nil
	}
	if !ok {
		a.logger.Debug("session slot is empty", zap.String("slot", a.slot.Describe()))
		return models.Collection{}, nil
	}

	c, err := Decode(blob)
	if err != nil {
		a.logger.Warn("discarding unreadable session snapshot",
			zap.String("slot", a.slot.Describe()),
			zap.Int("bytes", len(blob)),
			zap.Error(err))
		return models.Collection{}, nil
	}

	a.logger.Debug("session snapshot loaded",
		zap.String("slot", a.slot.Describe()),
		zap.Int("sessions", len(c.Sessions)))
	return c, nil
}

// Save writes the full collection. An empty collection is never written so
// valid stored state cannot be clobbered before startup finishes.
func (a *Adapter) Save(ctx context.Context, c models.Collection) error {
	if c.Empty() {
		a.logger.Debug("skipping save of empty collection")
		return nil
	}

	blob, err := Encode(c)
	if err != nil {
		return err
	}
	if err := a.slot.Write(ctx, blob); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	return nil
}

// SlotDebugInfo describes the raw state of the slot
type SlotDebugInfo struct {
	Slot        string
	Exists      bool
	Bytes       int
	Raw         string
	DecodeError error
	Collection  models.Collection
}

// Inspect reads the slot without the recovery Load applies, for diagnostics
func (a *Adapter) Inspect(ctx context.Context) (*SlotDebugInfo, error) {
	info := &SlotDebugInfo{Slot: a.slot.Describe()}

	blob, ok, err := a.slot.Read(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return info, nil
	}

	info.Exists = true
	info.Bytes = len(blob)
	info.Raw = blob
	info.Collection, info.DecodeError = Decode(blob)
	return info, nil
}

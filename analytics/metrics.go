package analytics

import (
	"fmt"
	"log/slog"

	"questline/core"
)

// BridgeHook fans progression events out to several hooks in order. A hook
// that panics is logged and skipped for that event; the remaining hooks
// still see it.
type BridgeHook struct {
	hooks []Hook
	log   *slog.Logger
}

// NewBridge builds a bridge over the non-nil hooks. A nil logger means slog.Default.
func NewBridge(log *slog.Logger, hooks ...Hook) *BridgeHook {
	if log == nil {
		log = slog.Default()
	}
	b := &BridgeHook{log: log}
	for _, h := range hooks {
		if h != nil {
			b.hooks = append(b.hooks, h)
		}
	}
	return b
}

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		b.deliver(h, e)
	}
}

func (b *BridgeHook) deliver(h Hook, e core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("analytics hook panicked",
				"hook", fmt.Sprintf("%T", h), "event", e.Type, "user", e.UserID, "panic", r)
		}
	}()
	h.OnEvent(e)
}

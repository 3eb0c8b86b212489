package engine

import (
	"context"
	"time"

	"lockstep-server/pkg/logger"
)

// Ticker - сторона сессии, которую крутит цикл (Server или Client).
type Ticker interface {
	Tick(now time.Time) error
}

// catchUp реализует сторона, которая может отставать от разрешенного кадра.
type catchUp interface {
	Behind() bool
}

// afterTick вызывается после каждого такта вне блокировки сессии.
type afterTick interface {
	AfterTick(ctx context.Context, now time.Time)
}

// Run крутит сессию с фиксированным шагом FrameRate до отмены ctx.
// Отставший клиент догоняет дополнительными тиками, не больше
// CatchupMaxTicks за такт. Ошибка Tick (нарушение порядка кадров) завершает цикл.
func Run(ctx context.Context, t Ticker, cfg Config) error {
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	log := logger.Component("loop")
	maxTicks := cfg.CatchupMaxTicks
	if maxTicks < 1 {
		maxTicks = 1
	}
	behind, _ := t.(catchUp)
	after, _ := t.(afterTick)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for i := 0; i < maxTicks; i++ {
				if err := t.Tick(now); err != nil {
					log.WithError(err).Error("session stopped")
					return err
				}
				if behind == nil || !behind.Behind() {
					break
				}
			}
			if after != nil {
				after.AfterTick(ctx, now)
			}
		}
	}
}

package surface

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/stream-session/internal/framestats"
)

// Metered wraps a surface and records every render in a Meter.
type Metered struct {
	inner engine.Surface
	meter *framestats.Meter
	now   func() time.Time
}

// NewMetered wraps inner. now defaults to time.Now.
func NewMetered(inner engine.Surface, meter *framestats.Meter, now func() time.Time) *Metered {
	if now == nil {
		now = time.Now
	}
	return &Metered{inner: inner, meter: meter, now: now}
}

// Unwrap returns the wrapped surface.
func (m *Metered) Unwrap() engine.Surface {
	return m.inner
}

func (m *Metered) ID() string {
	return m.inner.ID()
}

func (m *Metered) Render(frame engine.Frame) error {
	if err := m.inner.Render(frame); err != nil {
		m.meter.Dropped()
		return err
	}
	m.meter.Rendered(m.now())
	return nil
}

func (m *Metered) Bind() error {
	if b, ok := m.inner.(engine.Bindable); ok {
		return b.Bind()
	}
	return nil
}

func (m *Metered) Unbind() error {
	if b, ok := m.inner.(engine.Bindable); ok {
		return b.Unbind()
	}
	return nil
}

package report

import (
	"errors"

	"schoolgate/admission"
)

// Multi combines multiple Reporter implementations.
type Multi struct {
	reporters []Reporter
}

// NewMulti combines rs, in order.
func NewMulti(rs ...Reporter) *Multi {
	return &Multi{reporters: rs}
}

func (m *Multi) Connection(device string, connected bool) {
	for _, r := range m.reporters {
		r.Connection(device, connected)
	}
}

func (m *Multi) LinkError(device string, err error) {
	for _, r := range m.reporters {
		r.LinkError(device, err)
	}
}

func (m *Multi) Ack(token string) {
	for _, r := range m.reporters {
		r.Ack(token)
	}
}

func (m *Multi) Decision(d admission.Decision) {
	for _, r := range m.reporters {
		r.Decision(d)
	}
}

func (m *Multi) Shutdown() {
	for _, r := range m.reporters {
		r.Shutdown()
	}
}

// Release releases every reporter and joins their errors.
func (m *Multi) Release() error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

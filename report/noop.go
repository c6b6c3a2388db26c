package report

import "schoolgate/admission"

// Noop implements Reporter but does nothing.
// Used when no reporters are configured.
type Noop struct{}

func (Noop) Connection(string, bool) {}
func (Noop) LinkError(string, error) {}
func (Noop) Ack(string) {}
func (Noop) Decision(admission.Decision) {}
func (Noop) Shutdown() {}
func (Noop) Release() error { return nil }

package webrtc

import (
	"context"
)

// MediaDevices acquires local capture devices for a call. Acquire returns
// a release function for the granted tracks; a refusal surfaces as an
// error and is mapped to a media-access failure by the orchestrator.
type MediaDevices interface {
	Acquire(ctx context.Context, kind string) (release func(), err error)
}

// NoopDevices grants every request without touching hardware. Used when
// the agent runs headless and media is handled by the conference page.
type NoopDevices struct{}

// Acquire implements MediaDevices.
func (NoopDevices) Acquire(_ context.Context, _ string) (func(), error) {
	return func() {}, nil
}

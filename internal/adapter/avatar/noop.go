package avatar

import "context"

// NoopClient stands in when the avatar subsystem is disabled. Speak succeeds
// silently so dialogue turns complete; there is no readiness reporting, so
// the coordinator simply buffers forever, which is fine because nothing ever
// plays.
type NoopClient struct{}

func NewNoopClient() *NoopClient { return &NoopClient{} }

func (NoopClient) Speak(ctx context.Context, session, text, language string) error { return nil }
func (NoopClient) Interrupt(ctx context.Context, session string) error             { return nil }
func (NoopClient) Close() error                                                    { return nil }

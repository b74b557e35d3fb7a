package interpreter

import "context"

// Transition is one applied microstep's externally-observable summary,
// published after the configuration is committed.
type Transition struct {
	SessionID string
	EventName string
	Entered   []string
	Exited    []string
}

// Publisher receives a Transition for every applied microstep. A
// publisher must not block the driver loop; ChannelPublisher enforces
// that by dropping under backpressure.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}

// WithPublisher attaches a transition observer.
func WithPublisher(p Publisher) Option { return func(s *Session) { s.publisher = p } }

// ChannelPublisher forwards every Transition to ch, dropping it instead
// of blocking the driver loop if the channel is full or unread.
type ChannelPublisher struct {
	ch chan<- Transition
}

func NewChannelPublisher(ch chan<- Transition) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, t Transition) error {
	select {
	case p.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *Session) publish(ctx context.Context, t Transition) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, t)
}

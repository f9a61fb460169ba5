package domain

import (
	"context"

	"github.com/dorch-network/dorch/pkg/util"
)

// Publisher exports the domain description to whoever listens for it.
// Publish failures never fail a realisation; the notifier logs them and
// moves on.
type Publisher interface {
	PublishDomainDescription(ctx context.Context, payload []byte) error
}

// LogPublisher is the bundled stand-in used when no message bus is
// configured. It only logs that a fresh description is available; the
// dynamic file on disk is the actual export.
type LogPublisher struct {
	Topic string
}

func (p *LogPublisher) PublishDomainDescription(ctx context.Context, payload []byte) error {
	util.WithOperation("publish").Debugf("domain description for %s refreshed (%d bytes)", p.Topic, len(payload))
	return nil
}

// Notifier runs the background publisher goroutine. Realisations call
// Notify after refreshing the description; bursts collapse into a single
// publish of the latest document.
type Notifier struct {
	desc *Description
	pub  Publisher
	ch   chan struct{}
}

func NewNotifier(desc *Description, pub Publisher) *Notifier {
	return &Notifier{
		desc: desc,
		pub:  pub,
		ch:   make(chan struct{}, 1),
	}
}

// Notify schedules a publish. It never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Run publishes on every notification until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.ch:
			n.publish(ctx)
		}
	}
}

func (n *Notifier) publish(ctx context.Context) {
	payload, err := n.desc.Export()
	if err != nil {
		util.Errorf("exporting domain description: %v", err)
		return
	}
	if err := n.pub.PublishDomainDescription(ctx, payload); err != nil {
		merr := &util.MessagingError{Err: err}
		util.Error(merr.Error())
	}
}

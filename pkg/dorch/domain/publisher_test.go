package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingPublisher struct {
	payloads chan []byte
	fail     bool
}

func (p *recordingPublisher) PublishDomainDescription(ctx context.Context, payload []byte) error {
	p.payloads <- payload
	if p.fail {
		return errors.New("broker unreachable")
	}
	return nil
}

func TestNotifierPublishesOnNotify(t *testing.T) {
	d := loadTestDescription(t, "280-289")
	pub := &recordingPublisher{payloads: make(chan []byte, 4)}
	n := NewNotifier(d, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Notify()
	select {
	case payload := <-pub.payloads:
		if len(payload) == 0 {
			t.Fatal("empty payload published")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no publish after Notify")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	d := loadTestDescription(t, "280-289")
	n := NewNotifier(d, &recordingPublisher{payloads: make(chan []byte, 4)})

	done := make(chan struct{})
	go func() {
		// No consumer is running; repeated notifications must still return.
		n.Notify()
		n.Notify()
		n.Notify()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked without a running notifier")
	}
}

func TestNotifierSurvivesPublishFailure(t *testing.T) {
	d := loadTestDescription(t, "280-289")
	pub := &recordingPublisher{payloads: make(chan []byte, 4), fail: true}
	n := NewNotifier(d, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	for i := 0; i < 2; i++ {
		n.Notify()
		select {
		case <-pub.payloads:
		case <-time.After(2 * time.Second):
			t.Fatalf("publish %d never happened", i)
		}
	}
}

package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/nexusid/eventstore/pkg/logging"
)

// RemoteNotifier is an optional, non-authoritative adjunct to Bus: it
// publishes a lightweight "something committed" ping to a NATS subject
// after every local Publish, so projection runners in *other* processes
// wake up immediately instead of waiting for their next poll tick.
//
// It never carries event payloads and is never a correctness dependency:
// a projection that misses every ping still catches up on its next poll
// via EventsAfterPosition. Grounded on the teacher's nats.EventBus, cut
// down from durable JetStream publish/consume to a bare core-NATS
// publish, since durability here is already owned by the relational
// store and checkpoints, not by the notification channel.
type RemoteNotifier struct {
	nc      *nats.Conn
	subject string
	logger  logging.Logger
}

// NewRemoteNotifier connects to a NATS server and returns a notifier that
// pings subject on every NotifyCommit call.
func NewRemoteNotifier(url, subject string, logger logging.Logger) (*RemoteNotifier, error) {
	if logger == nil {
		logger = logging.NoOp()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &RemoteNotifier{nc: nc, subject: subject, logger: logger}, nil
}

// NotifyCommit pings the subject. Failures are logged and swallowed: a
// dropped ping only delays a remote projection's wake-up, it never loses
// an event.
func (n *RemoteNotifier) NotifyCommit() {
	if n == nil || n.nc == nil {
		return
	}
	if err := n.nc.Publish(n.subject, []byte("commit")); err != nil {
		n.logger.Error("remote notifier publish failed", "subject", n.subject, "error", err)
	}
}

// Subscribe registers fn to run whenever a ping arrives on the
// notifier's subject. It returns an unsubscribe function.
func (n *RemoteNotifier) Subscribe(fn func()) (func(), error) {
	sub, err := n.nc.Subscribe(n.subject, func(*nats.Msg) { fn() })
	if err != nil {
		return nil, fmt.Errorf("subscribe to nats subject %s: %w", n.subject, err)
	}
	return func() { sub.Unsubscribe() }, nil
}

// Close closes the connection; subscriptions are not drained first.
func (n *RemoteNotifier) Close() {
	if n != nil && n.nc != nil {
		n.nc.Close()
	}
}

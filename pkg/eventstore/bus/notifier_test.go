package bus_test

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/eventstore/bus"
)

func startEmbeddedNATS(t *testing.T) string {
	t.Helper()
	opts := &server.Options{Host: "127.0.0.1", Port: -1}
	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	t.Cleanup(srv.Shutdown)

	return srv.ClientURL()
}

func TestRemoteNotifierPingsSubscribers(t *testing.T) {
	url := startEmbeddedNATS(t)

	notifier, err := bus.NewRemoteNotifier(url, "eventstore.commits", nil)
	require.NoError(t, err)
	defer notifier.Close()

	received := make(chan struct{}, 1)
	unsubscribe, err := notifier.Subscribe(func() {
		select {
		case received <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	notifier.NotifyCommit()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit ping")
	}
}

func TestRemoteNotifierNilReceiverIsNoOp(t *testing.T) {
	var notifier *bus.RemoteNotifier
	notifier.NotifyCommit()
	notifier.Close()
}

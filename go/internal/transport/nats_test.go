package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
)

func runNATSServer(t *testing.T, port int) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = port
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func testNATSConfig(url string) NATSConfig {
	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ReconnectWait = 20 * time.Millisecond
	return cfg
}

func connectNATS(t *testing.T, url string) *NATSChannel {
	t.Helper()
	ch := NewNATSChannel(testNATSConfig(url))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { ch.Disconnect() })
	return ch
}

func receive(t *testing.T, got <-chan Message) Message {
	t.Helper()
	select {
	case m := <-got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
		return Message{}
	}
}

func TestNATSSubscribeAndPublish(t *testing.T) {
	s := runNATSServer(t, -1)
	ch := connectNATS(t, s.ClientURL())

	got := make(chan Message, 1)
	if _, err := ch.Subscribe("match/AB12", func(m Message) { got <- m }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := ch.Publish(context.Background(), "match/AB12", []byte(`{"type":"STATE"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	m := receive(t, got)
	if m.Topic != "match/AB12" || string(m.Data) != `{"type":"STATE"}` {
		t.Fatalf("message = %+v", m)
	}
}

func TestNATSTopicsMapToSubjects(t *testing.T) {
	s := runNATSServer(t, -1)
	ch := connectNATS(t, s.ClientURL())

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("raw connect: %v", err)
	}
	defer nc.Close()
	raw, err := nc.SubscribeSync("app.match.AB12.action")
	if err != nil {
		t.Fatalf("raw subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := ch.Publish(context.Background(), ActionDestination("AB12"), []byte(`{"action":"PLAY_CARD"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := raw.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next message: %v", err)
	}
	if string(msg.Data) != `{"action":"PLAY_CARD"}` {
		t.Fatalf("data = %s", msg.Data)
	}
}

func TestNATSRequestIsAcknowledged(t *testing.T) {
	s := runNATSServer(t, -1)
	ch := connectNATS(t, s.ClientURL())

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("raw connect: %v", err)
	}
	defer nc.Close()
	if _, err := nc.Subscribe(subjectFor(RegistrationDestination), func(m *nats.Msg) {
		m.Respond([]byte(`{"ok":true}`))
	}); err != nil {
		t.Fatalf("responder: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := ch.Request(ctx, RegistrationDestination, []byte(`{"playerId":"P0","matchCode":"AB12"}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply) != `{"ok":true}` {
		t.Fatalf("reply = %s", reply)
	}
}

func TestNATSReconnectRunsHooksAndKeepsSubscriptions(t *testing.T) {
	s := runNATSServer(t, -1)
	port := s.Addr().(*net.TCPAddr).Port
	ch := connectNATS(t, s.ClientURL())

	got := make(chan Message, 16)
	if _, err := ch.Subscribe("match/AB12", func(m Message) { got <- m }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	reconnected := make(chan struct{}, 1)
	ch.OnReconnect(func() { reconnected <- struct{}{} })

	s.Shutdown()
	deadline := time.Now().Add(2 * time.Second)
	for ch.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("channel still connected after server shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := ch.Publish(context.Background(), "match/AB12", []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("publish while down = %v, want ErrNotConnected", err)
	}

	runNATSServer(t, port)
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect hook not run")
	}

	if err := ch.Publish(context.Background(), "match/AB12", []byte(`{"type":"STATE"}`)); err != nil {
		t.Fatalf("publish after reconnect: %v", err)
	}
	if m := receive(t, got); string(m.Data) != `{"type":"STATE"}` {
		t.Fatalf("data = %s", m.Data)
	}
}

func TestNATSDisconnectClosesChannel(t *testing.T) {
	s := runNATSServer(t, -1)
	ch := NewNATSChannel(testNATSConfig(s.ClientURL()))

	if err := ch.Publish(context.Background(), "match/AB12", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("publish before connect = %v, want ErrNotConnected", err)
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := ch.Subscribe("match/AB12", func(Message) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after disconnect = %v, want ErrClosed", err)
	}
	if ch.IsConnected() {
		t.Fatal("channel reports connected after disconnect")
	}
}

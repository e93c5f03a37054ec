package rendezvous

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer() *Server {
	return NewServer(zerolog.Nop())
}

func dispatch(t *testing.T, s *Server, c *Conn, m Message) {
	t.Helper()
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("encode %T: %v", m, err)
	}
	if err := s.Dispatch(c, raw); err != nil {
		t.Fatalf("dispatch %T: %v", m, err)
	}
}

// A single KNOCK against an empty server gets an acknowledging id and
// nothing else.
func TestScenarioSingleKnock(t *testing.T) {
	s := newTestServer()
	ft := newFakeTransport("k1")
	c := s.Open(ft)

	dispatch(t, s, c, Knock{Subnet: "127.0.0"})

	got := ft.messages()
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1: %+v", len(got), got)
	}
	ack, ok := got[0].(Acknowledgement)
	if !ok || ack.ID != "127.0.0.0" || ack.Rejected {
		t.Fatalf("got %+v, want Acknowledgement{id:127.0.0.0, rejected:false}", got[0])
	}
}

// Scenario 2: two clients greet.
func TestScenarioTwoClientsGreet(t *testing.T) {
	s := newTestServer()
	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	got2 := ft2.messages()
	if len(got2) != 1 {
		t.Fatalf("k2 got %d messages, want 1 (ack only): %+v", len(got2), got2)
	}
	ack := got2[0].(Acknowledgement)
	if ack.ID != "127.0.0.1" {
		t.Fatalf("k2 id = %q, want 127.0.0.1", ack.ID)
	}

	got1 := ft1.messages()
	if len(got1) != 2 {
		t.Fatalf("k1 got %d messages, want 2 (ack + greeting): %+v", len(got1), got1)
	}
	greet, ok := got1[1].(Greeting)
	if !ok || greet.OffererID != "127.0.0.0" || greet.AnswererID != "127.0.0.1" {
		t.Fatalf("k1 greeting = %+v", got1[1])
	}
}

// Scenario 3: bind and shutdown.
func TestScenarioBindAndShutdown(t *testing.T) {
	s := newTestServer()
	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	dispatch(t, s, c1, Bind{ID: "127.0.0.0", Alias: "127.0.0.0:0"})

	for _, ft := range []*fakeTransport{ft1, ft2} {
		msgs := ft.messages()
		last := msgs[len(msgs)-1].(AliasMsg)
		if last.ID != "127.0.0.0" || last.Alias != "127.0.0.0:0" || !last.Set {
			t.Fatalf("%s got %+v, want AliasMsg set:true", ft.name, last)
		}
	}

	dispatch(t, s, c1, Shutdown{ID: "127.0.0.0", Alias: "127.0.0.0:0"})

	for _, ft := range []*fakeTransport{ft1, ft2} {
		msgs := ft.messages()
		last := msgs[len(msgs)-1].(AliasMsg)
		if last.ID != "127.0.0.0" || last.Alias != "127.0.0.0:0" || last.Set {
			t.Fatalf("%s got %+v, want AliasMsg set:false", ft.name, last)
		}
	}
}

// Scenario 4: connect to a non-accepting alias.
func TestScenarioConnectNotAccepting(t *testing.T) {
	s := newTestServer()
	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	dispatch(t, s, c1, Bind{ID: "127.0.0.0", Alias: "127.0.0.0:0"})

	ft1.mu.Lock()
	ft1.sent = nil
	ft1.mu.Unlock()

	dispatch(t, s, c2, Connect{ID: "127.0.0.1", RemoteAlias: "127.0.0.0:0", ClientConnectionID: "c1"})

	if msgs := ft1.messages(); len(msgs) != 0 {
		t.Fatalf("k1 should get no messages from rejected connect, got %+v", msgs)
	}

	got2 := ft2.messages()
	last := got2[len(got2)-1].(AliasMsg)
	if last.ID != "127.0.0.1" || last.Alias != "127.0.0.1:0" || last.Set || last.ClientConnectionID != "c1" {
		t.Fatalf("k2 got %+v, want rejection AliasMsg", last)
	}

	// clientAlias must not remain allocated after a rejected connect.
	if err := s.alloc.ClaimPort("127.0.0.1:0"); err != nil {
		t.Fatalf("clientAlias port should have been released, ClaimPort: %v", err)
	}
	if _, ok := s.registry.LookupAlias("127.0.0.1:0"); ok {
		t.Fatal("clientAlias should not remain in the alias table")
	}
}

// Scenario 5: full connect handshake.
func TestScenarioFullConnectHandshake(t *testing.T) {
	s := newTestServer()
	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	dispatch(t, s, c1, Bind{ID: "127.0.0.0", Alias: "127.0.0.0:0"})
	dispatch(t, s, c1, Accepting{ID: "127.0.0.0", Alias: "127.0.0.0:0"})

	ft1.mu.Lock()
	ft1.sent = nil
	ft1.mu.Unlock()
	ft2.mu.Lock()
	ft2.sent = nil
	ft2.mu.Unlock()

	dispatch(t, s, c2, Connect{ID: "127.0.0.1", RemoteAlias: "127.0.0.0:0", ClientConnectionID: "c1"})

	got2 := ft2.messages()
	if len(got2) != 2 {
		t.Fatalf("k2 got %d messages, want 2: %+v", len(got2), got2)
	}
	a0 := got2[0].(AliasMsg)
	if a0.Alias != "127.0.0.1:0" || !a0.Set || a0.ClientConnectionID != "c1" || !a0.IsConnectionAlias {
		t.Fatalf("k2[0] = %+v", a0)
	}
	a1 := got2[1].(AliasMsg)
	if a1.ID != "127.0.0.0" || a1.Alias != "127.0.0.0:0" || !a1.Set || a1.ClientConnectionID != "c1" {
		t.Fatalf("k2[1] = %+v", a1)
	}

	got1 := ft1.messages()
	if len(got1) != 2 {
		t.Fatalf("k1 got %d messages, want 2: %+v", len(got1), got1)
	}
	b0 := got1[0].(AliasMsg)
	if b0.ID != "127.0.0.1" || b0.Alias != "127.0.0.1:0" || !b0.Set || b0.ClientConnectionID != "" {
		t.Fatalf("k1[0] = %+v", b0)
	}
	b1 := got1[1].(Accept)
	if b1.BoundAlias != "127.0.0.0:0" || b1.ClientAlias != "127.0.0.1:0" {
		t.Fatalf("k1[1] = %+v", b1)
	}
}

// Scenario 6: goodbye cascade.
func TestScenarioGoodbyeCascade(t *testing.T) {
	s := newTestServer()
	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	dispatch(t, s, c1, Bind{ID: "127.0.0.0", Alias: "127.0.0.0:0"})

	ft2.mu.Lock()
	ft2.sent = nil
	ft2.mu.Unlock()

	s.Close(c1)

	got2 := ft2.messages()
	if len(got2) != 2 {
		t.Fatalf("k2 got %d messages, want 2: %+v", len(got2), got2)
	}
	am, ok := got2[0].(AliasMsg)
	if !ok || am.Set || am.Alias != "127.0.0.0:0" {
		t.Fatalf("k2[0] = %+v, want AliasMsg set:false", got2[0])
	}
	gb, ok := got2[1].(Goodbye)
	if !ok || gb.ID != "127.0.0.0" {
		t.Fatalf("k2[1] = %+v, want Goodbye{id:127.0.0.0}", got2[1])
	}
}

// Two clients racing to BIND the same alias must leave exactly one of them
// holding it: handleBind holds Server.mu across its duplicate check,
// ClaimPort and broadcast, so one bind always completes before the other
// starts its own duplicate check.
func TestConcurrentBindSameAliasIsExclusive(t *testing.T) {
	s := newTestServer()

	ft1 := newFakeTransport("k1")
	c1 := s.Open(ft1)
	dispatch(t, s, c1, Knock{Subnet: "127.0.0"})

	ft2 := newFakeTransport("k2")
	c2 := s.Open(ft2)
	dispatch(t, s, c2, Knock{Subnet: "127.0.0"})

	const alias = "127.0.0.2:0"

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, 2)
	race := func(c *Conn, m Bind) {
		defer wg.Done()
		<-start
		raw, err := Encode(m)
		if err != nil {
			errs <- err
			return
		}
		errs <- s.Dispatch(c, raw)
	}
	wg.Add(2)
	go race(c1, Bind{ID: "127.0.0.0", Alias: alias})
	go race(c2, Bind{ID: "127.0.0.1", Alias: alias})
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("dispatch bind: %v", err)
		}
	}

	wins := 0
	for _, ft := range []*fakeTransport{ft1, ft2} {
		msgs := ft.messages()
		last := msgs[len(msgs)-1].(AliasMsg)
		if last.Alias != alias {
			t.Fatalf("%s last message = %+v, want alias %s", ft.name, last, alias)
		}
		if last.Set {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winners for a contended BIND, want exactly 1", wins)
	}

	if info, ok := s.registry.LookupAlias(alias); !ok || (info.OwnerID != "127.0.0.0" && info.OwnerID != "127.0.0.1") {
		t.Fatalf("LookupAlias(%s) = %+v, %v, want exactly one owner", alias, info, ok)
	}
}

func TestUnimplementedOpcodeIsFatal(t *testing.T) {
	s := newTestServer()
	ft := newFakeTransport("k1")
	c := s.Open(ft)

	raw := []byte(`{"opcode":999,"data":{}}`)
	if err := s.Dispatch(c, raw); err != ErrUnimplementedOperation {
		t.Fatalf("Dispatch unknown opcode = %v, want ErrUnimplementedOperation", err)
	}
}

func TestNeverKnockedConnectionTriggersNoGoodbye(t *testing.T) {
	s := newTestServer()
	ft := newFakeTransport("k1")
	c := s.Open(ft)

	s.Close(c) // must not panic or broadcast anything
}

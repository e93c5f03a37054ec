package rendezvous

import "testing"

func TestRegistryClientLifecycle(t *testing.T) {
	r := NewRegistry()
	ft := newFakeTransport("k1")

	r.AddClient("127.0.0.0", ft)
	if got := r.GetClient("127.0.0.0"); got != ft {
		t.Fatalf("GetClient = %v, want %v", got, ft)
	}

	r.RemoveClient("127.0.0.0")
	if got := r.GetClient("127.0.0.0"); got != nil {
		t.Fatalf("GetClient after remove = %v, want nil", got)
	}
}

func TestRegistryBindAcceptUnbind(t *testing.T) {
	r := NewRegistry()
	alias := Alias("127.0.0.0:0")

	if !r.BindAlias(alias, "127.0.0.0") {
		t.Fatal("first bind should succeed")
	}
	if r.BindAlias(alias, "127.0.0.1") {
		t.Fatal("second bind of same alias should fail")
	}

	info, ok := r.LookupAlias(alias)
	if !ok || info.Accepting {
		t.Fatalf("LookupAlias = %+v, %v, want accepting=false", info, ok)
	}

	if r.SetAccepting(alias, "127.0.0.1") {
		t.Fatal("SetAccepting by non-owner should fail")
	}
	if !r.SetAccepting(alias, "127.0.0.0") {
		t.Fatal("SetAccepting by owner should succeed")
	}
	info, _ = r.LookupAlias(alias)
	if !info.Accepting {
		t.Fatal("alias should be accepting after SetAccepting")
	}

	if r.UnbindAlias(alias, "127.0.0.1") {
		t.Fatal("unbind by non-owner should fail")
	}
	if !r.UnbindAlias(alias, "127.0.0.0") {
		t.Fatal("unbind by owner should succeed")
	}
	if _, ok := r.LookupAlias(alias); ok {
		t.Fatal("alias should be gone after unbind")
	}
}

func TestRegistryAliasesFor(t *testing.T) {
	r := NewRegistry()
	r.BindAlias("127.0.0.0:0", "127.0.0.0")
	r.BindAlias("127.0.0.0:1", "127.0.0.0")
	r.ConnectionAlias("127.0.0.1:0", "127.0.0.1")

	got := r.AliasesFor("127.0.0.0")
	if len(got) != 2 {
		t.Fatalf("AliasesFor = %v, want 2 entries", got)
	}
}

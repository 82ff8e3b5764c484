package monitor

import "testing"

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()

	first, err := r.Add(newConn("s1", "a"))
	if err != nil || !first {
		t.Fatalf("Add a = %v, %v", first, err)
	}
	first, _ = r.Add(newConn("s1", "b"))
	if first {
		t.Error("second monitor reported as first")
	}
	if got := len(r.Members("s1")); got != 2 {
		t.Errorf("members = %d", got)
	}

	removed, last := r.Remove("s1", "a")
	if !removed || last {
		t.Errorf("Remove a = %v, %v", removed, last)
	}
	removed, last = r.Remove("s1", "a")
	if removed || last {
		t.Errorf("second Remove a = %v, %v", removed, last)
	}
	removed, last = r.Remove("s1", "b")
	if !removed || !last {
		t.Errorf("Remove b = %v, %v", removed, last)
	}
	if len(r.Sessions()) != 0 {
		t.Errorf("sessions = %v", r.Sessions())
	}
}

func TestConnDeliverAfterClose(t *testing.T) {
	c := newConn("s", "m")
	c.close()
	c.close()
	if c.deliver(nil) {
		t.Error("delivered to a closed conn")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Add(newConn("s1", "a"))

	c, ok := r.Lookup("a")
	if !ok || c.SessionID != "s1" || c.ID != "a" {
		t.Fatalf("Lookup a = %+v, %v", c, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("found a monitor that was never added")
	}
	r.Remove("s1", "a")
	if _, ok := r.Lookup("a"); ok {
		t.Error("removed monitor still found")
	}
}

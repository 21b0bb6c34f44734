package coordstore

import "testing"

func TestKeyNamespacing(t *testing.T) {
	s := New("localhost:6379", "")
	defer func() { _ = s.Close() }()

	if got, want := s.key("workers"), "loadstorm:workers"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}

	s2 := New("localhost:6379", "custom")
	defer func() { _ = s2.Close() }()
	if got, want := s2.key("leader", "t1"), "custom:leader:t1"; got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}

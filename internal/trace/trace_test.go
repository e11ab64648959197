package trace

import (
	"log/slog"
	"testing"

	"github.com/sentrywatch/engine/internal/supervisorcrypto"
)

func newTestSecret(t *testing.T) *supervisorcrypto.Secret {
	t.Helper()
	secret, err := supervisorcrypto.LoadOrGenerate(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestAddEventMonotonicIDs(t *testing.T) {
	tr := New(newTestSecret(t))
	for i := 0; i < 5; i++ {
		ev, err := tr.AddEvent(UnsignedEvent{Kind: KindSpawn, Depth: i})
		if err != nil {
			t.Fatal(err)
		}
		if ev.EventID != uint64(i+1) {
			t.Fatalf("expected eventId %d, got %d", i+1, ev.EventID)
		}
	}
}

func TestExportReturnsDefensiveCopy(t *testing.T) {
	tr := New(newTestSecret(t))
	if _, err := tr.AddEvent(UnsignedEvent{Kind: KindSpawn}); err != nil {
		t.Fatal(err)
	}
	events := tr.Export()
	events[0].Note = "tampered"

	events2 := tr.Export()
	if events2[0].Note == "tampered" {
		t.Fatal("Export must return a defensive copy")
	}
}

func TestEventSignatureVerifies(t *testing.T) {
	secret := newTestSecret(t)
	tr := New(secret)
	ev, err := tr.AddEvent(UnsignedEvent{Kind: KindReturn, ChildRunID: "r1", OutputHash: "oh"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := VerifySignature(secret, ev)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestTamperedEventFailsSignature(t *testing.T) {
	secret := newTestSecret(t)
	tr := New(secret)
	ev, err := tr.AddEvent(UnsignedEvent{Kind: KindSpawn})
	if err != nil {
		t.Fatal(err)
	}

	ev.Kind = KindMerge // flip after the fact, as scenario 4 in spec.md §8 does
	ok, err := VerifySignature(secret, ev)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected signature mismatch after tampering")
	}
}

func TestStatsCountsByKindAndDepth(t *testing.T) {
	tr := New(newTestSecret(t))
	kinds := []Kind{KindSpawn, KindSpawn, KindReturn, KindMerge}
	for i, k := range kinds {
		if _, err := tr.AddEvent(UnsignedEvent{Kind: k, Depth: i}); err != nil {
			t.Fatal(err)
		}
	}
	stats := tr.Stats()
	if stats.TotalEvents != 4 || stats.CountByKind[KindSpawn] != 2 || stats.DeepestDepth != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

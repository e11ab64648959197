package validator

import (
	"log/slog"
	"testing"

	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
)

func newTestSecret(t *testing.T) *supervisorcrypto.Secret {
	t.Helper()
	secret, err := supervisorcrypto.LoadOrGenerate(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestValidatePassesOnConsistentTrace(t *testing.T) {
	secret := newTestSecret(t)
	tr := trace.New(secret)
	reg := registry.New()

	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "r1", Depth: 1, InputHash: "ih"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterReturn(registry.ReturnInput{RunID: "r1", OutputHash: "oh"}); err != nil {
		t.Fatal(err)
	}

	if _, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindSpawn, ChildRunID: "r1", InputHash: "ih"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindReturn, ChildRunID: "r1", OutputHash: "oh"}); err != nil {
		t.Fatal(err)
	}

	result := Validate(secret, reg, tr.Export())
	if !result.OK || len(result.Errors) != 0 {
		t.Fatalf("expected clean validation, got %+v", result)
	}
}

func TestValidateDetectsBadSignature(t *testing.T) {
	secret := newTestSecret(t)
	tr := trace.New(secret)
	reg := registry.New()

	ev, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindSpawn})
	if err != nil {
		t.Fatal(err)
	}
	events := []trace.Event{ev}
	events[0].Kind = trace.KindMerge // tamper after signing

	result := Validate(secret, reg, events)
	if result.OK {
		t.Fatal("expected validation failure")
	}
	if len(result.Errors) != 1 || result.Errors[0].Reason != ReasonBadSignature {
		t.Fatalf("got %+v", result.Errors)
	}
}

func TestValidateDetectsMissingChildRun(t *testing.T) {
	secret := newTestSecret(t)
	tr := trace.New(secret)
	reg := registry.New() // never registers "ghost"

	ev, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindSpawn, ChildRunID: "ghost"})
	if err != nil {
		t.Fatal(err)
	}

	result := Validate(secret, reg, []trace.Event{ev})
	if result.OK || result.Errors[0].Reason != ReasonChildRunMissingInRegistry {
		t.Fatalf("got %+v", result)
	}
}

func TestValidateDetectsOutputHashMismatch(t *testing.T) {
	secret := newTestSecret(t)
	tr := trace.New(secret)
	reg := registry.New()

	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "r1", InputHash: "ih"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterReturn(registry.ReturnInput{RunID: "r1", OutputHash: "real-hash"}); err != nil {
		t.Fatal(err)
	}

	ev, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindReturn, ChildRunID: "r1", OutputHash: "forged-hash"})
	if err != nil {
		t.Fatal(err)
	}

	result := Validate(secret, reg, []trace.Event{ev})
	if result.OK || result.Errors[0].Reason != ReasonOutputHashMismatch {
		t.Fatalf("got %+v", result)
	}
}

func TestValidateEmptyTraceIsOK(t *testing.T) {
	result := Validate(newTestSecret(t), registry.New(), nil)
	if !result.OK || len(result.Errors) != 0 {
		t.Fatalf("got %+v", result)
	}
}

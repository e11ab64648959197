package canon

import "testing"

// FuzzMarshalRoundTrip mirrors the fuzz-test precedent set by
// dmora-agentrun/fuzz_test.go in the retrieved pack: feed arbitrary JSON
// text through Decode -> Marshal -> Decode -> Marshal and require the two
// canonical encodings to agree, which is the round-trip invariant
// spec.md §8 requires of canonicalization.
func FuzzMarshalRoundTrip(f *testing.F) {
	seeds := []string{
		`{}`,
		`[]`,
		`null`,
		`{"a":1,"b":[1,2,3]}`,
		`{"z":{"y":{"x":1.5}}}`,
		`{"s":"hello \"world\""}`,
		`[1,2,3,{"a":true,"b":false,"c":null}]`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, in string) {
		v1, err := Decode([]byte(in))
		if err != nil {
			t.Skip()
		}
		out1, err := Marshal(v1)
		if err != nil {
			t.Skip()
		}
		v2, err := Decode(out1)
		if err != nil {
			t.Fatalf("re-decode failed on canonical output %s: %v", out1, err)
		}
		out2, err := Marshal(v2)
		if err != nil {
			t.Fatalf("re-marshal failed on %v: %v", v2, err)
		}
		if string(out1) != string(out2) {
			t.Fatalf("canonical form not stable: %s vs %s", out1, out2)
		}
	})
}

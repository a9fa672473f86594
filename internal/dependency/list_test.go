package dependency

import "testing"

func TestInitialiseResetsSecondaryAndOutputs(t *testing.T) {
	l := New()
	l.Initialise([]Input{{Dep: NewSourceFile("a.model"), Hash: 1}})
	l.AddSecondaryInput(Input{Dep: NewSourceFile("b.texture"), Hash: 2})
	l.AddOutput(Output{Path: "a.model_processed", Hash: 3})

	l.Initialise([]Input{{Dep: NewSourceFile("a.model"), Hash: 1}})

	if len(l.SecondaryInputs) != 0 {
		t.Fatalf("expected secondary inputs cleared, got %d", len(l.SecondaryInputs))
	}
	if len(l.Outputs) != 0 {
		t.Fatalf("expected outputs cleared, got %d", len(l.Outputs))
	}
	if len(l.PrimaryInputs) != 1 {
		t.Fatalf("expected 1 primary input, got %d", len(l.PrimaryInputs))
	}
}

func TestAddSecondaryInputDeduplicatesByIdentity(t *testing.T) {
	l := New()
	l.AddSecondaryInput(Input{Dep: NewSourceFile("shared.fx"), Hash: 1})
	l.AddSecondaryInput(Input{Dep: NewSourceFile("shared.fx"), Hash: 2})

	if len(l.SecondaryInputs) != 1 {
		t.Fatalf("expected duplicate secondary input folded, got %d entries", len(l.SecondaryInputs))
	}
	if l.SecondaryInputs[0].Hash != 2 {
		t.Fatalf("expected re-added input to refresh the hash, got %d", l.SecondaryInputs[0].Hash)
	}
}

func TestInputHashIgnoresSecondaryUnlessRequested(t *testing.T) {
	l := New()
	l.Initialise([]Input{{Dep: NewSourceFile("a.model"), Hash: 100}})
	withoutSecondary := l.InputHash(false)

	l.AddSecondaryInput(Input{Dep: NewSourceFile("b.texture"), Hash: 200})
	stillWithoutSecondary := l.InputHash(false)
	withSecondary := l.InputHash(true)

	if withoutSecondary != stillWithoutSecondary {
		t.Fatalf("InputHash(false) must be unaffected by secondary inputs")
	}
	if withSecondary == withoutSecondary {
		t.Fatalf("InputHash(true) must change when a secondary input is added")
	}
}

func TestPrimaryInputsEqualIsPositional(t *testing.T) {
	l := New()
	l.Initialise([]Input{
		{Dep: NewSourceFile("a.model")},
		{Dep: NewSourceFile("b.model")},
	})

	if !l.PrimaryInputsEqual([]Dependency{NewSourceFile("a.model"), NewSourceFile("b.model")}) {
		t.Fatalf("expected identical ordered inputs to compare equal")
	}
	if l.PrimaryInputsEqual([]Dependency{NewSourceFile("b.model"), NewSourceFile("a.model")}) {
		t.Fatalf("expected reordered inputs to compare unequal")
	}
	if l.PrimaryInputsEqual([]Dependency{NewSourceFile("a.model")}) {
		t.Fatalf("expected different-length inputs to compare unequal")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	l := New()
	l.Initialise([]Input{
		{Dep: NewSourceFile("a.model"), Hash: 111},
		{Dep: NewConverter(0xdeadbeef, "v3"), Hash: 222},
	})
	l.AddSecondaryInput(Input{Dep: NewDirectory("textures", "*.dds", false, true, false), Hash: 333})
	l.AddIntermediateOutput(Output{Path: "a.model.tmp", Hash: 444})
	l.AddOutput(Output{Path: "a.model_processed", Hash: 555})

	data, err := l.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(got.PrimaryInputs) != 2 || len(got.SecondaryInputs) != 1 {
		t.Fatalf("unexpected shape after round trip: %+v", got)
	}
	if !got.PrimaryInputs[0].Dep.Equal(NewSourceFile("a.model")) || got.PrimaryInputs[0].Hash != 111 {
		t.Fatalf("primary input 0 mismatch: %+v", got.PrimaryInputs[0])
	}
	id, version := got.PrimaryInputs[1].Dep.Converter()
	if id != 0xdeadbeef || version != "v3" {
		t.Fatalf("converter dependency mismatch: id=%x version=%s", id, version)
	}
	if got.SecondaryInputs[0].Dep.IsCritical() {
		t.Fatalf("expected non-critical directory dependency to round trip as non-critical")
	}
	if got.IntermediateOutputs[0] != (Output{Path: "a.model.tmp", Hash: 444}) {
		t.Fatalf("intermediate output mismatch: %+v", got.IntermediateOutputs[0])
	}
	if got.Outputs[0] != (Output{Path: "a.model_processed", Hash: 555}) {
		t.Fatalf("output mismatch: %+v", got.Outputs[0])
	}
	if got.HasInvalid() {
		t.Fatalf("well-formed round trip must not report HasInvalid")
	}
}

func TestUnmarshalUnknownTypeBecomesInvalidSentinel(t *testing.T) {
	xmlDoc := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<DependencyList>
  <PrimaryInputs>
    <Input Type="200" Hash="1"></Input>
  </PrimaryInputs>
</DependencyList>`)

	got, err := Unmarshal(xmlDoc)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.HasInvalid() {
		t.Fatalf("expected unrecognized Type to round trip as invalid sentinel")
	}
}

func TestHasCanonicalPrimaryPrefix(t *testing.T) {
	l := New()
	l.Initialise(CanonicalPrimaryInputs("a.model", 0x1234, "1.0", ""))

	if !l.HasCanonicalPrimaryPrefix("a.model", 0x1234, "1.0", "") {
		t.Fatalf("expected canonical prefix to match")
	}
	if l.HasCanonicalPrimaryPrefix("a.model", 0x1234, "2.0", "") {
		t.Fatalf("expected version bump to break the canonical prefix check")
	}

	short := New()
	short.Initialise([]Input{{Dep: NewSourceFile("a.model")}})
	if short.HasCanonicalPrimaryPrefix("a.model", 0x1234, "1.0", "") {
		t.Fatalf("expected too-short primary list to fail the check")
	}
}

func TestDependencyEqualIgnoresCritical(t *testing.T) {
	a := NewIntermediateFile("x.tmp", true)
	b := NewIntermediateFile("x.tmp", false)
	if !a.Equal(b) {
		t.Fatalf("Equal must ignore the Critical flag")
	}
}

package dependency

import (
	"encoding/xml"
	"fmt"

	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
)

// Input pairs a Dependency with the hash it had the last time the owning
// task ran to completion.
type Input struct {
	Dep  Dependency
	Hash uint64
}

// Output records a produced file's path and the hash it had immediately
// after the task finished writing it.
type Output struct {
	Path string
	Hash uint64
}

// List is the persisted record of everything a conversion task read and
// produced the last time it ran: the primary inputs fixed at task
// creation, the secondary inputs discovered while converting, and the
// intermediate and final outputs written. A fresh run is judged a no-op
// when every one of these four sequences still matches.
type List struct {
	PrimaryInputs       []Input
	SecondaryInputs     []Input
	IntermediateOutputs []Output
	Outputs             []Output
}

// New returns an empty dependency list.
func New() *List {
	return &List{}
}

// Initialise resets all four sequences and records primary as the new
// primary-input set. Per the original engine's contract, this always
// clears secondary inputs and outputs too, even when only the converter's
// version changed and the primary inputs themselves are unchanged: a
// stale secondary input from a previous converter version must never
// leak into the regenerated list.
func (l *List) Initialise(primary []Input) {
	l.PrimaryInputs = append([]Input(nil), primary...)
	l.SecondaryInputs = nil
	l.IntermediateOutputs = nil
	l.Outputs = nil
}

// AddSecondaryInput appends a dependency discovered while converting.
// Duplicate (kind, identity) pairs are folded into the first occurrence so
// a converter that reads the same file twice doesn't inflate the list.
func (l *List) AddSecondaryInput(in Input) {
	for i, existing := range l.SecondaryInputs {
		if existing.Dep.Equal(in.Dep) {
			l.SecondaryInputs[i] = in
			return
		}
	}
	l.SecondaryInputs = append(l.SecondaryInputs, in)
}

// AddIntermediateOutput records an intermediate file the task produced.
func (l *List) AddIntermediateOutput(out Output) {
	l.IntermediateOutputs = append(l.IntermediateOutputs, out)
}

// AddOutput records a final-output file the task produced.
func (l *List) AddOutput(out Output) {
	l.Outputs = append(l.Outputs, out)
}

// InputHash combines every primary input's hash, and every secondary
// input's hash when includeSecondary is set, into a single value via the
// pipeline's contractual Combine formula. Two lists with the same
// includeSecondary selection and the same input hashes, in the same
// order, are considered to represent the same task state.
func (l *List) InputHash(includeSecondary bool) uint64 {
	values := make([]uint64, 0, len(l.PrimaryInputs)+len(l.SecondaryInputs))
	for _, in := range l.PrimaryInputs {
		values = append(values, in.Hash)
	}
	if includeSecondary {
		for _, in := range l.SecondaryInputs {
			values = append(values, in.Hash)
		}
	}
	return hashutil.CombineValues(values...)
}

// Marshal serializes the list to the XML-like on-disk .deps format.
func (l *List) Marshal() ([]byte, error) {
	doc := document{
		PrimaryInputs:       make([]record, len(l.PrimaryInputs)),
		SecondaryInputs:     make([]record, len(l.SecondaryInputs)),
		IntermediateOutputs: make([]outputRecord, len(l.IntermediateOutputs)),
		Outputs:             make([]outputRecord, len(l.Outputs)),
	}
	for i, in := range l.PrimaryInputs {
		doc.PrimaryInputs[i] = toRecord(in)
	}
	for i, in := range l.SecondaryInputs {
		doc.SecondaryInputs[i] = toRecord(in)
	}
	for i, out := range l.IntermediateOutputs {
		doc.IntermediateOutputs[i] = outputRecord{File: out.Path, Hash: out.Hash}
	}
	for i, out := range l.Outputs {
		doc.Outputs[i] = outputRecord{File: out.Path, Hash: out.Hash}
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dependency list: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// Unmarshal parses a .deps file. A record with an unrecognized Type is
// converted to the Invalid sentinel rather than rejected outright; callers
// should treat the presence of one as grounds to regenerate the list (see
// HasInvalid).
func Unmarshal(data []byte) (*List, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal dependency list: %w", err)
	}

	l := &List{
		PrimaryInputs:       make([]Input, len(doc.PrimaryInputs)),
		SecondaryInputs:     make([]Input, len(doc.SecondaryInputs)),
		IntermediateOutputs: make([]Output, len(doc.IntermediateOutputs)),
		Outputs:             make([]Output, len(doc.Outputs)),
	}
	for i, r := range doc.PrimaryInputs {
		l.PrimaryInputs[i] = fromRecord(r)
	}
	for i, r := range doc.SecondaryInputs {
		l.SecondaryInputs[i] = fromRecord(r)
	}
	for i, r := range doc.IntermediateOutputs {
		l.IntermediateOutputs[i] = Output{Path: r.File, Hash: r.Hash}
	}
	for i, r := range doc.Outputs {
		l.Outputs[i] = Output{Path: r.File, Hash: r.Hash}
	}
	return l, nil
}

// HasInvalid reports whether any input round-tripped as the Invalid
// sentinel, meaning the list was written by a future or otherwise
// unrecognized format version and must not be trusted.
func (l *List) HasInvalid() bool {
	for _, in := range l.PrimaryInputs {
		if in.Dep.kind == KindInvalid {
			return true
		}
	}
	for _, in := range l.SecondaryInputs {
		if in.Dep.kind == KindInvalid {
			return true
		}
	}
	return false
}

// CanonicalPrimaryInputs builds the three mandatory primary inputs every
// task's dependency list must begin with: SourceFile of the task's source,
// Converter of the chosen converter id/version, and ConverterParams of the
// literal parameter string. Hashes are left 0; callers fill them in once
// computed.
func CanonicalPrimaryInputs(sourcePath string, converterID uint64, converterVersion, params string) []Input {
	return []Input{
		{Dep: NewSourceFile(sourcePath)},
		{Dep: NewConverter(converterID, converterVersion)},
		{Dep: NewConverterParams(params)},
	}
}

// HasCanonicalPrimaryPrefix reports whether the list's first three primary
// inputs carry the expected variant in the expected order, regardless of
// their stored hashes. Stage A of the task processor treats any deviation
// as proof the persisted list is stale.
func (l *List) HasCanonicalPrimaryPrefix(sourcePath string, converterID uint64, converterVersion, params string) bool {
	if len(l.PrimaryInputs) < 3 {
		return false
	}
	want := CanonicalPrimaryInputs(sourcePath, converterID, converterVersion, params)
	for i := 0; i < 3; i++ {
		if !l.PrimaryInputs[i].Dep.Equal(want[i].Dep) {
			return false
		}
	}
	return true
}

// PrimaryInputsEqual reports whether candidate matches the list's current
// primary inputs positionally by identity (Stage A's check for whether a
// task's primary inputs themselves have changed since creation).
func (l *List) PrimaryInputsEqual(candidate []Dependency) bool {
	if len(candidate) != len(l.PrimaryInputs) {
		return false
	}
	for i, dep := range candidate {
		if !l.PrimaryInputs[i].Dep.Equal(dep) {
			return false
		}
	}
	return true
}

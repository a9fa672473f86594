package dependency

import "encoding/xml"

// record is the on-disk XML representation of a single (Dependency, Hash)
// pair, matching the attribute set described for .deps files: Type and Hash
// are always present, Critical is present whenever false (true is the
// default and is omitted to keep fresh-build .deps files small), and the
// remaining attributes are populated according to Type.
type record struct {
	XMLName xml.Name `xml:"Input"`

	Type     uint8  `xml:"Type,attr"`
	Hash     uint64 `xml:"Hash,attr"`
	Critical *bool  `xml:"Critical,attr,omitempty"`

	FileName  string `xml:"FileName,attr,omitempty"`
	Id        uint64 `xml:"Id,attr,omitempty"`
	Version   string `xml:"Version,attr,omitempty"`
	Params    string `xml:"Params,attr,omitempty"`
	Directory string `xml:"Directory,attr,omitempty"`
	Pattern   string `xml:"Pattern,attr,omitempty"`
	Regex     bool   `xml:"Regex,attr,omitempty"`
	Recursive bool   `xml:"Recursive,attr,omitempty"`
}

// outputRecord is the on-disk representation of a produced file: a bare
// path plus the hash it had immediately after the task that produced it
// last ran to completion.
type outputRecord struct {
	XMLName xml.Name `xml:"Output"`
	File    string   `xml:"File,attr"`
	Hash    uint64   `xml:"Hash,attr"`
}

// document is the root element of a .deps file: four named groups holding
// primary inputs, secondary inputs, intermediate outputs, and final
// outputs, in that order, matching DependencyList's four sequences.
type document struct {
	XMLName xml.Name `xml:"DependencyList"`

	PrimaryInputs       []record       `xml:"PrimaryInputs>Input"`
	SecondaryInputs     []record       `xml:"SecondaryInputs>Input"`
	IntermediateOutputs []outputRecord `xml:"IntermediateOutputs>Output"`
	Outputs             []outputRecord `xml:"Outputs>Output"`
}

func boolPtr(b bool) *bool { return &b }

func toRecord(in Input) record {
	r := record{
		Type: uint8(in.Dep.kind),
		Hash: in.Hash,
	}
	if !in.Dep.critical {
		r.Critical = boolPtr(false)
	}
	switch in.Dep.kind {
	case KindSourceFile, KindIntermediateFile, KindOutputFile:
		r.FileName = in.Dep.path
	case KindConverter:
		r.Id = in.Dep.converterID
		r.Version = in.Dep.converterVersion
	case KindConverterParams:
		r.Params = in.Dep.params
	case KindDirectory:
		r.Directory = in.Dep.dirPath
		r.Pattern = in.Dep.dirPattern
		r.Regex = in.Dep.dirIsRegex
		r.Recursive = in.Dep.dirRecurse
	}
	return r
}

// fromRecord reverses toRecord. An unrecognized Type yields the Invalid
// sentinel dependency rather than an error, so a single unknown record
// degrades the owning list to stale instead of aborting the whole read.
func fromRecord(r record) Input {
	critical := true
	if r.Critical != nil {
		critical = *r.Critical
	}

	var dep Dependency
	switch Kind(r.Type) {
	case KindSourceFile:
		dep = Dependency{kind: KindSourceFile, path: r.FileName, critical: critical}
	case KindIntermediateFile:
		dep = Dependency{kind: KindIntermediateFile, path: r.FileName, critical: critical}
	case KindOutputFile:
		dep = Dependency{kind: KindOutputFile, path: r.FileName, critical: critical}
	case KindConverter:
		dep = Dependency{kind: KindConverter, converterID: r.Id, converterVersion: r.Version, critical: critical}
	case KindConverterParams:
		dep = Dependency{kind: KindConverterParams, params: r.Params, critical: critical}
	case KindDirectory:
		dep = Dependency{kind: KindDirectory, dirPath: r.Directory, dirPattern: r.Pattern, dirIsRegex: r.Regex, dirRecurse: r.Recursive, critical: critical}
	default:
		dep = invalidDependency()
	}
	return Input{Dep: dep, Hash: r.Hash}
}

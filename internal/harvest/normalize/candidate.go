package normalize

import "github.com/edgecomet/harvester/pkg/types"

// CandidateKind tags where a candidate node came from
type CandidateKind int

const (
	// CandidateGraph is a product node from the embedded state graph
	CandidateGraph CandidateKind = iota
	// CandidateHTML is a product assembled from page markup
	CandidateHTML
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateGraph:
		return "graph"
	case CandidateHTML:
		return "html"
	default:
		return "unknown"
	}
}

// Candidate is a loosely-typed product node awaiting normalization.
// Fields hold whatever shape the source produced; rules decide what to read.
type Candidate struct {
	Kind   CandidateKind
	Key    string // graph key or synthesized position key
	Fields map[string]any
}

// GraphCandidate wraps a resolved state graph node
func GraphCandidate(key string, fields map[string]any) Candidate {
	return Candidate{Kind: CandidateGraph, Key: key, Fields: fields}
}

// HTMLCandidate wraps fields scraped from markup
func HTMLCandidate(key string, fields map[string]any) Candidate {
	return Candidate{Kind: CandidateHTML, Key: key, Fields: fields}
}

// Method returns the extraction method a record from this candidate carries
func (c Candidate) Method() types.ExtractionMethod {
	if c.Kind == CandidateHTML {
		return types.ExtractionHTMLFallback
	}
	return types.ExtractionGraphState
}

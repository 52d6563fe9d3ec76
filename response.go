package dagrun

import "github.com/google/uuid"

// Node is the internal shape both Job and Flow satisfy: something with a
// uuid, a host chain, a canonical output Reference, and a flattening into
// leaf Jobs. Response.Replace/Detour/Addition accept a Node so a running
// job can graft in either a single Job or an entire Flow.
type Node interface {
	nodeUUID() uuid.UUID
	nodeHosts() []uuid.UUID
	addHost(uuid.UUID)
	outputRef() Reference
	leafJobs() []*Job
}

// Response is the directive a job's function returns to the Manager. A
// bare (non-Response) return value is normalised to Response{Output: v}.
// At most one of Replace, Detour, Addition may be populated; combining
// Replace and Detour is rejected outright. Issue a Detour whose leaf Flow
// itself issues the Replace if both are genuinely needed.
//
// Directives resolved this way: combining Replace and Detour in one
// Response has no sane execution order, so it is a hard error rather
// than an implicit priority rule.
type Response struct {
	Output       any
	Replace      Node
	Detour       Node
	Addition     Node
	StoredData   map[string]any
	StopChildren bool
	StopJobflow  bool
}

// directiveCount reports how many of Replace/Detour/Addition are set.
func (r Response) directiveCount() int {
	n := 0
	if r.Replace != nil {
		n++
	}
	if r.Detour != nil {
		n++
	}
	if r.Addition != nil {
		n++
	}
	return n
}

// validate enforces the mutual-exclusion invariant on directives. owner
// is the uuid of the job that returned this Response, used to annotate
// the error.
func (r Response) validate(owner uuid.UUID) error {
	if r.Replace != nil && r.Detour != nil {
		return errCombinedDirective(owner)
	}
	if r.directiveCount() > 1 {
		return &ResponseInterpretationFailure{UUID: owner, Msg: "response sets more than one of replace/detour/addition"}
	}
	return nil
}

// Output wraps a bare value as a plain-output Response. Convenience for
// job functions that only ever return a value.
func Output(v any) Response { return Response{Output: v} }

// ReplaceWith builds a Response whose replace directive is n. The
// current job's successor inherits n's leaf output under the current
// job's uuid at index+1, so existing downstream References keep working.
func ReplaceWith(n Node) Response { return Response{Replace: n} }

// DetourTo builds a Response whose detour directive is n. Every
// not-yet-started job that depended on the current job also waits for
// n's leaf; its Reference to the current job then resolves to the
// leaf's output, aliased under the current job's uuid at index+1.
func DetourTo(n Node) Response { return Response{Detour: n} }

// AdditionOf builds a Response that appends n to the enclosing Flow
// without wiring it to any existing dependent.
func AdditionOf(n Node) Response { return Response{Addition: n} }

// StopChildren builds a Response that skips every job transitively
// dependent on the current job.
func StopChildren() Response { return Response{StopChildren: true} }

// StopJobflow builds a Response that terminates the entire run.
func StopJobflow() Response { return Response{StopJobflow: true} }

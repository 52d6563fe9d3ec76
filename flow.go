package dagrun

import (
	"context"
	"fmt"

	"dagrun/funcreg"

	"github.com/google/uuid"
)

// Order controls whether a Flow's own members are scheduled by
// dependency (Auto) or forced into declaration order (Linear).
type Order int

const (
	// OrderAuto lets the Manager schedule members by dependency order,
	// ties broken by declaration order.
	OrderAuto Order = iota
	// OrderLinear forces members to run in declaration order even when
	// they carry no dependency on one another.
	OrderLinear
)

func (o Order) String() string {
	if o == OrderLinear {
		return "linear"
	}
	return "auto"
}

// identityToken is the function registered to back a Flow's synthetic
// combinator job, the job materialised to give a Flow's Output
// expression a concrete, storable Reference when the Flow is used as a
// Response directive or as another Flow's member output.
var identityToken = funcreg.Token{Package: "dagrun", Name: "internal.identity"}

func init() {
	funcreg.Register(identityToken, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	})
}

// Flow is a recursively nested, ordered collection of Jobs and Flows
// with its own identity and an optional output expression composing
// member References. Flows are constructed eagerly; they never execute
// themselves.
type Flow struct {
	UUID    uuid.UUID
	Name    string
	Members []Node
	Output  any
	Order   Order
	Hosts   []uuid.UUID

	combinator *Job
}

// FlowOption configures a Flow at construction.
type FlowOption func(*Flow)

// WithOutput attaches the Flow's output expression: an arbitrary
// structure (possibly nested) of References composing member outputs.
func WithOutput(expr any) FlowOption {
	return func(f *Flow) { f.Output = expr }
}

// WithOrder overrides the default OrderAuto scheduling.
func WithOrder(o Order) FlowOption {
	return func(f *Flow) { f.Order = o }
}

// NewFlow flattens members into a Flow, stamping each member's Hosts
// chain with the new Flow's uuid and rejecting a transitive closure that
// repeats a uuid or contains the Flow itself.
func NewFlow(name string, members []Node, opts ...FlowOption) (*Flow, error) {
	f := &Flow{UUID: uuid.New(), Name: name, Members: members, Order: OrderAuto}
	for _, opt := range opts {
		opt(f)
	}

	seen := map[uuid.UUID]bool{f.UUID: true}
	for _, m := range members {
		if err := checkClosure(m, seen); err != nil {
			return nil, err
		}
	}
	for _, m := range members {
		m.addHost(f.UUID)
	}
	return f, nil
}

// checkClosure walks n's transitive closure recording every uuid
// encountered into seen, failing if any uuid repeats (a duplicate member
// or a Flow containing itself).
func checkClosure(n Node, seen map[uuid.UUID]bool) error {
	id := n.nodeUUID()
	if seen[id] {
		return fmt.Errorf("dagrun: uuid %s appears more than once in the flow's transitive closure", id)
	}
	seen[id] = true
	if sub, ok := n.(*Flow); ok {
		for _, m := range sub.Members {
			if err := checkClosure(m, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Flow) nodeUUID() uuid.UUID    { return f.UUID }
func (f *Flow) nodeHosts() []uuid.UUID { return f.Hosts }
func (f *Flow) addHost(h uuid.UUID)    { f.Hosts = append(f.Hosts, h) }

// outputRef resolves the Flow's canonical Reference: the Output
// expression's combinator job's output if Output is set, otherwise the
// terminal member's (see leaf).
func (f *Flow) outputRef() Reference {
	leaf := f.leaf()
	if leaf == nil {
		return Reference{}
	}
	return leaf.outputRef()
}

// OutputRef is the exported form of outputRef, usable by callers that
// want to embed a sub-Flow's result into a downstream Job's args exactly
// like any other Reference.
func (f *Flow) OutputRef() Reference { return f.outputRef() }

func (f *Flow) leafJobs() []*Job {
	leaf := f.leaf()
	if leaf == nil {
		return nil
	}
	return leaf.leafJobs()
}

// leaf determines the single Node whose output stands for this Flow's
// result. If Output is set, a synthetic identity job (materialised once,
// memoised) resolves that expression. Otherwise the leaf is the last
// declared member with no other member depending on it; ties (genuinely
// disconnected members) are broken by declaration order.
func (f *Flow) leaf() Node {
	if f.Output != nil {
		if f.combinator == nil {
			f.combinator = NewJob(f.Name+".output", identityToken, []any{f.Output}, nil)
			f.combinator.Hosts = append([]uuid.UUID{}, f.Hosts...)
			f.combinator.addHost(f.UUID)
			f.Members = append(f.Members, f.combinator)
		}
		return f.combinator
	}
	terms := f.terminalMembers()
	if len(terms) == 0 {
		return nil
	}
	return terms[len(terms)-1]
}

// terminalMembers returns the members of f that no other member of f
// depends on, in declaration order.
func (f *Flow) terminalMembers() []Node {
	referenced := map[uuid.UUID]bool{}
	for _, m := range f.Members {
		for _, ref := range memberReferences(m) {
			referenced[ref.UUID] = true
		}
	}
	var terms []Node
	for _, m := range f.Members {
		owned := closureUUIDs(m)
		terminal := true
		for id := range owned {
			if referenced[id] {
				terminal = false
				break
			}
		}
		if terminal {
			terms = append(terms, m)
		}
	}
	if len(terms) == 0 {
		return f.Members
	}
	return terms
}

// memberReferences returns every Reference used as an input anywhere
// inside m: a Job's own args/kwargs, or, for a Flow, the union of all of
// its members' input References plus any References in its own Output
// expression.
func memberReferences(m Node) []Reference {
	switch x := m.(type) {
	case *Job:
		return x.references()
	case *Flow:
		var refs []Reference
		for _, sub := range x.Members {
			refs = append(refs, memberReferences(sub)...)
		}
		collectReferences(x.Output, &refs)
		return refs
	default:
		return nil
	}
}

// closureUUIDs returns the set of uuids owned by m: its own uuid plus,
// for a Flow, every uuid in its transitive closure.
func closureUUIDs(m Node) map[uuid.UUID]bool {
	out := map[uuid.UUID]bool{m.nodeUUID(): true}
	if sub, ok := m.(*Flow); ok {
		for _, member := range sub.Members {
			for id := range closureUUIDs(member) {
				out[id] = true
			}
		}
	}
	return out
}

// flattenJobs returns every Job in n's transitive closure, in
// declaration order, materialising any Flow's output combinator along
// the way.
func flattenJobs(n Node) []*Job {
	switch x := n.(type) {
	case *Job:
		return []*Job{x}
	case *Flow:
		x.leaf() // ensure the combinator (if any) is materialised and appended to Members
		var jobs []*Job
		for _, m := range x.Members {
			jobs = append(jobs, flattenJobs(m)...)
		}
		return jobs
	default:
		return nil
	}
}

// GraphExport produces the adjacency list {uuid: set(uuid)}: an edge
// A -> B exists iff any Reference inside B's arguments has uuid A,
// scoped to this Flow's Job-level transitive closure (sub-Flows are
// expanded to their constituent Jobs).
func (f *Flow) GraphExport() map[uuid.UUID]map[uuid.UUID]bool {
	jobs := flattenJobs(f)
	known := map[uuid.UUID]bool{}
	for _, j := range jobs {
		known[j.UUID] = true
	}
	adj := map[uuid.UUID]map[uuid.UUID]bool{}
	for _, j := range jobs {
		adj[j.UUID] = map[uuid.UUID]bool{}
	}
	for _, j := range jobs {
		for _, ref := range j.references() {
			if known[ref.UUID] && ref.UUID != j.UUID {
				adj[ref.UUID][j.UUID] = true
			}
		}
	}
	return adj
}

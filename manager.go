package dagrun

import (
	"context"
	"errors"
	"sort"
	"time"

	"dagrun/store"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// continuation records that, once leafUUID's chain of replace/detour
// grafts finally terminates, the terminal job's output must also be
// aliased into the store under originalUUID at newIndex, and anything
// still waiting on originalUUID may proceed.
type continuation struct {
	originalUUID uuid.UUID
	newIndex     int
}

// Manager linearizes a Flow, resolves each Job's inputs against a
// JobStore, invokes the function, and mutates the remaining schedule
// according to each Response's directive. One Manager instance runs one
// Flow at most once; its run-scoped resolution cache does not outlive
// Run.
type Manager struct {
	store  *store.JobStore
	logger *zap.Logger
	cache  *store.Cache

	jobs       map[uuid.UUID]*Job
	declOrder  map[uuid.UUID]int
	nextOrder  int
	pendingDep map[uuid.UUID]map[uuid.UUID]bool
	ready      []uuid.UUID
	readySet   map[uuid.UUID]bool
	resolved   map[uuid.UUID]bool
	skipped    map[uuid.UUID]bool
	dependents map[uuid.UUID][]uuid.UUID
	continueAt map[uuid.UUID][]continuation

	results map[uuid.UUID]map[int]Response
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a structured logger; the zero value is a
// no-op logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a Manager that will run against st.
func NewManager(st *store.JobStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      st,
		logger:     zap.NewNop(),
		cache:      store.NewCache(),
		jobs:       map[uuid.UUID]*Job{},
		declOrder:  map[uuid.UUID]int{},
		pendingDep: map[uuid.UUID]map[uuid.UUID]bool{},
		readySet:   map[uuid.UUID]bool{},
		resolved:   map[uuid.UUID]bool{},
		skipped:    map[uuid.UUID]bool{},
		dependents: map[uuid.UUID][]uuid.UUID{},
		continueAt: map[uuid.UUID][]continuation{},
		results:    map[uuid.UUID]map[int]Response{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes flow and returns every Response the run produced, keyed
// by (uuid, index), along with a combined error carrying every failure
// in the order it occurred (multierr.Errors lists them, earliest first).
// A ResponseInterpretationFailure or a StoreBackendFailure stops the
// run; any other job failure skips that job's dependents and the run
// goes on.
func (m *Manager) Run(ctx context.Context, flow *Flow) (map[uuid.UUID]map[int]Response, error) {
	defer func() { m.cache = store.NewCache() }()
	if err := m.store.EnsureIndex(ctx, store.DefaultCollection, "uuid"); err != nil {
		return nil, &StoreBackendFailure{Err: err}
	}

	m.schedule(flattenJobs(flow), linearEdges(flow))

	var combined, first error
	for {
		job := m.nextReady()
		if job == nil {
			break
		}
		m.logger.Debug("job.started", zap.String("uuid", job.UUID.String()), zap.Int("index", job.Iteration), zap.String("name", job.Name))

		resp, err := job.Run(ctx, m.store, m.cache, nil)
		if err != nil {
			m.logger.Warn("job.failed", zap.String("uuid", job.UUID.String()), zap.Error(err))
			combined = multierr.Append(combined, err)
			if first == nil {
				first = err
			}
			var sbf *StoreBackendFailure
			if errors.As(err, &sbf) {
				return m.results, combined
			}
			m.cascadeSkip(job.UUID)
			continue
		}

		if verr := resp.validate(job.UUID); verr != nil {
			combined = multierr.Append(combined, verr)
			if first == nil {
				first = verr
			}
			return m.results, combined
		}

		m.record(job.UUID, job.Iteration, resp)
		m.logger.Debug("response.directive", zap.String("uuid", job.UUID.String()),
			zap.Bool("replace", resp.Replace != nil), zap.Bool("detour", resp.Detour != nil),
			zap.Bool("addition", resp.Addition != nil), zap.Bool("stop_children", resp.StopChildren),
			zap.Bool("stop_jobflow", resp.StopJobflow))

		if resp.StopChildren {
			m.cascadeSkip(job.UUID)
		}

		switch {
		case resp.Replace != nil:
			if err := m.graft(ctx, job, resp.Replace); err != nil {
				combined = multierr.Append(combined, err)
				if first == nil {
					first = err
				}
				return m.results, combined
			}
		case resp.Detour != nil:
			if err := m.graft(ctx, job, resp.Detour); err != nil {
				combined = multierr.Append(combined, err)
				if first == nil {
					first = err
				}
				return m.results, combined
			}
		case resp.Addition != nil:
			additionJobs := flattenJobs(resp.Addition)
			for _, nj := range additionJobs {
				if len(nj.Hosts) == 0 {
					nj.Hosts = append([]uuid.UUID{}, job.Hosts...)
				}
			}
			m.schedule(additionJobs, nil)
			m.finish(ctx, job.UUID, job.Iteration, resp)
		default:
			m.finish(ctx, job.UUID, job.Iteration, resp)
		}

		if resp.StopJobflow {
			break
		}
	}

	return m.results, combined
}

// record stores a job's Response in the results map, keyed by (uuid,
// index).
func (m *Manager) record(id uuid.UUID, index int, resp Response) {
	byIndex, ok := m.results[id]
	if !ok {
		byIndex = map[int]Response{}
		m.results[id] = byIndex
	}
	byIndex[index] = resp
}

// finish marks id as resolved (its latest value is now available to
// dependents), unblocking any pending job whose last unmet dependency
// was id, and resolves any continuations chained onto id (jobs that were
// grafted in as the leaf of an earlier replace/detour targeting id).
func (m *Manager) finish(ctx context.Context, id uuid.UUID, index int, resp Response) {
	m.resolved[id] = true
	m.promote(id)

	for _, cont := range m.continueAt[id] {
		m.aliasOutput(ctx, cont.originalUUID, cont.newIndex, resp)
		m.record(cont.originalUUID, cont.newIndex, resp)
		m.resolved[cont.originalUUID] = true
		m.promote(cont.originalUUID)
	}
	delete(m.continueAt, id)
}

// promote moves every still-pending job whose dependency set no longer
// contains an unresolved uuid into ready, now that id has resolved.
func (m *Manager) promote(id uuid.UUID) {
	for jobUUID, deps := range m.pendingDep {
		if m.skipped[jobUUID] || m.readySet[jobUUID] {
			continue
		}
		delete(deps, id)
		if len(deps) == 0 {
			m.readySet[jobUUID] = true
			m.ready = append(m.ready, jobUUID)
			delete(m.pendingDep, jobUUID)
		}
	}
}

// aliasOutput writes a second store document under (originalUUID,
// newIndex) carrying the same content as resp, so that a Reference
// pointing at originalUUID resolves to the replacement/detour's result
// once it becomes the latest index for that uuid.
func (m *Manager) aliasOutput(ctx context.Context, originalUUID uuid.UUID, newIndex int, resp Response) {
	rec := store.OutputRecord{
		UUID:        originalUUID,
		Index:       newIndex,
		Output:      resp.Output,
		CompletedAt: time.Now().UTC(),
		StoredData:  resp.StoredData,
	}
	if err := m.store.Put(ctx, rec, store.DefaultCollection); err != nil {
		m.logger.Warn("store.alias_failed", zap.String("uuid", originalUUID.String()), zap.Error(err))
	}
}

// nextReady pops the next job to run from ready, breaking ties by
// declaration order, then lexicographic uuid.
func (m *Manager) nextReady() *Job {
	if len(m.ready) == 0 {
		return nil
	}
	sort.SliceStable(m.ready, func(i, j int) bool {
		a, b := m.ready[i], m.ready[j]
		if m.declOrder[a] != m.declOrder[b] {
			return m.declOrder[a] < m.declOrder[b]
		}
		return a.String() < b.String()
	})
	id := m.ready[0]
	m.ready = m.ready[1:]
	delete(m.readySet, id)
	return m.jobs[id]
}

// schedule registers newJobs (and any extra synthetic ordering edges)
// into the workflow state, computing each job's unresolved dependency
// set against every job known so far and placing it into ready or
// pending accordingly.
func (m *Manager) schedule(newJobs []*Job, extraEdges map[uuid.UUID][]uuid.UUID) {
	for _, j := range newJobs {
		if _, known := m.jobs[j.UUID]; known {
			continue
		}
		m.jobs[j.UUID] = j
		m.declOrder[j.UUID] = m.nextOrder
		m.nextOrder++
	}
	for _, j := range newJobs {
		deps := map[uuid.UUID]bool{}
		for _, ref := range j.references() {
			if _, known := m.jobs[ref.UUID]; known && ref.UUID != j.UUID && !m.resolved[ref.UUID] {
				deps[ref.UUID] = true
				m.dependents[ref.UUID] = append(m.dependents[ref.UUID], j.UUID)
			}
		}
		for _, dep := range extraEdges[j.UUID] {
			if _, known := m.jobs[dep]; known && !m.resolved[dep] {
				deps[dep] = true
				m.dependents[dep] = append(m.dependents[dep], j.UUID)
			}
		}
		if len(deps) == 0 {
			m.readySet[j.UUID] = true
			m.ready = append(m.ready, j.UUID)
		} else {
			m.pendingDep[j.UUID] = deps
		}
	}
}

// graft materialises node (the Replace or Detour payload of job's
// Response), schedules its jobs, chains the continuation that will
// eventually alias job's uuid to node's leaf output, and rewires every
// not-yet-started dependent of job to also wait on that leaf.
func (m *Manager) graft(ctx context.Context, job *Job, node Node) error {
	leafJobs := node.leafJobs()
	if len(leafJobs) != 1 {
		return &ResponseInterpretationFailure{UUID: job.UUID, Msg: "replacement/detour graph has no single leaf output"}
	}
	leaf := leafJobs[0]

	newJobs := flattenJobs(node)
	for _, nj := range newJobs {
		if len(nj.Hosts) == 0 {
			nj.Hosts = append([]uuid.UUID{}, job.Hosts...)
		}
	}
	m.schedule(newJobs, nil)

	entries := append(m.continueAt[job.UUID], continuation{originalUUID: job.UUID, newIndex: job.Iteration + 1})
	delete(m.continueAt, job.UUID)
	m.continueAt[leaf.UUID] = append(m.continueAt[leaf.UUID], entries...)

	for _, dep := range append([]uuid.UUID{}, m.dependents[job.UUID]...) {
		if m.skipped[dep] || m.resolved[dep] {
			continue
		}
		if m.resolved[leaf.UUID] {
			continue
		}
		if m.readySet[dep] {
			m.removeFromReady(dep)
			m.pendingDep[dep] = map[uuid.UUID]bool{leaf.UUID: true}
		} else if deps, pending := m.pendingDep[dep]; pending {
			deps[leaf.UUID] = true
		} else {
			continue
		}
		m.dependents[leaf.UUID] = append(m.dependents[leaf.UUID], dep)
	}
	return nil
}

// removeFromReady drops id from the ready queue without touching its
// dependency bookkeeping, used when graft needs to push an already-ready
// job back to pending.
func (m *Manager) removeFromReady(id uuid.UUID) {
	delete(m.readySet, id)
	for i, v := range m.ready {
		if v == id {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			return
		}
	}
}

// cascadeSkip marks every not-yet-started job transitively dependent on
// id as skipped. Used both for the stop_children directive and for
// failure propagation, since a failed job's dependents are treated the
// same way.
func (m *Manager) cascadeSkip(id uuid.UUID) {
	queue := append([]uuid.UUID{}, m.dependents[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if m.skipped[cur] || m.resolved[cur] {
			continue
		}
		m.skipped[cur] = true
		m.removeFromReady(cur)
		delete(m.pendingDep, cur)
		queue = append(queue, m.dependents[cur]...)
	}
}

// linearEdges computes the synthetic declaration-order dependencies
// OrderLinear flows impose: every job belonging to member i must wait
// for the last job of member i-1, even when no Reference connects them.
func linearEdges(root Node) map[uuid.UUID][]uuid.UUID {
	edges := map[uuid.UUID][]uuid.UUID{}
	var walk func(n Node)
	walk = func(n Node) {
		f, ok := n.(*Flow)
		if !ok {
			return
		}
		f.leaf() // materialise any combinator before flattening
		if f.Order == OrderLinear {
			for i := 1; i < len(f.Members); i++ {
				prevJobs := flattenJobs(f.Members[i-1])
				if len(prevJobs) == 0 {
					continue
				}
				prevLast := prevJobs[len(prevJobs)-1].UUID
				for _, j := range flattenJobs(f.Members[i]) {
					edges[j.UUID] = append(edges[j.UUID], prevLast)
				}
			}
		}
		for _, m := range f.Members {
			walk(m)
		}
	}
	walk(root)
	return edges
}

package dagrun

import (
	"context"
	"fmt"
	"time"

	"dagrun/funcreg"
	"dagrun/store"

	"github.com/google/uuid"
)

// JobConfig carries the optional directives the Manager honours while
// running a Job.
type JobConfig struct {
	// ResolveReferences controls whether References in Args/Kwargs are
	// resolved before the function is called. Defaults to true.
	ResolveReferences bool
	// OnMissingReferences governs resolution failures (see OnMissing).
	OnMissingReferences OnMissing
	// ManagerConfig is forwarded verbatim to external executors; the
	// core never inspects it.
	ManagerConfig map[string]any
	// ExposeStoreInFunction injects the JobStore into the function's
	// kwargs under StoreKwargKey.
	ExposeStoreInFunction bool
}

// StoreKwargKey is the reserved kwargs key a Job's function finds the
// JobStore under when Config.ExposeStoreInFunction is set.
const StoreKwargKey = "__store__"

// DefaultJobConfig returns the Manager's default behaviour: resolve
// references, fail loudly on a missing one.
func DefaultJobConfig() JobConfig {
	return JobConfig{ResolveReferences: true, OnMissingReferences: OnMissingFail}
}

// Job is a deferred call to a registered function, with captured
// arguments (which may embed References), an identity (uuid, index),
// configuration, and metadata. Jobs are constructed eagerly but never
// execute themselves; only a Manager runs them.
type Job struct {
	UUID         uuid.UUID
	Iteration    int
	Name         string
	Token        funcreg.Token
	Args         []any
	Kwargs       map[string]any
	OutputSchema any
	Config       JobConfig
	Metadata     map[string]any
	Hosts        []uuid.UUID
}

// JobOption configures a Job at construction.
type JobOption func(*Job)

// WithJobConfig overrides the default JobConfig.
func WithJobConfig(cfg JobConfig) JobOption {
	return func(j *Job) { j.Config = cfg }
}

// WithJobMetadata attaches arbitrary metadata to a Job.
func WithJobMetadata(md map[string]any) JobOption {
	return func(j *Job) { j.Metadata = md }
}

// WithOutputSchema attaches a declarative description of the Job's
// return type; the core never validates against it, it is carried for
// consumers that want to introspect a Flow before running it.
func WithOutputSchema(schema any) JobOption {
	return func(j *Job) { j.OutputSchema = schema }
}

// NewJob constructs a Job wrapping a call to the function registered
// under token. uuid is assigned fresh; iteration starts at 1.
func NewJob(name string, token funcreg.Token, args []any, kwargs map[string]any, opts ...JobOption) *Job {
	j := &Job{
		UUID:      uuid.New(),
		Iteration: 1,
		Name:      name,
		Token:     token,
		Args:      args,
		Kwargs:    kwargs,
		Config:    DefaultJobConfig(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Output returns the canonical Reference to this Job's top-level
// result. Deeper References are obtained via Reference operations,
// e.g. job.Output().Attr("x").
func (j *Job) Output() Reference {
	return NewReference(j.UUID, j.Iteration)
}

func (j *Job) nodeUUID() uuid.UUID    { return j.UUID }
func (j *Job) nodeHosts() []uuid.UUID { return j.Hosts }
func (j *Job) addHost(h uuid.UUID)    { j.Hosts = append(j.Hosts, h) }
func (j *Job) outputRef() Reference   { return j.Output() }
func (j *Job) leafJobs() []*Job       { return []*Job{j} }

// references returns every Reference reachable inside this Job's
// arguments, used for dependency discovery within a Flow.
func (j *Job) references() []Reference {
	var refs []Reference
	collectReferences(j.Args, &refs)
	collectReferences(j.Kwargs, &refs)
	return refs
}

// UpdateKwargs deep-updates the call's kwargs, used by consumers to
// retarget a job after construction without changing its uuid. When
// dictMod is true, nested maps are merged key-by-key rather than
// wholesale replaced.
func (j *Job) UpdateKwargs(update map[string]any, dictMod bool) {
	if j.Kwargs == nil {
		j.Kwargs = map[string]any{}
	}
	if !dictMod {
		for k, v := range update {
			j.Kwargs[k] = v
		}
		return
	}
	for k, v := range update {
		existing, ok := j.Kwargs[k]
		if !ok {
			j.Kwargs[k] = v
			continue
		}
		existingMap, ok1 := existing.(map[string]any)
		valueMap, ok2 := v.(map[string]any)
		if ok1 && ok2 {
			merged := make(map[string]any, len(existingMap)+len(valueMap))
			for mk, mv := range existingMap {
				merged[mk] = mv
			}
			for mk, mv := range valueMap {
				merged[mk] = mv
			}
			j.Kwargs[k] = merged
		} else {
			j.Kwargs[k] = v
		}
	}
}

// resolveInputs walks Args/Kwargs replacing every Reference with its
// resolved value. redirect (may be nil) is passed through to
// ResolveValue to consult another job's uuid in place of a referenced one.
func (j *Job) resolveInputs(ctx context.Context, st *store.JobStore, cache *store.Cache, redirect map[uuid.UUID]uuid.UUID) ([]any, map[string]any, error) {
	if !j.Config.ResolveReferences {
		return j.Args, j.Kwargs, nil
	}
	resolvedArgs, err := ResolveValue(ctx, st, j.Args, j.Config.OnMissingReferences, cache, redirect)
	if err != nil {
		return nil, nil, err
	}
	resolvedKwargs, err := ResolveValue(ctx, st, j.Kwargs, j.Config.OnMissingReferences, cache, redirect)
	if err != nil {
		return nil, nil, err
	}
	args, _ := resolvedArgs.([]any)
	kwargs, _ := resolvedKwargs.(map[string]any)
	return args, kwargs, nil
}

// Run resolves the job's inputs, invokes its registered function,
// normalises the return value into a Response, writes the resulting
// output document, and returns the Response. st and cache come from
// the Manager driving the run; redirect is handed to resolveInputs (the
// Manager passes nil).
func (j *Job) Run(ctx context.Context, st *store.JobStore, cache *store.Cache, redirect map[uuid.UUID]uuid.UUID) (Response, error) {
	args, kwargs, err := j.resolveInputs(ctx, st, cache, redirect)
	if err != nil {
		return Response{}, err
	}

	fn, ok := funcreg.Lookup(j.Token)
	if !ok {
		return Response{}, &JobExecutionFailure{UUID: j.UUID, Index: j.Iteration, Err: fmt.Errorf("no function registered for token %s", j.Token)}
	}

	if j.Config.ExposeStoreInFunction {
		if kwargs == nil {
			kwargs = map[string]any{}
		}
		kwargs[StoreKwargKey] = st
	}

	ctx = withCurrentJob(ctx, JobContext{UUID: j.UUID, Iteration: j.Iteration, Store: st})

	result, callErr := fn(ctx, args, kwargs)
	if callErr != nil {
		return Response{}, &JobExecutionFailure{UUID: j.UUID, Index: j.Iteration, Err: callErr}
	}

	resp := normalizeResponse(result)

	rec := store.OutputRecord{
		UUID:        j.UUID,
		Index:       j.Iteration,
		Output:      resp.Output,
		CompletedAt: time.Now().UTC(),
		Metadata:    j.Metadata,
		Hosts:       j.Hosts,
		Name:        j.Name,
		StoredData:  resp.StoredData,
	}
	if err := st.Put(ctx, rec, store.DefaultCollection); err != nil {
		return Response{}, &JobExecutionFailure{UUID: j.UUID, Index: j.Iteration, Err: &StoreBackendFailure{Err: err}}
	}

	return resp, nil
}

// normalizeResponse wraps a bare function return value as a plain
// output Response, unless it already is one.
func normalizeResponse(v any) Response {
	if resp, ok := v.(Response); ok {
		return resp
	}
	return Response{Output: v}
}

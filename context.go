package dagrun

import (
	"context"

	"dagrun/store"

	"github.com/google/uuid"
)

// JobContext is what a running job's function finds about itself when it
// calls CurrentJob. It is threaded through context.Context rather than
// held as a package-level singleton, so a job's function never reaches
// for ambient global state to learn its own identity.
type JobContext struct {
	UUID      uuid.UUID
	Iteration int
	Store     *store.JobStore
}

type currentJobKey struct{}

// withCurrentJob attaches jc to ctx; called by Job.Run before invoking the
// registered function.
func withCurrentJob(ctx context.Context, jc JobContext) context.Context {
	return context.WithValue(ctx, currentJobKey{}, jc)
}

// CurrentJob retrieves the JobContext of the job whose function is
// currently executing, if any. A function registered for use outside a
// Job (e.g. called directly in a test) sees ok == false.
func CurrentJob(ctx context.Context) (JobContext, bool) {
	jc, ok := ctx.Value(currentJobKey{}).(JobContext)
	return jc, ok
}

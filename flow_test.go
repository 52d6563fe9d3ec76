package dagrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowStampsHosts(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)
	j2 := NewJob("add", tokAdd, []any{j1.Output(), 3}, nil)

	f, err := NewFlow("two-step", []Node{j1, j2})
	require.NoError(t, err)

	assert.Contains(t, j1.Hosts, f.UUID)
	assert.Contains(t, j2.Hosts, f.UUID)
}

func TestNewFlowRejectsDuplicateMember(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)

	_, err := NewFlow("dup", []Node{j1, j1})
	assert.Error(t, err)
}

func TestNewFlowRejectsDuplicateAcrossNestedClosure(t *testing.T) {
	inner := NewJob("add", tokAdd, []any{1, 2}, nil)
	sub, err := NewFlow("sub", []Node{inner})
	require.NoError(t, err)

	// inner already belongs to sub's transitive closure; re-listing it
	// directly in the outer flow's members must be rejected.
	_, err = NewFlow("outer", []Node{sub, inner})
	assert.Error(t, err)
}

func TestFlowOutputCombinator(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)
	j2 := NewJob("add", tokAdd, []any{3, 4}, nil)

	f, err := NewFlow("pair", []Node{j1, j2}, WithOutput(map[string]any{
		"a": j1.Output(),
		"b": j2.Output(),
	}))
	require.NoError(t, err)

	leafJobs := f.leafJobs()
	require.Len(t, leafJobs, 1)
	assert.NotEqual(t, j1.UUID, leafJobs[0].UUID)
	assert.NotEqual(t, j2.UUID, leafJobs[0].UUID)
}

func TestFlowTerminalMemberWithoutOutput(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)
	j2 := NewJob("add", tokAdd, []any{j1.Output(), 3}, nil)

	f, err := NewFlow("chain", []Node{j1, j2})
	require.NoError(t, err)

	leafJobs := f.leafJobs()
	require.Len(t, leafJobs, 1)
	assert.Equal(t, j2.UUID, leafJobs[0].UUID)
}

func TestFlowTerminalMemberPicksLastWhenDisconnected(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)
	j2 := NewJob("add", tokAdd, []any{3, 4}, nil)

	f, err := NewFlow("disconnected", []Node{j1, j2})
	require.NoError(t, err)

	leafJobs := f.leafJobs()
	require.Len(t, leafJobs, 1)
	assert.Equal(t, j2.UUID, leafJobs[0].UUID)
}

func TestFlowGraphExport(t *testing.T) {
	j1 := NewJob("add", tokAdd, []any{1, 2}, nil)
	j2 := NewJob("add", tokAdd, []any{j1.Output(), 3}, nil)
	j3 := NewJob("add", tokAdd, []any{1, 1}, nil)

	f, err := NewFlow("graph", []Node{j1, j2, j3})
	require.NoError(t, err)

	adj := f.GraphExport()
	assert.True(t, adj[j1.UUID][j2.UUID])
	assert.False(t, adj[j1.UUID][j3.UUID])
	assert.Empty(t, adj[j3.UUID])
}

func TestFlattenJobsRecursesSubFlows(t *testing.T) {
	inner1 := NewJob("add", tokAdd, []any{1, 1}, nil)
	inner2 := NewJob("add", tokAdd, []any{2, 2}, nil)
	sub, err := NewFlow("sub", []Node{inner1, inner2})
	require.NoError(t, err)

	outer1 := NewJob("add", tokAdd, []any{3, 3}, nil)
	f, err := NewFlow("outer", []Node{sub, outer1})
	require.NoError(t, err)

	jobs := flattenJobs(f)
	require.Len(t, jobs, 3)
	assert.Equal(t, inner1.UUID, jobs[0].UUID)
	assert.Equal(t, inner2.UUID, jobs[1].UUID)
	assert.Equal(t, outer1.UUID, jobs[2].UUID)
}

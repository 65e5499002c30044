package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/procflow/pkg/builder"
	"github.com/aescanero/procflow/pkg/domain"
)

func graph(t *testing.T, id string) *domain.Graph {
	t.Helper()
	b := builder.New(id, builder.WithName("graph "+id)).Node(domain.Node{ID: "B"}, domain.Node{ID: "A"})
	b.AddSource("A", "done").SendTo(domain.Invocation{NodeID: "B", FunctionName: "run"})
	g, err := b.Seal()
	require.NoError(t, err)
	return g
}

func TestCatalog(t *testing.T) {
	c, err := New(graph(t, "second"), graph(t, "first"))
	require.NoError(t, err)

	g, ok := c.Get("first")
	require.True(t, ok)
	assert.Equal(t, "graph first", g.Name)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, []string{"A", "B"}, list[0].Nodes)
	assert.Equal(t, 1, list[0].Edges)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	c, err := New(graph(t, "g"))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Register(graph(t, "g")), domain.ErrInvalidGraph)
	assert.ErrorIs(t, c.Register(nil), domain.ErrInvalidGraph)
}

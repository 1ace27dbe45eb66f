package txpool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/chainkit/types"
)

func idOf(b byte) TransactionID {
	var h TransactionID
	h[0] = b
	return h
}

func TestBestOrdersByPriorityThenSubmission(t *testing.T) {
	p := NewParkedPool()
	p.Insert(idOf(1), uint256.NewInt(5), &types.Transaction{})
	p.Insert(idOf(2), uint256.NewInt(10), &types.Transaction{})
	p.Insert(idOf(3), uint256.NewInt(10), &types.Transaction{})

	id, _, ok := p.Best()
	require.True(t, ok)
	require.Equal(t, idOf(2), id, "equal priority ties break by earlier submission id")
}

func TestInsertDuplicatePanics(t *testing.T) {
	p := NewParkedPool()
	p.Insert(idOf(1), uint256.NewInt(1), &types.Transaction{})
	require.Panics(t, func() {
		p.Insert(idOf(1), uint256.NewInt(2), &types.Transaction{})
	})
}

func TestRemoveKeepsBijection(t *testing.T) {
	p := NewParkedPool()
	p.Insert(idOf(1), uint256.NewInt(1), &types.Transaction{})
	p.Insert(idOf(2), uint256.NewInt(2), &types.Transaction{})

	_, ok := p.Remove(idOf(1))
	require.True(t, ok)
	require.Equal(t, 1, p.Len())

	id, _, ok := p.Best()
	require.True(t, ok)
	require.Equal(t, idOf(2), id)

	_, ok = p.Remove(idOf(99))
	require.False(t, ok)
}

func TestRemoveEmpty(t *testing.T) {
	p := NewParkedPool()
	p.Insert(idOf(1), uint256.NewInt(1), &types.Transaction{})
	_, ok := p.Remove(idOf(1))
	require.True(t, ok)

	_, _, ok = p.Best()
	require.False(t, ok)
	require.Equal(t, 0, p.Len())
}

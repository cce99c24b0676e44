package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func hashByte(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestMemChainProcessBlockAdvancesHeadOnContiguousChain(t *testing.T) {
	c := NewMemChain()
	require.NoError(t, c.ProcessBlock(&Block{Hash: hashByte(0), Height: 0}, ProcessOptions{}))
	require.NoError(t, c.ProcessBlock(&Block{Hash: hashByte(1), PrevHash: hashByte(0), Height: 1}, ProcessOptions{}))

	require.Equal(t, Height(1), c.Head().Height)
	require.Equal(t, hashByte(1), c.Head().Hash)
}

func TestMemChainProcessBlockFilesOrphanWhenParentMissing(t *testing.T) {
	c := NewMemChain()
	err := c.ProcessBlock(&Block{Hash: hashByte(5), PrevHash: hashByte(4), Height: 5}, ProcessOptions{})
	require.ErrorIs(t, err, ErrOrphan)
	require.True(t, c.IsOrphan(hashByte(5)))
	require.False(t, c.BlockExists(hashByte(5)))
}

func TestMemChainProcessBlockRejectsDuplicate(t *testing.T) {
	c := NewMemChain()
	b := &Block{Hash: hashByte(0), Height: 0}
	require.NoError(t, c.ProcessBlock(b, ProcessOptions{}))
	require.ErrorIs(t, c.ProcessBlock(b, ProcessOptions{}), ErrKnownBlock)
}

func TestMemChainHeightToArchiveHeightRespectsMode(t *testing.T) {
	c := NewMemChain()
	require.Equal(t, Height(0), c.HeightToArchiveHeight(1000))

	c.SetArchiveMode(true, 100)
	require.Equal(t, Height(900), c.HeightToArchiveHeight(1000))
	require.Equal(t, Height(0), c.HeightToArchiveHeight(50))
}

func TestMemChainGetPreviousHeaderAndByHeight(t *testing.T) {
	c := NewMemChain()
	require.NoError(t, c.ProcessBlock(&Block{Hash: hashByte(0), Height: 0}, ProcessOptions{}))
	b1 := &Block{Hash: hashByte(1), PrevHash: hashByte(0), Height: 1}
	require.NoError(t, c.ProcessBlock(b1, ProcessOptions{}))

	prev, err := c.GetPreviousHeader(b1)
	require.NoError(t, err)
	require.Equal(t, hashByte(0), prev.Hash)

	got, err := c.GetHeaderByHeight(1)
	require.NoError(t, err)
	require.Equal(t, b1.Hash, got.Hash)

	_, err = c.GetHeaderByHeight(99)
	require.ErrorIs(t, err, ErrOrphan)
}

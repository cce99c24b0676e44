// Package fakechain provides an in-memory chain.Chain implementation
// for use in pkg/sync tests, analogous to a real chain without the
// storage engine underneath it.
package fakechain

import (
	"sync"

	"github.com/dennisvanderpool/mwc-node/pkg/chain"
)

// FakeChain implements chain.Chain but keeps everything in memory.
type FakeChain struct {
	mu sync.Mutex

	archive     bool
	archiveBack chain.Height

	byHeight map[chain.Height]*chain.Block
	byHash   map[chain.Hash]*chain.Block
	orphans  map[chain.Hash]*chain.OrphanBlock

	head       chain.Tip
	headerHead chain.Tip

	ProcessBlockF func(b *chain.Block, opts chain.ProcessOptions) error
}

// New returns an empty FakeChain.
func New() *FakeChain {
	return &FakeChain{
		byHeight: make(map[chain.Height]*chain.Block),
		byHash:   make(map[chain.Hash]*chain.Block),
		orphans:  make(map[chain.Hash]*chain.OrphanBlock),
	}
}

// SetArchiveMode toggles ArchiveMode() and the lookback window used by
// HeightToArchiveHeight.
func (c *FakeChain) SetArchiveMode(archive bool, lookback chain.Height) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archive = archive
	c.archiveBack = lookback
}

// PutHeader registers a header-only block and advances HeaderHead if
// it extends the known chain.
func (c *FakeChain) PutHeader(b *chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHeight[b.Height] = b
	c.byHash[b.Hash] = b
	if b.Height >= c.headerHead.Height {
		c.headerHead = chain.Tip{Hash: b.Hash, Height: b.Height}
	}
}

// PutBlock registers a full block and advances Head.
func (c *FakeChain) PutBlock(b *chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHeight[b.Height] = b
	c.byHash[b.Hash] = b
	if b.Height >= c.head.Height {
		c.head = chain.Tip{Hash: b.Hash, Height: b.Height}
	}
	if b.Height >= c.headerHead.Height {
		c.headerHead = chain.Tip{Hash: b.Hash, Height: b.Height}
	}
	delete(c.orphans, b.Hash)
}

// PutOrphan registers a block whose parent is not yet known.
func (c *FakeChain) PutOrphan(b *chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orphans[b.Hash] = &chain.OrphanBlock{Hash: b.Hash, Height: b.Height, Block: b}
}

func (c *FakeChain) Head() chain.Tip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

func (c *FakeChain) HeaderHead() chain.Tip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerHead
}

// ForkPoint returns Head() unmodified; FakeChain never models a
// divergent local branch.
func (c *FakeChain) ForkPoint() (chain.Tip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *FakeChain) HeightToArchiveHeight(h chain.Height) chain.Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.archive {
		return 0
	}
	if h <= c.archiveBack {
		return 0
	}
	return h - c.archiveBack
}

func (c *FakeChain) GetHeaderByHeight(h chain.Height) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byHeight[h]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (c *FakeChain) GetBlockByHash(hash chain.Hash) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byHash[hash]
	if !ok {
		return nil, chain.ErrOrphan
	}
	return b, nil
}

func (c *FakeChain) GetPreviousHeader(b *chain.Block) (*chain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.byHash[b.PrevHash]
	if !ok {
		return nil, chain.ErrOrphan
	}
	return prev, nil
}

func (c *FakeChain) BlockExists(hash chain.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byHash[hash]
	return ok
}

func (c *FakeChain) IsOrphan(hash chain.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.orphans[hash]
	return ok
}

func (c *FakeChain) GetOrphan(hash chain.Hash) (*chain.OrphanBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orphans[hash]
	return o, ok
}

// ProcessBlock defaults to accepting the block and advancing Head, so
// tests exercising BodySync's orphan kick-through do not need to stub
// ProcessBlockF unless they want to force a failure.
func (c *FakeChain) ProcessBlock(b *chain.Block, opts chain.ProcessOptions) error {
	if c.ProcessBlockF != nil {
		if err := c.ProcessBlockF(b, opts); err != nil {
			return err
		}
	}
	c.PutBlock(b)
	return nil
}

func (c *FakeChain) ArchiveMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.archive
}

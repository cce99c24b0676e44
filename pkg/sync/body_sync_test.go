package sync

import (
	"testing"
	"time"

	"github.com/dennisvanderpool/mwc-node/internal/fakechain"
	"github.com/dennisvanderpool/mwc-node/pkg/chain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func hashAt(h int) chain.Hash {
	var hash chain.Hash
	hash[0] = byte(h)
	hash[1] = byte(h >> 8)
	return hash
}

func TestBodySyncKicksThroughWaitingOrphan(t *testing.T) {
	fc := fakechain.New()
	for h := 0; h <= 10; h++ {
		fc.PutBlock(&chain.Block{Hash: hashAt(h), PrevHash: hashAt(h - 1), Height: chain.Height(h)})
	}
	orphan := &chain.Block{Hash: hashAt(11), PrevHash: hashAt(10), Height: 11}
	fc.PutHeader(orphan)
	fc.PutOrphan(orphan)
	require.True(t, fc.IsOrphan(hashAt(11)))

	bs := NewBodySync(DefaultBodySyncConfig(), zap.NewNop())
	sp := NewSyncPeers(nil)
	bs.Request(time.Now(), nil, fc, 0, sp)

	fp, err := fc.ForkPoint()
	require.NoError(t, err)
	require.Equal(t, chain.Height(11), fp.Height)
	require.False(t, fc.IsOrphan(hashAt(11)), "the orphan must be consumed once processed")
}

func TestBodySyncReadyWhenHeadMeetsHeaderHead(t *testing.T) {
	fc := fakechain.New()
	fc.PutBlock(&chain.Block{Hash: hashAt(5), Height: 5})

	bs := NewBodySync(DefaultBodySyncConfig(), zap.NewNop())
	resp := bs.Request(time.Now(), nil, fc, 0, NewSyncPeers(nil))
	require.Equal(t, BodyReady, resp)
}

func TestBodySyncWaitingForPeersWithoutQualifiedPeers(t *testing.T) {
	fc := fakechain.New()
	fc.PutBlock(&chain.Block{Hash: hashAt(0), Height: 0})
	fc.PutHeader(&chain.Block{Hash: hashAt(1), PrevHash: hashAt(0), Height: 1})

	bs := NewBodySync(DefaultBodySyncConfig(), zap.NewNop())
	resp := bs.Request(time.Now(), nil, fc, 0, NewSyncPeers(nil))
	require.Equal(t, WaitingForPeers, resp)
}

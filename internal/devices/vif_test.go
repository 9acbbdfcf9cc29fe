package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

func TestVIFAddRejectsUnknownNetworkKind(t *testing.T) {
	tree := xenstore.NewMock()
	mgr := NewVIFManager(tree, types.DomId(2))

	err := mgr.Add(context.Background(), "vif-1", types.VIFExtra{LogicalID: 0, MAC: "00:16:3e:00:00:01", Kind: "mystery"})
	require.Error(t, err)
}

func TestVIFAddAndReleaseRoundTrip(t *testing.T) {
	tree := xenstore.NewMock()
	mgr := NewVIFManager(tree, types.DomId(2))
	extra := types.VIFExtra{LogicalID: 0, MAC: "00:16:3e:00:00:01", Kind: string(NetworkBridge), Bridge: "xenbr0", MTU: 1500}

	require.NoError(t, mgr.Add(context.Background(), "vif-1", extra))

	mac, err := tree.Read(context.Background(), vifBackendPath(2, 0)+"/mac")
	require.NoError(t, err)
	require.Equal(t, "00:16:3e:00:00:01", mac)

	require.NoError(t, mgr.Release(context.Background(), extra))
	_, err = tree.Read(context.Background(), vifFrontendPath(2, 0)+"/state")
	require.ErrorIs(t, err, xenstore.ErrNotFound)
}

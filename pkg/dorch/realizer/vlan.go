package realizer

import (
	"context"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// VlanAllocator picks transport VLAN ids for inter-switch links. An id is
// usable on a link when no deployed flow with the same non-VLAN match
// already enters the downstream switch on that port with that tag; flows
// differing in any other match field can share a tag safely.
type VlanAllocator struct {
	store  *store.Store
	ranges []util.VlanRange
}

// NewVlanAllocator builds an allocator over the configured id ranges.
func NewVlanAllocator(st *store.Store, ranges []util.VlanRange) *VlanAllocator {
	return &VlanAllocator{store: st, ranges: ranges}
}

// FreeVlan returns a transport VLAN id usable on the link entering
// switchID through portIn for traffic matching m. A non-zero preferred id
// is kept when still free, so a path reuses one tag end to end whenever
// it can. Returns 0 with a nil error when every configured id is taken.
func (v *VlanAllocator) FreeVlan(ctx context.Context, switchID, portIn string, m *nffg.Match, preferred int) (int, error) {
	taken, err := v.store.BusyVlansOn(ctx, switchID, portIn, m)
	if err != nil {
		return 0, err
	}
	busy := make(map[int]bool, len(taken))
	for _, vid := range taken {
		busy[vid] = true
	}

	if preferred != 0 && util.VlanAllowed(v.ranges, preferred) && !busy[preferred] {
		return preferred, nil
	}
	for _, rng := range v.ranges {
		for vid := rng.Lo; vid <= rng.Hi; vid++ {
			if !busy[vid] {
				return vid, nil
			}
		}
	}
	return 0, nil
}

package server

import (
	"fmt"
	"sort"

	"github.com/davecgh/go-spew/spew"

	"github.com/blackcap/blackcap/cloud/cluster"
)

// clusterState is the scheduler's view of the registered execution
// backends. Load is read from each backend's Info() at decision time, so
// the state itself carries no counters to drift.
type clusterState struct {
	members map[string]cluster.Cluster
}

func newClusterState(clusters []cluster.Cluster) *clusterState {
	members := map[string]cluster.Cluster{}
	for _, c := range clusters {
		members[c.ID()] = c
	}
	return &clusterState{members: members}
}

func (cs *clusterState) get(clusterID string) (cluster.Cluster, bool) {
	c, ok := cs.members[clusterID]
	return c, ok
}

// candidates returns the clusters whose capability sets superset the
// required labels, ordered by current load ascending with cluster id as
// the tiebreak so selection is deterministic.
func (cs *clusterState) candidates(required []string) []cluster.Cluster {
	type loaded struct {
		c       cluster.Cluster
		running int
	}
	// Snapshot loads once so the sort sees a consistent view.
	eligible := []loaded{}
	for _, c := range cs.members {
		info := c.Info()
		if info.HasCapabilities(required) {
			eligible = append(eligible, loaded{c: c, running: info.Capacity.Running})
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].running != eligible[j].running {
			return eligible[i].running < eligible[j].running
		}
		return eligible[i].c.ID() < eligible[j].c.ID()
	})
	out := make([]cluster.Cluster, 0, len(eligible))
	for _, e := range eligible {
		out = append(out, e.c)
	}
	return out
}

func (cs *clusterState) String() string {
	infos := []string{}
	for _, c := range cs.members {
		infos = append(infos, spew.Sprintf("%v", c.Info()))
	}
	sort.Strings(infos)
	return fmt.Sprintf("clusterState%v", infos)
}

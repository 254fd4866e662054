package workflowengine

import (
	"github.com/orcaforge/fleet/config"
	"github.com/orcaforge/fleet/errs"
)

// Plan computes a topological order over wf's node graph using Kahn's
// algorithm. A non-DAG graph fails fast with KindInvalidWorkflow (spec
// §4.10's Plan step).
func Plan(wf *config.WorkflowConfig) ([]string, error) {
	indegree := make(map[string]int, len(wf.Nodes))
	dependents := make(map[string][]string, len(wf.Nodes))

	for _, n := range wf.Nodes {
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
	}
	for _, n := range wf.Nodes {
		for _, dep := range n.DependsOn {
			indegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var ready []string
	for _, n := range wf.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(wf.Nodes) {
		return nil, errs.New("workflowengine", "plan", errs.KindInvalidWorkflow,
			"workflow graph contains a cycle", nil)
	}
	return order, nil
}

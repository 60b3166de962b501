package engine

import (
	"github.com/flowmesh/flowmesh/pkg/types"
)

// AggregateMetrics sums token, cost, and latency figures over the executed
// prefix of a run. Nodes that never executed contribute nothing. The Agents
// list carries the per-node metrics in execution order.
func AggregateMetrics(executions []types.AgentExecution) *types.ExecutionMetrics {
	agg := &types.ExecutionMetrics{
		Agents: make([]types.AgentMetrics, 0, len(executions)),
	}
	for _, ae := range executions {
		agg.TotalTokens += ae.Metrics.TokensUsed
		agg.TotalCost += ae.Metrics.Cost
		agg.TotalLatencyMS += ae.Metrics.LatencyMS
		agg.Agents = append(agg.Agents, ae.Metrics)
	}
	return agg
}

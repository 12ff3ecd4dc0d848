package graph

import (
	"github.com/rudihinds/langgraph-agent-sub011/graph/governor"
	"github.com/rudihinds/langgraph-agent-sub011/graph/model"
)

// ChatUsage converts the token usage of one model call into governor
// deltas: prompt, completion and total tokens plus one API call.
//
//	out, err := llm.Chat(ctx, msgs, nil)
//	return graph.NodeResult[S]{Delta: d, Usage: graph.ChatUsage(out)}
func ChatUsage(out model.ChatOut) map[string]float64 {
	return map[string]float64{
		governor.ResourcePromptTokens:     float64(out.Usage.PromptTokens),
		governor.ResourceCompletionTokens: float64(out.Usage.CompletionTokens),
		governor.ResourceTokens:           float64(out.Usage.Total()),
		governor.ResourceAPICalls:         1,
	}
}

// MergeUsage adds every map in deltas into a new map.
func MergeUsage(deltas ...map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for _, d := range deltas {
		for k, v := range d {
			out[k] += v
		}
	}
	return out
}

package reduce

import (
	"os"
	"strconv"
	"strings"
)

// LimitsFromEnv reads the view caps from the environment.
//
//	GRAPHCHAT_GRAPH_MAX_NODES  (fallback LIGHTRAG_GRAPH_MAX_NODES, default 300)
//	GRAPHCHAT_GRAPH_MAX_EDGES  (fallback LIGHTRAG_GRAPH_MAX_EDGES, default 500)
//	GRAPHCHAT_GRAPH_UNBOUNDED  (true disables caps that are not set explicitly)
//
// Unparseable or non-positive values fall back to the default.
func LimitsFromEnv() Limits {
	unbounded, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("GRAPHCHAT_GRAPH_UNBOUNDED")))

	lim := DefaultLimits()
	if unbounded {
		lim = Limits{}
	}
	if n, ok := envLimit("GRAPHCHAT_GRAPH_MAX_NODES", "LIGHTRAG_GRAPH_MAX_NODES"); ok {
		lim.MaxNodes = n
	}
	if n, ok := envLimit("GRAPHCHAT_GRAPH_MAX_EDGES", "LIGHTRAG_GRAPH_MAX_EDGES"); ok {
		lim.MaxEdges = n
	}
	return lim
}

// envLimit returns the first positive integer found among keys.
func envLimit(keys ...string) (int, bool) {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

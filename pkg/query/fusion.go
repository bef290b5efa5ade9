package query

import (
	"sort"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// StrategyResult is the ranked output of one retrieval strategy.
type StrategyResult struct {
	Strategy string
	Weight   float64
	Chunks   []common.ScoredChunk
}

type fusedEntry struct {
	chunk      common.Chunk
	score      float64
	bestRaw    float64
	tieRank    int
	strategies []string
}

// Fuse merges strategy results with relative score fusion. Each strategy's
// raw scores are min-max rescaled to [0,1] (a list of equal scores maps to
// 1 when positive, else 0), weighted, and summed per chunk ID. The result
// is sorted by fused score, then by the chunk's rank in the strategy where
// its raw score was highest, then by chunk ID, and truncated to topK.
func Fuse(results []StrategyResult, topK int) []common.ScoredChunk {
	weights := normalizeWeights(results)
	entries := make(map[string]*fusedEntry)

	for si, res := range results {
		if len(res.Chunks) == 0 {
			continue
		}
		lo, hi := res.Chunks[0].Score, res.Chunks[0].Score
		for _, c := range res.Chunks[1:] {
			lo = min(lo, c.Score)
			hi = max(hi, c.Score)
		}

		seen := make(map[string]bool, len(res.Chunks))
		for pos, c := range res.Chunks {
			if seen[c.Chunk.ID] {
				continue
			}
			seen[c.Chunk.ID] = true

			norm := 0.0
			switch {
			case hi > lo:
				norm = (c.Score - lo) / (hi - lo)
			case c.Score > 0:
				norm = 1
			}

			rank := c.Rank
			if rank <= 0 {
				rank = pos + 1
			}

			e, ok := entries[c.Chunk.ID]
			if !ok {
				e = &fusedEntry{chunk: c.Chunk, bestRaw: c.Score, tieRank: rank}
				entries[c.Chunk.ID] = e
			} else if c.Score > e.bestRaw {
				e.bestRaw = c.Score
				e.tieRank = rank
			}
			if e.chunk.Embedding == nil && c.Chunk.Embedding != nil {
				e.chunk.Embedding = c.Chunk.Embedding
			}
			e.score += weights[si] * norm
			e.strategies = append(e.strategies, res.Strategy)
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		e.score = min(max(e.score, 0), 1)
		fused = append(fused, e)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].tieRank != fused[j].tieRank {
			return fused[i].tieRank < fused[j].tieRank
		}
		return fused[i].chunk.ID < fused[j].chunk.ID
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}

	out := make([]common.ScoredChunk, len(fused))
	for i, e := range fused {
		sort.Strings(e.strategies)
		out[i] = common.ScoredChunk{
			Chunk:    e.chunk,
			Score:    e.score,
			Strategy: strings.Join(e.strategies, "+"),
			Rank:     i + 1,
		}
	}
	return out
}

// normalizeWeights scales non-negative weights to sum to one. When no
// strategy has a positive weight all strategies count equally.
func normalizeWeights(results []StrategyResult) []float64 {
	weights := make([]float64, len(results))
	total := 0.0
	for i, r := range results {
		weights[i] = max(r.Weight, 0)
		total += weights[i]
	}
	for i := range weights {
		if total == 0 {
			weights[i] = 1 / float64(len(results))
		} else {
			weights[i] /= total
		}
	}
	return weights
}

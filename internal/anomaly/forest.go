package anomaly

import (
	"math"
	"math/rand/v2"
	"sort"
)

const (
	maxSampleSize = 256
	eulerGamma    = 0.5772156649
)

// treeNode is one node of an isolation tree stored in a flat slice. Leaves
// record how many training samples reached them.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Size      int
	Leaf      bool
}

type isolationTree struct {
	Nodes []treeNode
}

// isolationForest follows the Liu, Ting & Zhou construction: each tree is
// grown on a subsample without replacement by random axis-aligned splits
// until points are isolated, all values coincide or the depth limit is hit.
type isolationForest struct {
	Trees      []isolationTree
	SampleSize int
	Offset     float64
}

func fitForest(x [][]float64, estimators int, contamination float64, seed uint64) *isolationForest {
	rng := rand.New(rand.NewPCG(seed, 0))

	n := len(x)
	psi := min(maxSampleSize, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &isolationForest{SampleSize: psi, Trees: make([]isolationTree, estimators)}
	for t := range f.Trees {
		perm := rng.Perm(n)
		sample := make([][]float64, psi)
		for i := 0; i < psi; i++ {
			sample[i] = x[perm[i]]
		}
		tree := isolationTree{}
		tree.grow(sample, 0, maxDepth, rng)
		f.Trees[t] = tree
	}

	scores := make([]float64, n)
	for i, row := range x {
		scores[i] = f.scoreSample(row)
	}
	f.Offset = percentile(scores, 100*contamination)
	return f
}

func (t *isolationTree) grow(rows [][]float64, depth, maxDepth int, rng *rand.Rand) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Size: len(rows)})

	if depth >= maxDepth || len(rows) <= 1 {
		t.Nodes[idx].Leaf = true
		return idx
	}

	var candidates []int
	for j := range rows[0] {
		lo, hi := columnRange(rows, j)
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		t.Nodes[idx].Leaf = true
		return idx
	}

	feature := candidates[rng.IntN(len(candidates))]
	lo, hi := columnRange(rows, feature)
	threshold := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	t.Nodes[idx].Feature = feature
	t.Nodes[idx].Threshold = threshold
	l := t.grow(left, depth+1, maxDepth, rng)
	r := t.grow(right, depth+1, maxDepth, rng)
	t.Nodes[idx].Left = l
	t.Nodes[idx].Right = r
	return idx
}

func (t *isolationTree) pathLength(x []float64) float64 {
	depth := 0
	node := t.Nodes[0]
	for !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = t.Nodes[node.Left]
		} else {
			node = t.Nodes[node.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.Size)
}

// scoreSample is the negated anomaly score: values near -1 are anomalous,
// values near -0.5 or above are normal.
func (f *isolationForest) scoreSample(x []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// decision is negative for outliers, given the contamination the forest was fitted with.
func (f *isolationForest) decision(x []float64) float64 {
	return f.scoreSample(x) - f.Offset
}

// averagePathLength is c(n), the mean depth of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n)
	return 2*(math.Log(m-1)+eulerGamma) - 2*(m-1)/m
}

func columnRange(rows [][]float64, j int) (float64, float64) {
	lo, hi := rows[0][j], rows[0][j]
	for _, row := range rows[1:] {
		lo = math.Min(lo, row[j])
		hi = math.Max(hi, row[j])
	}
	return lo, hi
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := min(lower+1, len(sorted)-1)
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

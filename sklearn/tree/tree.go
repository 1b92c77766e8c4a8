// Package tree implements a CART decision tree classifier.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// leafNode marks a node without children.
const leafNode = -1

// Node is one node of a fitted tree. Nodes live in a flat slice so the tree
// gob-encodes without recursion.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Impurity  float64
	NSamples  int
	// Value holds the class distribution of the node, normalized to sum to 1.
	Value []float64
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return n.Left == leafNode }

// DecisionTreeClassifier is a CART classifier compatible with scikit-learn's
// DecisionTreeClassifier.
type DecisionTreeClassifier struct {
	State *model.StateManager

	// Hyperparameters
	Criterion       string // "gini" or "entropy"
	MaxDepth        int    // <= 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int   // features considered per split, <= 0 means all
	RandomState     int64 // negative for a random source

	// Fitted state
	Nodes       []Node
	ClassList   []int
	NClasses    int
	NFeatures   int
	Importances []float64
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates an unfitted tree.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		State:           model.NewStateManager(),
		Criterion:       "gini",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		RandomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity criterion.
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.Criterion = criterion }
}

// WithMaxDepth limits the depth of the tree.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets how many randomly chosen features each split considers.
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxFeatures = n }
}

// WithRandomState sets the random seed used for feature sampling.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.RandomState = seed }
}

func (dt *DecisionTreeClassifier) validate() error {
	if dt.Criterion != "gini" && dt.Criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.Criterion)
	}
	if dt.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.MinSamplesSplit)
	}
	if dt.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.MinSamplesLeaf)
	}
	return nil
}

// builder carries the per-Fit working state.
type builder struct {
	dt      *DecisionTreeClassifier
	X       mat.Matrix
	labels  []int // class index per sample
	nTotal  float64
	rng     *rand.Rand
	feats   []int
	scratch []int
}

// Fit grows the tree on X and integer class labels y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	if err := dt.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "empty training data")
	}
	if nSamples != yRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "y must be a column vector")
	}
	for i := 0; i < nSamples; i++ {
		for j := 0; j < nFeatures; j++ {
			if math.IsNaN(X.At(i, j)) {
				return errors.NewValueError("DecisionTreeClassifier.Fit", "input contains NaN")
			}
		}
	}

	dt.extractClasses(y)
	classIndex := make(map[int]int, dt.NClasses)
	for i, c := range dt.ClassList {
		classIndex[c] = i
	}

	seed := dt.RandomState
	if seed < 0 {
		seed = rand.Int63()
	}
	b := &builder{
		dt:     dt,
		X:      X,
		labels: make([]int, nSamples),
		nTotal: float64(nSamples),
		rng:    rand.New(rand.NewSource(seed)),
		feats:  make([]int, nFeatures),
	}
	for i := 0; i < nSamples; i++ {
		b.labels[i] = classIndex[int(y.At(i, 0))]
	}
	for j := range b.feats {
		b.feats[j] = j
	}

	dt.NFeatures = nFeatures
	dt.Nodes = dt.Nodes[:0]
	dt.Importances = make([]float64, nFeatures)

	samples := make([]int, nSamples)
	for i := range samples {
		samples[i] = i
	}
	b.grow(samples, 0)

	var total float64
	for _, v := range dt.Importances {
		total += v
	}
	if total > 0 {
		for j := range dt.Importances {
			dt.Importances[j] /= total
		}
	}

	dt.State.SetDimensions(nFeatures, nSamples)
	dt.State.SetFitted()
	return nil
}

func (dt *DecisionTreeClassifier) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = true
	}
	dt.ClassList = dt.ClassList[:0]
	for c := range seen {
		dt.ClassList = append(dt.ClassList, c)
	}
	sort.Ints(dt.ClassList)
	dt.NClasses = len(dt.ClassList)
}

func (b *builder) counts(samples []int) []float64 {
	counts := make([]float64, b.dt.NClasses)
	for _, s := range samples {
		counts[b.labels[s]]++
	}
	return counts
}

func (b *builder) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var out float64
	switch b.dt.Criterion {
	case "entropy":
		for _, c := range counts {
			if c > 0 {
				p := c / n
				out -= p * math.Log2(p)
			}
		}
	default:
		out = 1
		for _, c := range counts {
			p := c / n
			out -= p * p
		}
	}
	return out
}

// grow appends the subtree for samples and returns its node index.
func (b *builder) grow(samples []int, depth int) int {
	dt := b.dt
	counts := b.counts(samples)
	n := float64(len(samples))
	imp := b.impurity(counts, n)

	value := make([]float64, len(counts))
	for i, c := range counts {
		value[i] = c / n
	}
	idx := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, Node{
		Feature:  leafNode,
		Left:     leafNode,
		Right:    leafNode,
		Impurity: imp,
		NSamples: len(samples),
		Value:    value,
	})

	if imp <= 1e-12 ||
		len(samples) < dt.MinSamplesSplit ||
		len(samples) < 2*dt.MinSamplesLeaf ||
		(dt.MaxDepth > 0 && depth >= dt.MaxDepth) {
		return idx
	}

	feature, threshold, found := b.bestSplit(samples, counts)
	if !found {
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.X.At(s, feature) <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	leftCounts := b.counts(left)
	rightCounts := b.counts(right)
	nl, nr := float64(len(left)), float64(len(right))
	decrease := n*imp - nl*b.impurity(leftCounts, nl) - nr*b.impurity(rightCounts, nr)
	dt.Importances[feature] += decrease / b.nTotal

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	dt.Nodes[idx].Feature = feature
	dt.Nodes[idx].Threshold = threshold
	dt.Nodes[idx].Left = l
	dt.Nodes[idx].Right = r
	return idx
}

// candidateFeatures returns all features, or a random subset when MaxFeatures is set.
func (b *builder) candidateFeatures() []int {
	k := b.dt.MaxFeatures
	if k <= 0 || k >= len(b.feats) {
		return b.feats
	}
	perm := b.rng.Perm(len(b.feats))
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = b.feats[perm[i]]
	}
	sort.Ints(out)
	return out
}

// bestSplit scans every midpoint between distinct sorted values and keeps the
// split with the lowest weighted child impurity. A split that does not lower
// impurity is still taken so XOR-like structure can be learned deeper down.
func (b *builder) bestSplit(samples []int, parentCounts []float64) (int, float64, bool) {
	minLeaf := b.dt.MinSamplesLeaf
	n := len(samples)
	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	if cap(b.scratch) < n {
		b.scratch = make([]int, n)
	}
	order := b.scratch[:n]

	for _, f := range b.candidateFeatures() {
		copy(order, samples)
		sort.Slice(order, func(i, j int) bool {
			return b.X.At(order[i], f) < b.X.At(order[j], f)
		})

		left := make([]float64, len(parentCounts))
		right := append([]float64(nil), parentCounts...)
		for i := 0; i < n-1; i++ {
			c := b.labels[order[i]]
			left[c]++
			right[c]--

			nl := i + 1
			if nl < minLeaf || n-nl < minLeaf {
				continue
			}
			xi, xn := b.X.At(order[i], f), b.X.At(order[i+1], f)
			if xi == xn {
				continue
			}
			score := float64(nl)*b.impurity(left, float64(nl)) +
				float64(n-nl)*b.impurity(right, float64(n-nl))
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = xi + (xn-xi)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (dt *DecisionTreeClassifier) check(op string, X mat.Matrix) error {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", op); err != nil {
		return err
	}
	_, c := X.Dims()
	return dt.State.CheckFeatures("DecisionTreeClassifier."+op, c)
}

func (dt *DecisionTreeClassifier) leaf(X mat.Matrix, i int) Node {
	node := dt.Nodes[0]
	for !node.IsLeaf() {
		if X.At(i, node.Feature) <= node.Threshold {
			node = dt.Nodes[node.Left]
		} else {
			node = dt.Nodes[node.Right]
		}
	}
	return node
}

// PredictProba returns the class distribution of the leaf each sample falls
// into, columns in Classes() order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.check("PredictProba", X); err != nil {
		return nil, err
	}
	rows, _ := X.Dims()
	out := mat.NewDense(rows, dt.NClasses, nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, dt.leaf(X, i).Value)
	}
	return out, nil
}

// Predict returns the majority class of each sample's leaf.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.check("Predict", X); err != nil {
		return nil, err
	}
	rows, _ := X.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		value := dt.leaf(X, i).Value
		best := 0
		for c := 1; c < len(value); c++ {
			if value[c] > value[best] {
				best = c
			}
		}
		out.Set(i, 0, float64(dt.ClassList[best]))
	}
	return out, nil
}

// Score returns the mean accuracy.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyMatrix(y, pred)
}

// Classes returns the sorted class labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.ClassList...)
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.State.IsFitted() }

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.Importances...)
}

// GetDepth returns the depth of the fitted tree. A single leaf has depth 0.
func (dt *DecisionTreeClassifier) GetDepth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var depth func(i int) int
	depth = func(i int) int {
		n := dt.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		l, r := depth(n.Left), depth(n.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return depth(0)
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for _, n := range dt.Nodes {
		if n.IsLeaf() {
			leaves++
		}
	}
	return leaves
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"max_depth":         dt.MaxDepth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures,
		"random_state":      dt.RandomState,
	}
}

// SetParams updates hyperparameters by name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			dt.Criterion, err = model.ParamString(key, value)
		case "max_depth":
			dt.MaxDepth, err = model.ParamInt(key, value)
		case "min_samples_split":
			dt.MinSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			dt.MinSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			dt.MaxFeatures, err = model.ParamInt(key, value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			dt.RandomState = int64(seed)
		default:
			return errors.NewValidationError(key, "unknown parameter for DecisionTreeClassifier", value)
		}
		if err != nil {
			return err
		}
	}
	return dt.validate()
}

func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, min_samples_split=%d, min_samples_leaf=%d)",
		dt.Criterion, dt.MaxDepth, dt.MinSamplesSplit, dt.MinSamplesLeaf)
}

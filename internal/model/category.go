package model

import "sort"

// CategoryProbability is the predicted probability of a single category.
type CategoryProbability struct {
	Category    string  `json:"category"`
	Probability float64 `json:"probability"`
	Index       int     `json:"-"`
}

// CategoryProbabilities supports sorting by probability with a stable class-index tie-break.
type CategoryProbabilities []CategoryProbability

// Len implements sort.Interface.
func (p CategoryProbabilities) Len() int {
	return len(p)
}

// Less implements sort.Interface - higher probabilities come first.
func (p CategoryProbabilities) Less(i, j int) bool {
	if p[i].Probability != p[j].Probability {
		return p[i].Probability > p[j].Probability
	}
	return p[i].Index < p[j].Index
}

// Swap implements sort.Interface.
func (p CategoryProbabilities) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
}

// Sort sorts the probabilities in descending order.
func (p CategoryProbabilities) Sort() {
	sort.Sort(p)
}

// TopN returns the N most likely categories.
func (p CategoryProbabilities) TopN(n int) CategoryProbabilities {
	if n <= 0 {
		return CategoryProbabilities{}
	}

	p.Sort()

	if n > len(p) {
		n = len(p)
	}

	result := make(CategoryProbabilities, n)
	copy(result, p[:n])
	return result
}

// CategoryExplanation lists the evidence behind a category prediction.
type CategoryExplanation struct {
	Notes       string   `json:"notes"`
	TopTokens   []string `json:"topTokens"`
	TopFeatures []string `json:"topFeatures"`
}

// CategoryPrediction is the classifier output for one record.
type CategoryPrediction struct {
	Chosen     string                `json:"chosen"`
	Why        CategoryExplanation   `json:"why"`
	Top        CategoryProbabilities `json:"top"`
	Confidence float64               `json:"confidence"`
}

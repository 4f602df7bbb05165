package model

// MerchantCandidate is one canonical merchant considered for a raw string.
type MerchantCandidate struct {
	Canonical string  `json:"canonical"`
	Score     float64 `json:"score"`
}

// MerchantMatch is a search hit with the tokens shared between query and canonical name.
type MerchantMatch struct {
	Canonical     string   `json:"canonical"`
	MatchedTokens []string `json:"matchedTokens"`
	Score         float64  `json:"score"`
}

// MerchantExplanation describes why a canonical name was (or was not) chosen.
type MerchantExplanation struct {
	Notes         string   `json:"notes"`
	MatchedTokens []string `json:"matchedTokens"`
}

// MerchantResult is the outcome of normalising one raw merchant string.
// Matched is false when Canonical is the normalised raw input rather than an index entry.
type MerchantResult struct {
	Canonical  string              `json:"canonical"`
	Why        MerchantExplanation `json:"why"`
	Candidates []MerchantCandidate `json:"candidates"`
	Score      float64             `json:"score"`
	Matched    bool                `json:"matched"`
}

package service

type Config struct {
	// SimilarityThreshold is the minimum fuzzy-name score for a match.
	SimilarityThreshold float64
	// AmbiguityMargin: a runner-up within this margin of the best candidate
	// makes the match ambiguous, and ambiguous means no match.
	AmbiguityMargin float64
	// DuplicateThreshold is the lower bound for surfacing near-match
	// candidates when duplicate detection is on.
	DuplicateThreshold float64
	// CandidateLimit bounds how many recent parties are scored per lookup.
	CandidateLimit int
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.AmbiguityMargin <= 0 {
		c.AmbiguityMargin = 0.05
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 0.7
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 50
	}
	return c
}

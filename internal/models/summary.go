package models

// RelabelPattern counts how often reviewers moved samples from one label to another.
type RelabelPattern struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// PassSummary aggregates the results of one review pass.
type PassSummary struct {
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Cached     int              `json:"cached"`
	Verdicts   map[Verdict]int  `json:"verdicts"`
	Relabels   []RelabelPattern `json:"relabels,omitempty"`
	TokensUsed int              `json:"tokens_used"`
}

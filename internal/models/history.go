package models

import "time"

// ReviewRecord is a persisted review together with the pass that produced it.
type ReviewRecord struct {
	PassID    string       `json:"pass_id"`
	Mode      AgentMode    `json:"mode"`
	CreatedAt time.Time    `json:"created_at"`
	Result    ReviewResult `json:"result"`
}

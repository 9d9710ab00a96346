package domain

// Submission is one inbound verification request linking a member identity
// to a device fingerprint and a network address.
type Submission struct {
	GuildID   string   `json:"guild_id"`
	UserID    string   `json:"user_id"`
	HWID      string   `json:"hwid"`
	IP        string   `json:"ip"`
	UserAgent string   `json:"user_agent,omitempty"`
	Signals   []string `json:"signals,omitempty"`
}

// Outcome is the terminal state of a pipeline run.
type Outcome string

const (
	OutcomeDone                Outcome = "done"
	OutcomeRejectedNotAMember  Outcome = "rejected_not_a_member"
	OutcomeRejectedBlacklisted Outcome = "rejected_blacklisted"
	OutcomeFlaggedDuplicate    Outcome = "flagged_duplicate_hwid"
	OutcomeFlaggedRisk         Outcome = "flagged_risk"
)

// Result reports a completed pipeline run. ActuationFailed is set when the
// decision was recorded but a platform side effect could not be applied.
type Result struct {
	Outcome         Outcome
	DuplicateOf     []string
	RiskReasons     []string
	RiskConfidence  float64
	AutoBlacklisted bool
	ActuationFailed bool
}

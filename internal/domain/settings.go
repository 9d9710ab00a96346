package domain

// Settings is the runtime guild configuration document. Zero values mean
// "not configured"; the pipeline skips role actions whose role id is unset.
type Settings struct {
	VerificationChannel   string  `json:"verification_channel,omitempty"`
	VerificationWebsite   string  `json:"verification_website,omitempty"`
	VerificationRole      string  `json:"verification_role,omitempty"`
	UnverifiedRole        string  `json:"unverified_role,omitempty"`
	MuteRole              string  `json:"mute_role,omitempty"`
	StaffRole             string  `json:"staff_role,omitempty"`
	LogChannel            string  `json:"log_channel,omitempty"`
	AutoroleEnabled       bool    `json:"autorole_enabled"`
	AutoroleRole          string  `json:"autorole_role,omitempty"`
	AutoUnverifiedEnabled bool    `json:"auto_unverified_enabled"`
	MaxFailedAttempts     int     `json:"max_failed_attempts"`
	AutoBlacklistEnabled  bool    `json:"auto_blacklist_enabled"`
	RiskThreshold         float64 `json:"risk_threshold"`
	InviteTrackingEnabled bool    `json:"invite_tracking_enabled"`
	InviteTrackingChannel string  `json:"invite_tracking_channel,omitempty"`
	DataRetentionDays     int     `json:"data_retention_days"`
}

// DefaultSettings mirrors the documented defaults: three failed attempts
// before auto-blacklist, 0.5 risk threshold, 90 day retention.
func DefaultSettings() Settings {
	return Settings{
		AutoUnverifiedEnabled: true,
		MaxFailedAttempts:     3,
		AutoBlacklistEnabled:  true,
		RiskThreshold:         0.5,
		DataRetentionDays:     90,
	}
}

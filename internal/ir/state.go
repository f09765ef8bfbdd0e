package ir

import "time"

// Record is the durable ledger entry for one applied instance. It is
// created on the first successful apply, rewritten on every later
// successful apply, and removed on successful destroy.
type Record struct {
	Key        string         `json:"key"`
	Type       string         `json:"type"`
	Provider   string         `json:"provider"`
	ProviderID string         `json:"providerId"`
	Attributes map[string]any `json:"attributes"`

	// Dependencies records the instance keys this instance depended on
	// when applied, so removed resources can still be destroyed in
	// reverse dependency order.
	Dependencies []string `json:"dependencies,omitempty"`

	LastAppliedAt time.Time `json:"lastAppliedAt"`
}

// Package contentrules compiles tracker entries into a WebKit-style content
// blocker rule document.
package contentrules

// Document is an ordered list of content blocker rules.
type Document []Rule

// Rule pairs a trigger with the action to take when it fires.
type Rule struct {
	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
}

// Trigger defines when a rule applies.
type Trigger struct {
	URLFilter    string   `json:"url-filter"`
	LoadType     []string `json:"load-type,omitempty"`
	UnlessDomain []string `json:"unless-domain,omitempty"`
	IfDomain     []string `json:"if-domain,omitempty"`
}

// Action defines what happens when a rule matches.
type Action struct {
	Type string `json:"type"`
}

// Action types
const (
	ActionBlock               = "block"
	ActionIgnorePreviousRules = "ignore-previous-rules"
)

// Load types
const (
	LoadTypeThirdParty = "third-party"
)

// matchAll is the url-filter used by exception rules.
const matchAll = ".*"

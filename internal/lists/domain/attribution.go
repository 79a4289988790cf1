package domain

// AttributionToken is an attribution-token record: an opaque token and the
// optional domain it was issued for.
type AttributionToken struct {
	Token  string `json:"token"`
	Domain string `json:"domain,omitempty"`
}

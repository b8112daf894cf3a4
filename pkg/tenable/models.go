package tenable

// RawEvent is one audit-log event as returned by the API. The poller relies
// on "received" and optionally "fields"; everything else passes through.
type RawEvent map[string]any

// EventsPage is the decoded body of one events response
type EventsPage struct {
	Events     []RawEvent `json:"events"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes the server-side result set
type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

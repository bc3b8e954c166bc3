package jgrants

// Query holds the search parameters accepted by the public subsidies
// endpoint. Keyword is required and must be at least 2 characters.
type Query struct {
	Keyword    string
	Sort       string // created_date | acceptance_start_datetime | acceptance_end_datetime
	Order      string // ASC | DESC
	Acceptance string // "0" = all, "1" = currently accepting

	// Optional facets, passed through verbatim when non-empty.
	UsePurpose      string
	Industry        string
	TargetArea      string
	TargetEmployees string
}

// envelope is the response wrapper used by the public API.
type envelope struct {
	Metadata struct {
		Type      string `json:"type"`
		ResultSet struct {
			Count int `json:"count"`
		} `json:"resultset"`
	} `json:"metadata"`
	// Upstream deployments disagree on the payload key; older ones used
	// "subsidies"/"items". All three are raw objects with renamed fields,
	// resolved by normalize.go.
	Result    []map[string]any `json:"result"`
	Subsidies []map[string]any `json:"subsidies"`
	Items     []map[string]any `json:"items"`
}

func (e *envelope) records() []map[string]any {
	switch {
	case len(e.Result) > 0:
		return e.Result
	case len(e.Subsidies) > 0:
		return e.Subsidies
	default:
		return e.Items
	}
}

// HealthInfo is the result of a connectivity probe against the source.
type HealthInfo struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
	ResultCount int    `json:"result_count"`
}

package privacy

import "time"

// Match is one detected PII span and the placeholder that replaces it.
// Start and End are byte offsets into the string the match came from.
type Match struct {
	Category    Category `json:"category"`
	Original    string   `json:"original"`
	Placeholder string   `json:"placeholder"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Confidence  float64  `json:"confidence"`
	// Path locates the string leaf for matches found in structured data.
	Path string `json:"path,omitempty"`
	// Scalar is "number" or "bool" when the placeholder replaced a
	// non-string leaf under a direct-identifier key. Restoring a leaf that
	// is exactly the placeholder brings that type back.
	Scalar string `json:"scalar,omitempty"`
}

// Stats summarises the mappings of a Result.
type Stats struct {
	TotalCount      int            `json:"total_count"`
	CountByCategory map[string]int `json:"count_by_category"`
}

// Result is the outcome of one anonymization call. It is created fresh per
// call and only lives for one external AI round trip.
type Result struct {
	AnonymizedText string    `json:"anonymized_text"`
	Mappings       []Match   `json:"mappings"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Stats          Stats     `json:"stats"`
}

func computeStats(mappings []Match) Stats {
	stats := Stats{
		TotalCount:      len(mappings),
		CountByCategory: make(map[string]int),
	}
	for _, m := range mappings {
		stats.CountByCategory[m.Category.Label()]++
	}
	return stats
}

// Finding is a detection without its original value, safe to log or return
// to callers that must not see PII.
type Finding struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Preview    string   `json:"preview"`
	Confidence float64  `json:"confidence"`
}

// DetectionSummary reports what a text contains without anonymizing it.
type DetectionSummary struct {
	TotalCount      int            `json:"total_count"`
	CountByCategory map[string]int `json:"count_by_category"`
	Findings        []Finding      `json:"findings"`
}

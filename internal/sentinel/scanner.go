package sentinel

// Package sentinel inspects operation payloads (shell commands, file content)
// for known-dangerous patterns and heuristics before the policy gate decides
// whether an operation may proceed.

import "regexp"

// Level is the ordinal severity of a threat match.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank returns the ordinal position of the level (low < medium < high < critical).
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// Match is a single catalogue or heuristic hit.
type Match struct {
	PatternID   string `json:"pattern_id"`
	Level       Level  `json:"level"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
}

// Report is the immutable result of scanning one content string.
type Report struct {
	Detected bool    `json:"detected"`
	Matches  []Match `json:"matches"`
	MaxLevel Level   `json:"max_level"`
	Score    int     `json:"score"`
}

const (
	// snippetLimit bounds how much matched text is carried in a report so
	// secret-looking content is never re-exfiltrated through logs.
	snippetLimit = 20

	// payloadRunThreshold is the minimum contiguous base64-alphabet run
	// length that is flagged as a suspected encoded payload.
	payloadRunThreshold = 100

	// payloadRunHighThreshold promotes a suspected payload to high severity.
	payloadRunHighThreshold = 256
)

// lineContinuation matches a backslash escape immediately followed by a
// newline. Joining these first prevents multi-line wrapping from defeating
// single-line pattern matching.
var lineContinuation = regexp.MustCompile(`\\\r?\n\s*`)

// base64Run matches contiguous base64-alphabet runs of at least
// payloadRunThreshold characters.
var base64Run = regexp.MustCompile(`[A-Za-z0-9+/=]{100,}`)

// Scanner is a stateless pattern and heuristic matcher. Scan is deterministic
// for a given input and safe for concurrent use.
type Scanner struct{}

// New returns a Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan inspects content and returns a threat report. Empty input yields an
// empty, undetected report.
func (s *Scanner) Scan(content string) Report {
	report := Report{
		Matches:  []Match{},
		MaxLevel: LevelLow,
	}
	if content == "" {
		return report
	}

	normalized := normalize(content)

	for _, p := range catalogue {
		loc := p.re.FindString(normalized)
		if loc == "" {
			continue
		}
		report.Matches = append(report.Matches, Match{
			PatternID:   p.id,
			Level:       p.level,
			Description: p.description,
			Snippet:     truncateSnippet(loc),
		})
		report.Score += p.weight
	}

	// Heuristic: long contiguous base64-alphabet runs are suspected encoded
	// payloads even when no catalogue pattern fires.
	for _, run := range base64Run.FindAllString(normalized, -1) {
		level := LevelMedium
		weight := weightMedium
		if len(run) >= payloadRunHighThreshold {
			level = LevelHigh
			weight = weightHigh
		}
		report.Matches = append(report.Matches, Match{
			PatternID:   "suspected_payload",
			Level:       level,
			Description: "Long base64-alphabet run, suspected encoded payload",
			Snippet:     truncateSnippet(run),
		})
		report.Score += weight
	}

	report.Detected = len(report.Matches) > 0
	for _, m := range report.Matches {
		if m.Level.Rank() > report.MaxLevel.Rank() {
			report.MaxLevel = m.Level
		}
	}
	if report.Score > 100 {
		report.Score = 100
	}
	return report
}

// normalize joins escaped line continuations so a command wrapped across
// physical lines is matched as a single logical line.
func normalize(content string) string {
	return lineContinuation.ReplaceAllString(content, "")
}

// truncateSnippet bounds matched text to snippetLimit characters, appending
// an ellipsis marker when content was dropped.
func truncateSnippet(s string) string {
	if len(s) <= snippetLimit {
		return s
	}
	return s[:snippetLimit] + "..."
}

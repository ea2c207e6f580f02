package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/aeonsage/aeonsage/internal/sentinel"
)

// RiskLevel is the ordinal risk classification of a gate.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the ordinal position of the risk level.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

func (r RiskLevel) valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Action is a gate's default decision for matching operations.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
	ActionAsk     Action = "ask"
)

func (a Action) valid() bool {
	switch a {
	case ActionApprove, ActionDeny, ActionAsk:
		return true
	}
	return false
}

// AuthMethod is the out-of-band authentication strength required to resolve
// an "ask" decision.
type AuthMethod string

const (
	AuthPin       AuthMethod = "pin"
	AuthTotp      AuthMethod = "totp"
	AuthBiometric AuthMethod = "biometric"
)

// AuthForRisk maps a risk level to the required authentication strength.
func AuthForRisk(r RiskLevel) AuthMethod {
	switch r {
	case RiskCritical:
		return AuthBiometric
	case RiskHigh:
		return AuthTotp
	default:
		return AuthPin
	}
}

// Gate is a named policy rule mapping operation-name patterns to a risk level
// and a default action.
type Gate struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Enabled       bool      `json:"enabled"`
	DefaultAction Action    `json:"default_action"`
	Patterns      []string  `json:"patterns"`
}

// Matches reports whether any of the gate's patterns is a substring of the
// normalized operation name. Disabled gates never match.
func (g *Gate) Matches(normalizedOp string) bool {
	if !g.Enabled {
		return false
	}
	for _, p := range g.Patterns {
		if p != "" && strings.Contains(normalizedOp, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (g *Gate) validate() error {
	if g.ID == "" {
		return fmt.Errorf("gate id is required")
	}
	if !g.RiskLevel.valid() {
		return fmt.Errorf("gate %s: invalid risk level %q", g.ID, g.RiskLevel)
	}
	if !g.DefaultAction.valid() {
		return fmt.Errorf("gate %s: invalid default action %q", g.ID, g.DefaultAction)
	}
	return nil
}

// Context carries the scannable payload of an operation. Callers pass
// whatever text is relevant; an empty context simply skips threat scanning.
type Context struct {
	Command     string         `json:"command,omitempty"`
	FileContent string         `json:"file_content,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// scannable returns the concatenated text to feed to the threat scanner,
// or "" when there is nothing to scan.
func (c *Context) scannable() string {
	if c == nil {
		return ""
	}
	switch {
	case c.Command != "" && c.FileContent != "":
		return c.Command + "\n" + c.FileContent
	case c.Command != "":
		return c.Command
	default:
		return c.FileContent
	}
}

// CheckResult is the outcome of a single authorization check.
type CheckResult struct {
	Allowed      bool             `json:"allowed"`
	Gate         *Gate            `json:"gate,omitempty"`
	RequiresAuth AuthMethod       `json:"requires_auth,omitempty"`
	Message      string           `json:"message,omitempty"`
	Threat       *sentinel.Report `json:"threat_report,omitempty"`
}

// GateUpdate is a partial gate mutation; nil fields are left unchanged.
type GateUpdate struct {
	Name          *string    `json:"name,omitempty"`
	Description   *string    `json:"description,omitempty"`
	RiskLevel     *RiskLevel `json:"risk_level,omitempty"`
	Enabled       *bool      `json:"enabled,omitempty"`
	DefaultAction *Action    `json:"default_action,omitempty"`
	Patterns      *[]string  `json:"patterns,omitempty"`
}

// DecisionRecord is the persisted trace of one authorization check.
type DecisionRecord struct {
	Operation    string     `json:"operation"`
	GateID       string     `json:"gate_id"`
	Allowed      bool       `json:"allowed"`
	RequiresAuth AuthMethod `json:"requires_auth,omitempty"`
	ThreatLevel  string     `json:"threat_level,omitempty"`
	ThreatScore  int        `json:"threat_score"`
	Message      string     `json:"message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ApprovalEvent is the persisted trace of one approval lifecycle transition.
type ApprovalEvent struct {
	RequestID string         `json:"request_id"`
	GateID    string         `json:"gate_id"`
	Operation string         `json:"operation"`
	Status    ApprovalStatus `json:"status"`
	Actor     string         `json:"actor,omitempty"`
	Method    AuthMethod     `json:"method,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

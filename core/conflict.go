package core

import "time"

// ConflictType classifies how a conflict arose.
type ConflictType string

const (
	// ConflictConcurrentModification covers two writers racing on a context key.
	ConflictConcurrentModification ConflictType = "concurrent-modification"
	// ConflictVersionMismatch covers stale expected versions.
	ConflictVersionMismatch ConflictType = "version-mismatch"
	// ConflictDataCorruption covers checksum mismatches; always critical.
	ConflictDataCorruption ConflictType = "data-corruption"
	// ConflictDeadlock covers negotiations showing no movement across rounds.
	ConflictDeadlock ConflictType = "deadlock"
)

// Severity grades a conflict. Critical conflicts are never auto-resolved;
// they escalate to manual intervention.
type Severity string

const (
	// SeverityLow marks trivially compatible differences.
	SeverityLow Severity = "low"
	// SeverityMedium is the default for detected conflicts.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks materially diverging values.
	SeverityHigh Severity = "high"
	// SeverityCritical marks integrity violations; manual resolution only.
	SeverityCritical Severity = "critical"
)

// Strategy names a conflict resolution method.
type Strategy string

const (
	// StrategyMajorityVote tallies weight-1 votes; ties yield no decision.
	StrategyMajorityVote Strategy = "majority-vote"
	// StrategyWeightedVote tallies by declared participant weight.
	StrategyWeightedVote Strategy = "weighted-vote"
	// StrategyExpertAuthority defers to the highest declared authority.
	StrategyExpertAuthority Strategy = "expert-authority"
	// StrategyConsensusBuilding iterates until agreement strength converges.
	StrategyConsensusBuilding Strategy = "consensus-building"
	// StrategyCollaborativeNegotiation is the negotiation flavor of consensus.
	StrategyCollaborativeNegotiation Strategy = "collaborative-negotiation"
	// StrategyEvidenceBased weighs positions by credibility-scored evidence.
	StrategyEvidenceBased Strategy = "evidence-based-resolution"
	// StrategyAutomatedCompromise blends conflicting numeric requirements.
	StrategyAutomatedCompromise Strategy = "automated-compromise"
	// StrategyEscalationHierarchy escalates deadlocks to a higher tier.
	StrategyEscalationHierarchy Strategy = "escalation-hierarchy"
)

// ValidStrategy reports whether s names a known resolution strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyMajorityVote, StrategyWeightedVote, StrategyExpertAuthority,
		StrategyConsensusBuilding, StrategyCollaborativeNegotiation,
		StrategyEvidenceBased, StrategyAutomatedCompromise, StrategyEscalationHierarchy:
		return true
	}
	return false
}

// Vote is one participant's choice among competing options.
type Vote struct {
	Voter  string  `json:"voter"`
	Option string  `json:"option"`
	Weight float64 `json:"weight"`
}

// EvidenceItem supports a position in evidence-based resolution.
type EvidenceItem struct {
	Description string  `json:"description"`
	Credibility float64 `json:"credibility"`
	Weight      float64 `json:"weight"`
}

// Position is one participant's stance during consensus building or
// evidence-based resolution. Flexibility in [0,1] expresses willingness to
// move toward other positions; Preference is the numeric stance used by
// compromise blending.
type Position struct {
	Participant string         `json:"participant"`
	Option      string         `json:"option"`
	Preference  float64        `json:"preference"`
	Flexibility float64        `json:"flexibility"`
	Authority   float64        `json:"authority"`
	Weight      float64        `json:"weight"`
	Evidence    []EvidenceItem `json:"evidence,omitempty"`
}

// Conflict captures a detected disagreement requiring resolution.
type Conflict struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Type           ConflictType   `json:"type"`
	Severity       Severity       `json:"severity"`
	Entries        []ContextEntry `json:"entries,omitempty"`
	Votes          []Vote         `json:"votes,omitempty"`
	Positions      []Position     `json:"positions,omitempty"`
	DetectedAt     time.Time      `json:"detected_at"`
}

// NewConflict constructs a conflict with a fresh id and UTC timestamp.
func NewConflict(conversationID string, kind ConflictType, severity Severity) Conflict {
	return Conflict{
		ID:             NewID(),
		ConversationID: conversationID,
		Type:           kind,
		Severity:       severity,
		DetectedAt:     time.Now().UTC(),
	}
}

// RequiresManualResolution reports whether automatic strategies are forbidden
// for this conflict. Integrity violations and critical severities always
// escalate to manual intervention.
func (c Conflict) RequiresManualResolution() bool {
	return c.Severity == SeverityCritical || c.Type == ConflictDataCorruption
}

// Decision is the outcome of running a resolution strategy.
type Decision struct {
	ConflictID   string   `json:"conflict_id"`
	Strategy     Strategy `json:"strategy"`
	Resolved     bool     `json:"resolved"`
	Winner       string   `json:"winner,omitempty"`
	WinningScore float64  `json:"winning_score,omitempty"`
	LosingScore  float64  `json:"losing_score,omitempty"`
	Margin       float64  `json:"margin,omitempty"`
	// CompromiseValue is set by automated-compromise: a weighted blend rather
	// than a winner-take-all pick.
	CompromiseValue float64 `json:"compromise_value,omitempty"`
	// Escalated marks decisions handed to a higher authority tier.
	Escalated    bool   `json:"escalated,omitempty"`
	EscalatedTo  string `json:"escalated_to,omitempty"`
	Rounds       int    `json:"rounds,omitempty"`
	Reason       string `json:"reason,omitempty"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
}

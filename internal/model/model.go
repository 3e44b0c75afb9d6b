package model

import "time"

// Family identifies one of the entity families collected from a municipal
// source. Family values are stable: they name snapshot directories, database
// tables and report entries.
type Family string

const (
	FamilyCouncilmembers Family = "councilmembers"
	FamilyProposals      Family = "proposals"
	FamilyAgenda         Family = "agenda"
	FamilyNews           Family = "news"
)

// Families lists all entity families in collection order.
var Families = []Family{FamilyCouncilmembers, FamilyAgenda, FamilyNews, FamilyProposals}

// ProposalType enumerates the legislative proposal kinds recognized across
// cities. Sources that use local naming are mapped by their adapter.
type ProposalType string

const (
	ProposalOrdinance  ProposalType = "ordinance"  // projeto de lei
	ProposalMotion     ProposalType = "motion"     // moção
	ProposalAmendment  ProposalType = "amendment"  // emenda
	ProposalIndication ProposalType = "indication" // indicação
	ProposalRequest    ProposalType = "request"    // requerimento
	ProposalDecree     ProposalType = "decree"     // projeto de decreto legislativo
	ProposalOther      ProposalType = "other"
)

// AgendaOutcome is the recorded disposition of an agenda item.
type AgendaOutcome string

const (
	OutcomeVoted     AgendaOutcome = "voted"
	OutcomeWithdrawn AgendaOutcome = "withdrawn"
	OutcomePending   AgendaOutcome = "pending"
)

// Councilmember is a normalized elected official as reported by one source.
// Identity (SourceID) is immutable; party and status may differ between
// snapshots. Later snapshots amend, they never erase history.
type Councilmember struct {
	SourceID     string // id assigned by the upstream API
	Name         string
	Party        string
	Email        string
	PhotoURL     string
	MandateStart string // ISO date when known, else empty
	MandateEnd   string
	Raw          map[string]any // original payload preserved for audit
}

// Proposal is a normalized legislative proposal. AuthorIDs reference
// Councilmember.SourceID values; multi-author proposals carry several.
type Proposal struct {
	SourceID     string
	Type         ProposalType
	Number       string
	Year         int
	Summary      string // ementa
	AuthorIDs    []string
	RapporteurID string // relator, empty when the source has none
	FiledAt      string // ISO date of apresentação
	District     string // bairro the proposal is geo-tagged to, may be empty
	Status       string
	Raw          map[string]any
}

// AgendaItem is one entry of a session agenda (pauta).
type AgendaItem struct {
	SourceID    string
	SessionDate string // ISO date
	SessionType string
	Title       string
	Description string
	ProposalIDs []string // proposals tabled in this item
	Outcome     AgendaOutcome
	Raw         map[string]any
}

// NewsItem is a headline published by the chamber. News is contextual
// signal only; no metric formula reads it.
type NewsItem struct {
	SourceID    string
	Title       string
	PublishedAt string // ISO date
	URL         string
	Raw         map[string]any
}

// District is a geographic subdivision (bairro) recognized by a city.
type District struct {
	SourceID string
	Name     string
}

// MetricStatus qualifies a computed metric value. Only StatusOK carries a
// meaningful number; the other statuses are first-class "cannot compute"
// results, never a computed zero.
type MetricStatus string

const (
	StatusOK                  MetricStatus = "ok"
	StatusMissing             MetricStatus = "missing"              // no activity in the period
	StatusInsufficientHistory MetricStatus = "insufficient_history" // fewer than 2 prior periods
	StatusUndefined           MetricStatus = "undefined"            // zero variance or empty distribution
)

// SnapshotMeta describes one immutable capture of a family for a city.
// Snapshots are never mutated or overwritten; a re-collection produces a
// new snapshot identified by a fresh ID and timestamp.
type SnapshotMeta struct {
	ID          string // uuid
	City        string
	UF          string
	Family      Family
	CollectedAt time.Time
	ItemCount   int
	Duration    time.Duration
	SchemaVer   string
}

// SchemaVersion tags the normalized payload layout written into snapshots.
const SchemaVersion = "1.0"

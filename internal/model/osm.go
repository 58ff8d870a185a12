package model

import (
	"fmt"

	"github.com/datacenter-research/osm-dc-analyzer/internal/tags"
)

// FeatureType enumerates the OSM element kinds that carry building footprints.
type FeatureType string

const (
	FeatureWay      FeatureType = "way"
	FeatureRelation FeatureType = "relation"
)

// FeatureRef identifies one OSM feature. It is stable across queries for the
// same underlying object.
type FeatureRef struct {
	Type FeatureType
	ID   int64
}

func (r FeatureRef) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// Feature is a feature returned by a spatial query, with its current tags.
type Feature struct {
	Ref  FeatureRef
	Tags tags.TagSet
}

// FeatureVersion is one immutable historical snapshot of a feature, ordered
// by Version ascending within a history.
type FeatureVersion struct {
	Version   int64
	Timestamp string // ISO-8601 zulu instant as returned by the OSM API
	User      string
	Changeset string
	Tags      tags.TagSet
}

// CurrentInfo is the present-day view of a feature plus the first authored
// start-date signal found on it, already normalized.
type CurrentInfo struct {
	Tags               tags.TagSet
	StartDateRaw       string
	StartDateISO       string
	StartDateYear      int
	StartDateSourceTag string
}

// Operational-year provenance sources, in strict precedence order.
const (
	SourceStartDate     = "start_date"
	SourceFirstExplicit = "dc_first_seen_explicit"
	SourceFirstLike     = "dc_first_seen_like"
)

// CandidateResult is the per-feature record derived from a full history walk
// plus a current-tags fetch.
type CandidateResult struct {
	Ref        FeatureRef
	BuildingID string

	LastChangeTimestamp string
	LastChangeReadable  string
	LastChangeYear      int
	LastChangeUser      string
	LastChangeChangeset string
	LastChangeVersion   int64

	TagsBeforeChange string
	TagsAfterChange  string

	IsDataCenterNow bool
	TotalVersions   int

	FirstTimestamp         string
	FirstTimestampReadable string

	StartDateRaw       string
	StartDateISO       string
	StartDateYear      int
	StartDateSourceTag string

	CurrentName         string
	CurrentOperator     string
	CurrentBuildingType string
	IsDataCenterCurrent bool

	// LastRelevantTimestamp is the ordering key for cross-candidate
	// tie-breaking; cosmetic edits do not advance it.
	LastRelevantTimestamp string

	FirstExplicitTimestamp string
	FirstExplicitYear      int
	FirstLikeTimestamp     string
	FirstLikeYear          int

	OperationalYear       int
	OperationalYearSource string
}

// SelectionRule names the cascade rule that produced a selection.
type SelectionRule string

const (
	RuleExplicitCurrent SelectionRule = "current_explicit_dc_tag"
	RuleGenericFallback SelectionRule = "fallback_generic_building"
	RuleNone            SelectionRule = ""
)

// SelectionOutcome is the result of running the full cascade for one input
// coordinate. Candidate is nil and Radius zero when Rule is RuleNone.
type SelectionOutcome struct {
	Rule      SelectionRule
	Radius    int
	Candidate *CandidateResult
}

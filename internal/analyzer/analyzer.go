// Package analyzer derives per-feature date and provenance signals from a
// feature's full edit history.
package analyzer

import (
	"context"
	"maps"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datacenter-research/osm-dc-analyzer/internal/dates"
	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/tags"
)

// HistorySource provides the ordered version history for a feature.
type HistorySource interface {
	History(ctx context.Context, ref model.FeatureRef) ([]model.FeatureVersion, error)
}

// CurrentSource provides a feature's present-day tags and start-date signal.
type CurrentSource interface {
	CurrentInfo(ctx context.Context, ref model.FeatureRef) model.CurrentInfo
}

// Analyzer reconstructs a feature's change timeline and infers its
// operational year.
type Analyzer struct {
	history HistorySource
	current CurrentSource
}

// New builds an Analyzer over the given sources.
func New(history HistorySource, current CurrentSource) *Analyzer {
	return &Analyzer{history: history, current: current}
}

// displayKeys is the fixed set of descriptive tags snapshotted from the last
// version for output.
var displayKeys = []string{
	"name", "building", "landuse", "industrial", "operator", "amenity",
	"office", "description", "use", "facility", "power", "telecom",
	"start_date", "opening_date", "construction", "opened",
}

// Analyze retrieves and walks the feature's history and returns the derived
// candidate record. It returns nil when the history is empty or cannot be
// retrieved; a single dropped feature never fails the batch.
func (a *Analyzer) Analyze(ctx context.Context, ref model.FeatureRef) *model.CandidateResult {
	versions, err := a.history.History(ctx, ref)
	if err != nil {
		zap.L().Warn("analyzer: history unavailable",
			zap.Stringer("feature", ref),
			zap.Error(err),
		)
		return nil
	}
	if len(versions) == 0 {
		return nil
	}

	// Source order is assumed version-ascending but not trusted.
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	// Track the timestamp of the last relevant change: the last version at
	// which the filtered tag set differed from the previous one. Seeded with
	// the first version so a feature with no relevant edits still carries a
	// usable ordering key.
	lastRelevant := versions[0].Timestamp
	prev := tags.TagSet{}
	for _, v := range versions {
		rel := tags.FilterRelevant(v.Tags)
		if !maps.Equal(rel, prev) {
			lastRelevant = v.Timestamp
			prev = rel
		}
	}

	var firstExplicitTS string
	firstExplicitYear := 0
	for _, v := range versions {
		if tags.IsExplicitDataCenter(v.Tags) {
			firstExplicitTS = v.Timestamp
			firstExplicitYear = timestampYear(v.Timestamp)
			break
		}
	}

	var firstLikeTS string
	firstLikeYear := 0
	for _, v := range versions {
		if tags.IsDataCenterLike(v.Tags) {
			firstLikeTS = v.Timestamp
			firstLikeYear = timestampYear(v.Timestamp)
			break
		}
	}

	info := a.current.CurrentInfo(ctx, ref)

	first := versions[0]
	last := versions[len(versions)-1]

	name, _ := info.Tags.Get("name")
	operator, _ := info.Tags.Get("operator")
	buildingType, _ := info.Tags.Get("building")

	res := &model.CandidateResult{
		Ref:        ref,
		BuildingID: ref.String(),

		LastChangeTimestamp: last.Timestamp,
		LastChangeReadable:  readable(last.Timestamp),
		LastChangeYear:      timestampYear(last.Timestamp),
		LastChangeUser:      last.User,
		LastChangeChangeset: last.Changeset,
		LastChangeVersion:   last.Version,

		TagsBeforeChange: snapshotBefore(versions),
		TagsAfterChange:  displaySnapshot(last.Tags),

		IsDataCenterNow: tags.IsExplicitDataCenter(last.Tags),
		TotalVersions:   len(versions),

		FirstTimestamp:         first.Timestamp,
		FirstTimestampReadable: readable(first.Timestamp),

		StartDateRaw:       info.StartDateRaw,
		StartDateISO:       info.StartDateISO,
		StartDateYear:      info.StartDateYear,
		StartDateSourceTag: info.StartDateSourceTag,

		CurrentName:         name,
		CurrentOperator:     operator,
		CurrentBuildingType: buildingType,
		IsDataCenterCurrent: tags.IsExplicitDataCenter(info.Tags),

		LastRelevantTimestamp: lastRelevant,

		FirstExplicitTimestamp: firstExplicitTS,
		FirstExplicitYear:      firstExplicitYear,
		FirstLikeTimestamp:     firstLikeTS,
		FirstLikeYear:          firstLikeYear,
	}

	// Strict provenance precedence: an authored start date beats the first
	// explicit tag appearance, which beats a loose lexical match.
	switch {
	case dates.PlausibleYear(res.StartDateYear):
		res.OperationalYear = res.StartDateYear
		res.OperationalYearSource = model.SourceStartDate
	case dates.PlausibleYear(res.FirstExplicitYear):
		res.OperationalYear = res.FirstExplicitYear
		res.OperationalYearSource = model.SourceFirstExplicit
	case dates.PlausibleYear(res.FirstLikeYear):
		res.OperationalYear = res.FirstLikeYear
		res.OperationalYearSource = model.SourceFirstLike
	}

	return res
}

// timestampYear reads the leading four digits of an ISO timestamp. No
// calendar validation beyond that.
func timestampYear(ts string) int {
	if len(ts) < 4 {
		return 0
	}
	y, err := strconv.Atoi(ts[:4])
	if err != nil {
		return 0
	}
	return y
}

// readable renders an ISO instant as "YYYY-MM-DD HH:MM:SS" UTC; unparsable
// timestamps pass through unchanged.
func readable(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// snapshotBefore renders the tags of the next-to-last version; empty for a
// single-version history.
func snapshotBefore(versions []model.FeatureVersion) string {
	if len(versions) < 2 {
		return ""
	}
	return displaySnapshot(versions[len(versions)-2].Tags)
}

// displaySnapshot renders the descriptive tags of a version in fixed key
// order, e.g. "building=data_center; operator=Equinix".
func displaySnapshot(t tags.TagSet) string {
	var parts []string
	for _, k := range displayKeys {
		if v, ok := t[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}

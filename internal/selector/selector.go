// Package selector runs the two-phase radius-expanding search cascade and
// deterministically picks one candidate per input coordinate.
package selector

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/datacenter-research/osm-dc-analyzer/internal/dates"
	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/tags"
)

// FeatureFinder discovers candidate features around a coordinate.
type FeatureFinder interface {
	FindFeaturesNear(ctx context.Context, lat, lon float64, radiusM int) []model.Feature
}

// CandidateAnalyzer derives a candidate record from a feature's history.
// A nil result means the feature is dropped from candidacy.
type CandidateAnalyzer interface {
	Analyze(ctx context.Context, ref model.FeatureRef) *model.CandidateResult
}

// Options configures the cascade.
type Options struct {
	// RadiusSteps is the ascending radius sequence in meters.
	RadiusSteps []int

	// GenericAllow holds the lower-cased building values acceptable in the
	// generic fallback phase.
	GenericAllow map[string]bool

	// RequireSignal makes the fallback phase discard candidates that carry
	// no usable date signal at all.
	RequireSignal bool
}

// Engine is the selection engine. It holds no per-coordinate state, so the
// same engine serves every record of a batch.
type Engine struct {
	finder   FeatureFinder
	analyzer CandidateAnalyzer
	opts     Options
}

// New builds a selection engine.
func New(finder FeatureFinder, analyzer CandidateAnalyzer, opts Options) *Engine {
	return &Engine{finder: finder, analyzer: analyzer, opts: opts}
}

// Select runs the cascade for one coordinate: an exact-match phase over all
// radius steps, then a generic-fallback phase only if the first found
// nothing. The first radius with acceptable candidates wins; larger radii
// are never consulted after a success.
func (e *Engine) Select(ctx context.Context, lat, lon float64) model.SelectionOutcome {
	if out, ok := e.phaseExplicit(ctx, lat, lon); ok {
		return out
	}
	if out, ok := e.phaseGeneric(ctx, lat, lon); ok {
		return out
	}
	zap.L().Info("no acceptable candidate within max radius",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return model.SelectionOutcome{Rule: model.RuleNone}
}

// phaseExplicit accepts only features whose current tags are an explicit
// data-center marker.
func (e *Engine) phaseExplicit(ctx context.Context, lat, lon float64) (model.SelectionOutcome, bool) {
	for _, radius := range e.opts.RadiusSteps {
		features := e.finder.FindFeaturesNear(ctx, lat, lon, radius)
		if len(features) == 0 {
			zap.L().Info("no buildings at radius", zap.Int("radius_m", radius))
			continue
		}

		var candidates []*model.CandidateResult
		for _, f := range features {
			if !tags.IsExplicitDataCenter(f.Tags) {
				continue
			}
			zap.L().Info("analyzing explicit candidate",
				zap.Stringer("feature", f.Ref),
				zap.Int("radius_m", radius),
			)
			if c := e.analyzer.Analyze(ctx, f.Ref); c != nil {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			zap.L().Info("no current explicit data center at radius", zap.Int("radius_m", radius))
			continue
		}

		selected := pick(candidates)
		logSelected(selected, radius, model.RuleExplicitCurrent)
		return model.SelectionOutcome{
			Rule:      model.RuleExplicitCurrent,
			Radius:    radius,
			Candidate: selected,
		}, true
	}
	return model.SelectionOutcome{}, false
}

// phaseGeneric accepts unclassified building shells from the allow-list,
// optionally requiring at least one usable date signal.
func (e *Engine) phaseGeneric(ctx context.Context, lat, lon float64) (model.SelectionOutcome, bool) {
	for _, radius := range e.opts.RadiusSteps {
		features := e.finder.FindFeaturesNear(ctx, lat, lon, radius)
		if len(features) == 0 {
			zap.L().Info("no buildings at radius", zap.Int("radius_m", radius))
			continue
		}

		var candidates []*model.CandidateResult
		for _, f := range features {
			b, ok := f.Tags.Get("building")
			if !ok || !e.opts.GenericAllow[strings.ToLower(b)] {
				continue
			}
			zap.L().Info("analyzing generic candidate",
				zap.Stringer("feature", f.Ref),
				zap.Int("radius_m", radius),
			)
			c := e.analyzer.Analyze(ctx, f.Ref)
			if c == nil {
				continue
			}
			if e.opts.RequireSignal && !hasDateSignal(c) {
				zap.L().Info("generic candidate skipped: no date signal",
					zap.Stringer("feature", f.Ref),
				)
				continue
			}
			candidates = append(candidates, c)
		}
		if len(candidates) == 0 {
			zap.L().Info("no acceptable generic building at radius", zap.Int("radius_m", radius))
			continue
		}

		selected := pick(candidates)
		logSelected(selected, radius, model.RuleGenericFallback)
		return model.SelectionOutcome{
			Rule:      model.RuleGenericFallback,
			Radius:    radius,
			Candidate: selected,
		}, true
	}
	return model.SelectionOutcome{}, false
}

// hasDateSignal reports whether the candidate carries any of the three
// usable date signals.
func hasDateSignal(c *model.CandidateResult) bool {
	return dates.PlausibleYear(c.StartDateYear) ||
		dates.PlausibleYear(c.FirstExplicitYear) ||
		dates.PlausibleYear(c.FirstLikeYear)
}

// pick selects the candidate with the greatest last-relevant-change
// timestamp. OSM timestamps are fixed-offset zulu ISO-8601, so lexicographic
// order is chronological order. Equal timestamps break toward the greater
// feature id.
func pick(candidates []*model.CandidateResult) *model.CandidateResult {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.LastRelevantTimestamp > best.LastRelevantTimestamp:
			best = c
		case c.LastRelevantTimestamp == best.LastRelevantTimestamp && greaterRef(c.Ref, best.Ref):
			best = c
		}
	}
	return best
}

func greaterRef(a, b model.FeatureRef) bool {
	if a.Type != b.Type {
		return a.Type > b.Type
	}
	return a.ID > b.ID
}

func logSelected(c *model.CandidateResult, radius int, rule model.SelectionRule) {
	zap.L().Info("candidate selected",
		zap.String("building_id", c.BuildingID),
		zap.Int("radius_m", radius),
		zap.String("rule", string(rule)),
		zap.Int("operational_year", c.OperationalYear),
		zap.String("source", c.OperationalYearSource),
	)
}

// Package gateway talks to the two upstream services: Overpass for spatial
// queries and current tags, and the OSM editing API for version histories.
// Both clients pace their calls and convert transient failures into retries;
// exhausted retries surface as empty results so a batch never aborts on a
// single feature.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/datacenter-research/osm-dc-analyzer/internal/dates"
	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/resilience"
	"github.com/datacenter-research/osm-dc-analyzer/internal/tags"
)

// querier abstracts the overpass client so tests can stand in for the wire.
type querier interface {
	Query(query string) (overpass.Result, error)
}

// Overpass issues paced, retried spatial queries against one Overpass
// endpoint.
type Overpass struct {
	client querier
	pace   *rate.Limiter
	retry  resilience.RetryConfig
}

// NewOverpass builds an Overpass gateway. pace is the fixed inter-call delay;
// zero disables pacing.
func NewOverpass(endpoint, userAgent string, timeout, pace time.Duration, retry resilience.RetryConfig) *Overpass {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{agent: userAgent, base: http.DefaultTransport},
	}
	client := overpass.NewWithSettings(endpoint, 1, httpClient)

	// The overpass client reports failures as opaque errors; Overpass outages
	// are overwhelmingly transient, so every error is treated as retryable.
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("overpass", "query")

	return &Overpass{
		client: &client,
		pace:   newPacer(pace),
		retry:  retry,
	}
}

func newPacer(pace time.Duration) *rate.Limiter {
	if pace <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pace), 1)
}

// userAgentTransport stamps the configured User-Agent on every request.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

const aroundQuery = `[out:json][timeout:25];
(
  way["building"](around:%d,%f,%f);
  relation["building"](around:%d,%f,%f);
);
out meta;`

// FindFeaturesNear returns every building way/relation within radiusM meters
// of the coordinate, with current tags, sorted by (type, id). Any failure is
// logged and yields an empty slice so the caller can proceed to the next
// radius step.
func (o *Overpass) FindFeaturesNear(ctx context.Context, lat, lon float64, radiusM int) []model.Feature {
	query := fmt.Sprintf(aroundQuery, radiusM, lat, lon, radiusM, lat, lon)
	result, err := o.query(ctx, query)
	if err != nil {
		zap.L().Warn("overpass: spatial query failed",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Int("radius_m", radiusM),
			zap.Error(err),
		)
		return nil
	}
	return collectFeatures(result)
}

// startDateKeys is the priority order for date-bearing tags; the first one
// present wins.
var startDateKeys = []string{
	"start_date", "opening_date", "opened", "construction_date", "start_date:edtf",
}

// CurrentInfo fetches a feature's present-day tags and scans them for the
// highest-priority start-date signal. Failures yield an empty CurrentInfo.
func (o *Overpass) CurrentInfo(ctx context.Context, ref model.FeatureRef) model.CurrentInfo {
	query := fmt.Sprintf("[out:json][timeout:25];\n%s(%d);\nout meta;", ref.Type, ref.ID)
	result, err := o.query(ctx, query)
	if err != nil {
		zap.L().Warn("overpass: current tags fetch failed",
			zap.Stringer("feature", ref),
			zap.Error(err),
		)
		return model.CurrentInfo{}
	}

	current := elementTags(result, ref)
	if current == nil {
		return model.CurrentInfo{}
	}

	info := model.CurrentInfo{Tags: current}
	for _, key := range startDateKeys {
		v, ok := current.Get(key)
		if !ok || v == "" {
			continue
		}
		d := dates.Normalize(v)
		info.StartDateRaw = d.Raw
		info.StartDateISO = d.ISO
		info.StartDateYear = d.Year
		info.StartDateSourceTag = key
		break
	}
	return info
}

func (o *Overpass) query(ctx context.Context, q string) (overpass.Result, error) {
	if err := o.pace.Wait(ctx); err != nil {
		return overpass.Result{}, err
	}
	return resilience.DoVal(ctx, o.retry, func(context.Context) (overpass.Result, error) {
		return o.client.Query(q)
	})
}

// collectFeatures flattens an overpass result into tagged features. Result
// maps iterate in random order, so the slice is sorted to keep downstream
// selection deterministic. Untagged entries are member stubs, not matches.
func collectFeatures(result overpass.Result) []model.Feature {
	features := make([]model.Feature, 0, len(result.Ways)+len(result.Relations))
	for id, way := range result.Ways {
		if way == nil || len(way.Tags) == 0 {
			continue
		}
		features = append(features, model.Feature{
			Ref:  model.FeatureRef{Type: model.FeatureWay, ID: id},
			Tags: tags.TagSet(way.Tags),
		})
	}
	for id, rel := range result.Relations {
		if rel == nil || len(rel.Tags) == 0 {
			continue
		}
		features = append(features, model.Feature{
			Ref:  model.FeatureRef{Type: model.FeatureRelation, ID: id},
			Tags: tags.TagSet(rel.Tags),
		})
	}
	sort.Slice(features, func(i, j int) bool {
		a, b := features[i].Ref, features[j].Ref
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return features
}

func elementTags(result overpass.Result, ref model.FeatureRef) tags.TagSet {
	switch ref.Type {
	case model.FeatureWay:
		if way := result.Ways[ref.ID]; way != nil {
			return tags.TagSet(way.Tags)
		}
	case model.FeatureRelation:
		if rel := result.Relations[ref.ID]; rel != nil {
			return tags.TagSet(rel.Tags)
		}
	}
	return nil
}

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serjvanilla/go-overpass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/resilience"
)

type fakeQuerier struct {
	result  overpass.Result
	err     error
	queries []string
}

func (f *fakeQuerier) Query(query string) (overpass.Result, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func newTestOverpass(q querier) *Overpass {
	return &Overpass{
		client: q,
		pace:   newPacer(0),
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			ShouldRetry:    func(error) bool { return true },
		},
	}
}

func way(id int64, t map[string]string) *overpass.Way {
	return &overpass.Way{Meta: overpass.Meta{ID: id, Tags: t}}
}

func relation(id int64, t map[string]string) *overpass.Relation {
	return &overpass.Relation{Meta: overpass.Meta{ID: id, Tags: t}}
}

func TestFindFeaturesNear_SortedAndTagged(t *testing.T) {
	fake := &fakeQuerier{result: overpass.Result{
		Ways: map[int64]*overpass.Way{
			9: way(9, map[string]string{"building": "yes"}),
			2: way(2, map[string]string{"building": "data_center"}),
			5: way(5, nil), // untagged member stub, not a match
		},
		Relations: map[int64]*overpass.Relation{
			3: relation(3, map[string]string{"building": "yes"}),
		},
	}}

	got := newTestOverpass(fake).FindFeaturesNear(context.Background(), 50.0, 8.0, 100)

	require.Len(t, got, 3)
	assert.Equal(t, model.FeatureRef{Type: model.FeatureRelation, ID: 3}, got[0].Ref)
	assert.Equal(t, model.FeatureRef{Type: model.FeatureWay, ID: 2}, got[1].Ref)
	assert.Equal(t, model.FeatureRef{Type: model.FeatureWay, ID: 9}, got[2].Ref)

	v, ok := got[1].Tags.Get("building")
	require.True(t, ok)
	assert.Equal(t, "data_center", v)
}

func TestFindFeaturesNear_FailureYieldsEmpty(t *testing.T) {
	fake := &fakeQuerier{err: errors.New("gateway timeout")}

	got := newTestOverpass(fake).FindFeaturesNear(context.Background(), 50.0, 8.0, 100)

	assert.Empty(t, got)
	// Both retry attempts should have hit the wire.
	assert.Len(t, fake.queries, 2)
}

func TestCurrentInfo_StartDatePriority(t *testing.T) {
	fake := &fakeQuerier{result: overpass.Result{
		Ways: map[int64]*overpass.Way{
			7: way(7, map[string]string{
				"building":     "data_center",
				"name":         "DC One",
				"opening_date": "2014-05-01",
				"start_date":   "2012",
			}),
		},
	}}

	info := newTestOverpass(fake).CurrentInfo(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 7})

	// start_date outranks opening_date regardless of tag order.
	assert.Equal(t, "start_date", info.StartDateSourceTag)
	assert.Equal(t, "2012", info.StartDateRaw)
	assert.Equal(t, "2012-01-01", info.StartDateISO)
	assert.Equal(t, 2012, info.StartDateYear)

	name, ok := info.Tags.Get("name")
	require.True(t, ok)
	assert.Equal(t, "DC One", name)
}

func TestCurrentInfo_NoDateTags(t *testing.T) {
	fake := &fakeQuerier{result: overpass.Result{
		Ways: map[int64]*overpass.Way{
			7: way(7, map[string]string{"building": "yes"}),
		},
	}}

	info := newTestOverpass(fake).CurrentInfo(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 7})

	assert.NotNil(t, info.Tags)
	assert.Empty(t, info.StartDateSourceTag)
	assert.Zero(t, info.StartDateYear)
}

func TestCurrentInfo_MissingElement(t *testing.T) {
	fake := &fakeQuerier{result: overpass.Result{}}

	info := newTestOverpass(fake).CurrentInfo(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 7})

	assert.Equal(t, model.CurrentInfo{}, info)
}

func TestCurrentInfo_MalformedDateKept(t *testing.T) {
	fake := &fakeQuerier{result: overpass.Result{
		Relations: map[int64]*overpass.Relation{
			4: relation(4, map[string]string{"building": "data_center", "opened": "circa 2010"}),
		},
	}}

	info := newTestOverpass(fake).CurrentInfo(context.Background(), model.FeatureRef{Type: model.FeatureRelation, ID: 4})

	assert.Equal(t, "opened", info.StartDateSourceTag)
	assert.Equal(t, "circa 2010", info.StartDateRaw)
	assert.Empty(t, info.StartDateISO)
	assert.Zero(t, info.StartDateYear)
}

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/resilience"
)

const wayHistoryXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="OpenStreetMap server">
 <way id="123" visible="true" version="1" changeset="900" timestamp="2012-03-01T10:00:00Z" user="alice" uid="1">
  <nd ref="1"/>
  <tag k="building" v="yes"/>
 </way>
 <way id="123" visible="true" version="2" changeset="901" timestamp="2015-06-02T09:30:00Z" user="bob" uid="2">
  <nd ref="1"/>
  <tag k="building" v="data_center"/>
  <tag k="operator" v="Equinix"/>
 </way>
</osm>`

func testRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: 0,
	}
}

func TestHistory_DecodesVersions(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(wayHistoryXML))
	}))
	defer srv.Close()

	client := NewHistoryClient(srv.URL, "osm-dc-analyzer/test", 5*time.Second, 0, testRetry())
	versions, err := client.History(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 123})

	require.NoError(t, err)
	assert.Equal(t, "/way/123/history", gotPath)
	assert.Equal(t, "osm-dc-analyzer/test", gotUA)

	require.Len(t, versions, 2)
	assert.Equal(t, int64(1), versions[0].Version)
	assert.Equal(t, "2012-03-01T10:00:00Z", versions[0].Timestamp)
	assert.Equal(t, "alice", versions[0].User)
	assert.Equal(t, "900", versions[0].Changeset)

	v, ok := versions[1].Tags.Get("operator")
	require.True(t, ok)
	assert.Equal(t, "Equinix", v)
}

func TestHistory_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(wayHistoryXML))
	}))
	defer srv.Close()

	client := NewHistoryClient(srv.URL, "osm-dc-analyzer/test", 5*time.Second, 0, testRetry())
	versions, err := client.History(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 123})

	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHistory_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHistoryClient(srv.URL, "osm-dc-analyzer/test", 5*time.Second, 0, testRetry())
	_, err := client.History(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 999})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHistory_MalformedXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not xml at all <"))
	}))
	defer srv.Close()

	client := NewHistoryClient(srv.URL, "osm-dc-analyzer/test", 5*time.Second, 0, testRetry())
	_, err := client.History(context.Background(), model.FeatureRef{Type: model.FeatureWay, ID: 123})

	require.Error(t, err)
}

func TestHistory_RelationPath(t *testing.T) {
	const relationXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
 <relation id="55" visible="true" version="1" changeset="70" timestamp="2019-01-05T00:00:00Z" user="carol" uid="3">
  <member type="way" ref="1" role="outer"/>
  <tag k="building" v="data_center"/>
 </relation>
</osm>`

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(relationXML))
	}))
	defer srv.Close()

	client := NewHistoryClient(srv.URL, "osm-dc-analyzer/test", 5*time.Second, 0, testRetry())
	versions, err := client.History(context.Background(), model.FeatureRef{Type: model.FeatureRelation, ID: 55})

	require.NoError(t, err)
	assert.Equal(t, "/relation/55/history", gotPath)
	require.Len(t, versions, 1)
	assert.Equal(t, "carol", versions[0].User)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}

package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
	"github.com/datacenter-research/osm-dc-analyzer/internal/resilience"
	"github.com/datacenter-research/osm-dc-analyzer/internal/tags"
)

// HistoryClient retrieves full version histories from the OSM editing API
// (GET {base}/{type}/{id}/history).
type HistoryClient struct {
	base      string
	userAgent string
	client    *http.Client
	pace      *rate.Limiter
	retry     resilience.RetryConfig
}

// NewHistoryClient builds a history client against an OSM API 0.6 base URL.
func NewHistoryClient(base, userAgent string, timeout, pace time.Duration, retry resilience.RetryConfig) *HistoryClient {
	retry.OnRetry = resilience.RetryLogger("osm-api", "history")
	return &HistoryClient{
		base:      strings.TrimRight(base, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		pace:      newPacer(pace),
		retry:     retry,
	}
}

// History returns the ordered version history for a feature. The OSM API
// never returns an empty history for an existing feature; a feature that
// cannot be fetched is reported as an error for the caller to drop.
func (h *HistoryClient) History(ctx context.Context, ref model.FeatureRef) ([]model.FeatureVersion, error) {
	if err := h.pace.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "history: pacing wait")
	}

	url := fmt.Sprintf("%s/%s/%d/history", h.base, ref.Type, ref.ID)
	body, err := resilience.DoVal(ctx, h.retry, func(ctx context.Context) ([]byte, error) {
		return h.fetch(ctx, url)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "history: fetch %s", ref)
	}

	versions, err := decodeHistory(body, ref.Type)
	if err != nil {
		return nil, eris.Wrapf(err, "history: decode %s", ref)
	}
	return versions, nil
}

func (h *HistoryClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "history: create request")
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, url),
			resp.StatusCode,
			parseRetryAfter(resp.Header.Get("Retry-After")),
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("http %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// parseRetryAfter reads a delay-seconds Retry-After value; the HTTP-date
// form is not sent by the OSM API and is ignored.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type historyDoc struct {
	Ways      []versionElem `xml:"way"`
	Relations []versionElem `xml:"relation"`
}

type versionElem struct {
	Version   int64     `xml:"version,attr"`
	Timestamp string    `xml:"timestamp,attr"`
	User      string    `xml:"user,attr"`
	Changeset string    `xml:"changeset,attr"`
	Tags      []tagElem `xml:"tag"`
}

type tagElem struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

func decodeHistory(data []byte, typ model.FeatureType) ([]model.FeatureVersion, error) {
	var doc historyDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "unmarshal osm xml")
	}

	elems := doc.Ways
	if typ == model.FeatureRelation {
		elems = doc.Relations
	}

	versions := make([]model.FeatureVersion, 0, len(elems))
	for _, e := range elems {
		t := tags.TagSet{}
		for _, tag := range e.Tags {
			t[tag.K] = tag.V
		}
		versions = append(versions, model.FeatureVersion{
			Version:   e.Version,
			Timestamp: e.Timestamp,
			User:      e.User,
			Changeset: e.Changeset,
			Tags:      t,
		})
	}
	return versions, nil
}

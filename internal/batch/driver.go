package batch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datacenter-research/osm-dc-analyzer/internal/model"
)

// StatusSuccess and friends are the terminal per-record statuses. Every
// output row carries a non-empty status.
const (
	StatusSuccess     = "Success"
	StatusNoCandidate = "No acceptable candidate within max radius"
)

// resultColumns is the fixed output schema appended after the input columns,
// identical for every row.
var resultColumns = []string{
	"building_id",
	"last_change_timestamp",
	"last_change_readable",
	"last_change_year",
	"last_change_user",
	"last_change_changeset",
	"last_change_version",
	"tags_before_change",
	"tags_after_change",
	"is_datacenter_now",
	"total_versions",
	"first_timestamp",
	"first_timestamp_readable",
	"start_date_raw",
	"start_date_standardized",
	"start_date_year",
	"start_date_source_tag",
	"current_name",
	"current_operator",
	"current_building_type",
	"is_datacenter_current",
	"last_change_relevant_timestamp",
	"dc_first_seen_explicit_timestamp",
	"dc_first_seen_explicit_year",
	"dc_first_seen_like_timestamp",
	"dc_first_seen_like_year",
	"operational_year_inferred",
	"operational_year_source",
	"selection_rule_used",
	"search_radius_used",
	"status",
}

// Selector runs the search cascade for one coordinate.
type Selector interface {
	Select(ctx context.Context, lat, lon float64) model.SelectionOutcome
}

// Driver processes input records sequentially; the upstreams are
// rate-sensitive, so there is deliberately no concurrency here.
type Driver struct {
	selector  Selector
	latColumn string
	lonColumn string
}

// NewDriver builds a batch driver reading coordinates from the named columns.
func NewDriver(selector Selector, latColumn, lonColumn string) *Driver {
	return &Driver{selector: selector, latColumn: latColumn, lonColumn: lonColumn}
}

// Run processes every input row in order and returns the full output table.
// Per-record failures become error statuses on their rows; only a missing
// coordinate column is fatal, since no row could succeed.
func (d *Driver) Run(ctx context.Context, input *Table) (*Table, error) {
	colIdx := columnIndex(input.Header)
	for _, col := range []string{d.latColumn, d.lonColumn} {
		if _, ok := colIdx[col]; !ok {
			return nil, eris.Errorf("batch: missing required column %q", col)
		}
	}

	out := &Table{
		Header: append(append([]string{}, input.Header...), resultColumns...),
	}

	var succeeded, noCandidate, errored int
	for i, row := range input.Rows {
		zap.L().Info("processing site",
			zap.Int("row", i+1),
			zap.Int("total", len(input.Rows)),
			zap.String("name", getCol(row, colIdx, "name")),
		)

		outcome, status := d.processRow(ctx, row, colIdx)
		switch status {
		case StatusSuccess:
			succeeded++
		case StatusNoCandidate:
			noCandidate++
		default:
			errored++
		}
		out.Rows = append(out.Rows, outputRow(input.Header, row, outcome, status))
	}

	zap.L().Info("batch complete",
		zap.Int("total", len(input.Rows)),
		zap.Int("succeeded", succeeded),
		zap.Int("no_candidate", noCandidate),
		zap.Int("errored", errored),
	)
	return out, nil
}

func (d *Driver) processRow(ctx context.Context, row []string, colIdx map[string]int) (model.SelectionOutcome, string) {
	lat, err := strconv.ParseFloat(getCol(row, colIdx, d.latColumn), 64)
	if err != nil {
		zap.L().Warn("record error", zap.String("column", d.latColumn), zap.Error(err))
		return model.SelectionOutcome{}, fmt.Sprintf("Error: parse %s: %v", d.latColumn, err)
	}
	lon, err := strconv.ParseFloat(getCol(row, colIdx, d.lonColumn), 64)
	if err != nil {
		zap.L().Warn("record error", zap.String("column", d.lonColumn), zap.Error(err))
		return model.SelectionOutcome{}, fmt.Sprintf("Error: parse %s: %v", d.lonColumn, err)
	}

	outcome := d.selector.Select(ctx, lat, lon)
	if outcome.Rule == model.RuleNone {
		return outcome, StatusNoCandidate
	}
	return outcome, StatusSuccess
}

// outputRow merges the original row (padded to header width) with the
// candidate cells, keeping the output schema uniform across all rows.
func outputRow(header, row []string, outcome model.SelectionOutcome, status string) []string {
	merged := make([]string, len(header), len(header)+len(resultColumns))
	copy(merged, row)
	return append(merged, candidateCells(outcome, status)...)
}

func candidateCells(outcome model.SelectionOutcome, status string) []string {
	c := outcome.Candidate
	if c == nil {
		c = &model.CandidateResult{}
	}
	return []string{
		c.BuildingID,
		c.LastChangeTimestamp,
		c.LastChangeReadable,
		intCell(c.LastChangeYear),
		c.LastChangeUser,
		c.LastChangeChangeset,
		int64Cell(c.LastChangeVersion),
		c.TagsBeforeChange,
		c.TagsAfterChange,
		strconv.FormatBool(c.IsDataCenterNow),
		strconv.Itoa(c.TotalVersions),
		c.FirstTimestamp,
		c.FirstTimestampReadable,
		c.StartDateRaw,
		c.StartDateISO,
		intCell(c.StartDateYear),
		c.StartDateSourceTag,
		c.CurrentName,
		c.CurrentOperator,
		c.CurrentBuildingType,
		strconv.FormatBool(c.IsDataCenterCurrent),
		c.LastRelevantTimestamp,
		c.FirstExplicitTimestamp,
		intCell(c.FirstExplicitYear),
		c.FirstLikeTimestamp,
		intCell(c.FirstLikeYear),
		intCell(c.OperationalYear),
		c.OperationalYearSource,
		string(outcome.Rule),
		intCell(outcome.Radius),
		status,
	}
}

// intCell renders zero as the defined empty default.
func intCell(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func int64Cell(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

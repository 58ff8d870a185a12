package dates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantISO  string
		wantYear int
	}{
		{"full date", "2015-06-01", "2015-06-01", 2015},
		{"year month", "2015-06", "2015-06-01", 2015},
		{"year only", "2015", "2015-01-01", 2015},
		{"us slash", "03/04/2010", "2010-03-04", 2010},
		{"european dots", "15.07.2011", "2011-07-15", 2011},
		{"european slash", "15/07/2011", "2011-07-15", 2011},
		{"old year still parses", "1700", "1700-01-01", 1700},
		{"whitespace trimmed", "  2018  ", "2018-01-01", 2018},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			assert.Equal(t, tt.wantISO, got.ISO)
			assert.Equal(t, tt.wantYear, got.Year)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	got := Normalize("not-a-date")
	assert.Equal(t, "not-a-date", got.Raw)
	assert.Empty(t, got.ISO)
	assert.Zero(t, got.Year)
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, Normalized{}, Normalize(""))
	assert.Equal(t, Normalized{}, Normalize("   "))
}

func TestPlausibleYear(t *testing.T) {
	assert.True(t, PlausibleYear(1900))
	assert.True(t, PlausibleYear(2015))
	assert.True(t, PlausibleYear(2100))
	assert.False(t, PlausibleYear(1700))
	assert.False(t, PlausibleYear(2101))
	assert.False(t, PlausibleYear(0))
}

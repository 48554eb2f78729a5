package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tsdataclinic/mta/internal/driver"
	"github.com/tsdataclinic/mta/internal/planner"
)

func TestWrite(t *testing.T) {
	t.Parallel()

	ranges := planner.Plan(2018)
	outcomes := []driver.Outcome{
		{Range: ranges[0], Status: driver.StatusSkipped},
		{
			Range:    ranges[1],
			Status:   driver.StatusCollected,
			Pages:    3,
			Rows:     120,
			Duration: 2500 * time.Millisecond,
			URI:      "file://data/02_01_2018-02_28_2018.json",
		},
	}

	var buf bytes.Buffer
	Write(&buf, outcomes)
	out := buf.String()

	assert.Contains(t, out, "01/01/2018 - 01/31/2018")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "02/01/2018 - 02/28/2018")
	assert.Contains(t, out, "collected")
	assert.Contains(t, out, "file://data/02_01_2018-02_28_2018.json")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
	assert.Contains(t, out, "120")
}

func TestWriteEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Write(&buf, nil)
	assert.Contains(t, strings.ToUpper(buf.String()), "RANGE")
}

func TestWritePlan(t *testing.T) {
	t.Parallel()

	ranges := planner.Plan(2020)
	entries := make([]driver.PlanEntry, 0, len(ranges))
	for i, r := range ranges {
		entries = append(entries, driver.PlanEntry{Range: r, Done: i < 2})
	}

	var buf bytes.Buffer
	WritePlan(&buf, entries)
	out := buf.String()

	assert.Contains(t, out, "02_01_2020-02_29_2020")
	assert.Contains(t, out, "12/31/2020")
	assert.Equal(t, 2, strings.Count(out, "yes"))
	assert.Contains(t, out, "10")
}

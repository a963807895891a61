package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/stealth-vision/internal/domain/analysis"
)

func TestReportKey(t *testing.T) {
	a := &analysis.Analysis{
		ID:        "6f1c2a",
		CreatedAt: time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600)),
	}

	assert.Equal(t, "analyses/2026/03/09/6f1c2a.json", ReportKey(a))
}

func TestReportKey_ZeroTime(t *testing.T) {
	key := ReportKey(&analysis.Analysis{ID: "x"})
	assert.Regexp(t, `^analyses/\d{4}/\d{2}/\d{2}/x\.json$`, key)
}

package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data", "scriptwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Main_St._Motors_North", SanitizeName(`Main St. Motors: North`))
	assert.Equal(t, "ab", SanitizeName(`a\/*?:"<>|b`))
}

func TestEvidencePath(t *testing.T) {
	at := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	got := EvidencePath("scans", at, "BLOCKED", "Lake Ford")
	assert.Equal(t, filepath.Join("scans", "2025-04-02", "BLOCKED_Lake_Ford.png"), got)
}

func TestBatchRoundTrip(t *testing.T) {
	s := openStore(t)

	older := models.NewBatch(2)
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := models.NewBatch(5)

	require.NoError(t, s.SaveBatch(older))
	require.NoError(t, s.SaveBatch(newer))

	got, err := s.GetBatch(newer.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Total)

	missing, err := s.GetBatch("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListBatches(0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	list, err = s.ListBatches(1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResultsAndDomainHistory(t *testing.T) {
	s := openStore(t)
	base := time.Now()

	results := []models.ScanResult{
		{Position: 1, TargetURL: "https://www.lakeford.example/", Status: models.StatusWarn, CheckedAt: base},
		{Position: 0, TargetURL: "https://other.example/", Status: models.StatusPass, CheckedAt: base},
	}
	for _, r := range results {
		require.NoError(t, s.SaveResult("batch-a", r))
	}
	require.NoError(t, s.SaveResult("batch-b", models.ScanResult{
		Position: 0, TargetURL: "https://lakeford.example/service", Status: models.StatusPass, CheckedAt: base.Add(time.Minute),
	}))

	got, err := s.BatchResults("batch-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, 1, got[1].Position)

	hist, err := s.DomainHistory("lakeford.example", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "batch-b", hist[0].BatchID)
	assert.Equal(t, models.StatusPass, hist[0].Result.Status)

	hist, err = s.DomainHistory("unknown.example", 0)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

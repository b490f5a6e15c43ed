package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superboost/allerscan-cli/pkg/allerscan"
)

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testRecords() []allerscan.PredictionRecord {
	return []allerscan.PredictionRecord{
		{
			ID:              1,
			ProductName:     "Biskuit Coklat",
			Pemanis:         "gula",
			ConfidenceScore: 0.92,
			RiskLevel:       "high",
			StatusAlergen:   "terdeteksi",
			DetectedAllergens: allerscan.AllergenList{
				Entries: []allerscan.AllergenEntry{{Allergen: "susu", Confidence: 0.92}},
			},
		},
		{
			ID:              2,
			ProductName:     "Keripik Singkong",
			ConfidenceScore: 78,
			StatusAlergen:   "tidak terdeteksi",
		},
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Save(ctx, "http://localhost:8001", testRecords())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 2, snap.RecordCount)
	assert.False(t, snap.TakenAt.IsZero())

	records, err := s.Load(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, "Biskuit Coklat", records[0].Name())
	assert.Equal(t, "susu", records[0].DetectedAllergens.Display())
	assert.InDelta(t, 78.0, records[1].ConfidenceScore.Percent(), 1e-9)
}

func TestSnapshotLoadEmptyIDPicksLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "first", testRecords()[:1])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = s.Save(ctx, "second", testRecords())
	require.NoError(t, err)

	records, err := s.Load(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Source)
}

func TestSnapshotLoadUnknownID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "no-such-snapshot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-snapshot")
}

func TestSnapshotLatestEmptyStore(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Latest(context.Background())
	require.Error(t, err)
}

func TestSnapshotList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	_, err = s.Save(ctx, "a", testRecords()[:1])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = s.Save(ctx, "b", testRecords())
	require.NoError(t, err)

	snaps, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// newest first
	assert.Equal(t, "b", snaps[0].Source)
	assert.Equal(t, 2, snaps[0].RecordCount)
	assert.Equal(t, "a", snaps[1].Source)
}

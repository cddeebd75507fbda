package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := types.Record{
		"sfid":           "001xx01",
		"name":           "Acme",
		"systemmodstamp": "2026-01-02T03:04:05.000+0000",
	}
	require.NoError(t, s.Insert(ctx, "account", rec))

	got, err := s.FindByRemoteID(ctx, "account", "001xx01")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Same id under a different local type is a different row.
	_, err = s.FindByRemoteID(ctx, "contact", "001xx01")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateReplacesAttributes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "account", types.Record{
		"sfid": "001xx01", "name": "Acme", "region": "EU",
	}))
	require.NoError(t, s.Update(ctx, "account", "001xx01", types.Record{
		"sfid": "001xx01", "name": "Acme Corp",
	}))

	got, err := s.FindByRemoteID(ctx, "account", "001xx01")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got["name"])
	assert.NotContains(t, got, "region")
}

func TestUpdateMissingRow(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), "account", "nope", types.Record{"sfid": "nope"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "account")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Insert(ctx, "account", types.Record{"sfid": "a"}))
	require.NoError(t, s.Insert(ctx, "account", types.Record{"sfid": "b"}))
	require.NoError(t, s.Insert(ctx, "contact", types.Record{"sfid": "c"}))

	n, err = s.Count(ctx, "account")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestMappingStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &types.Mapping{
		Name:       "orders",
		Credential: "prod",
		Entities: []*types.MappedEntity{
			{Remote: "Account", Local: "account"},
			{Remote: "Order", Local: "order"},
		},
		Schedules: []*types.ScheduleEntry{
			{Frequency: 1, Unit: types.UnitDays, Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	// Fresh state leaves zero values untouched.
	require.NoError(t, s.LoadMappingState(ctx, m))
	assert.True(t, m.LastCompletedRefresh.IsZero())
	assert.True(t, m.Schedules[0].NextIteration.IsZero())

	watermark := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	refresh := watermark.Add(-time.Hour)
	anchor := watermark.Add(24 * time.Hour)

	require.NoError(t, s.SaveWatermark(ctx, "orders", watermark))
	require.NoError(t, s.SaveEntityState(ctx, "orders", "account", refresh, 7))
	require.NoError(t, s.SaveAnchor("orders", 0, anchor))

	m2 := &types.Mapping{
		Name:     "orders",
		Entities: []*types.MappedEntity{{Remote: "Account", Local: "account"}},
		Schedules: []*types.ScheduleEntry{
			{Frequency: 1, Unit: types.UnitDays, Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, s.LoadMappingState(ctx, m2))
	assert.True(t, m2.LastCompletedRefresh.Equal(watermark))
	assert.True(t, m2.Entities[0].LastRefresh.Equal(refresh))
	assert.EqualValues(t, 7, m2.Entities[0].RecordCount)
	assert.True(t, m2.Schedules[0].NextIteration.Equal(anchor))
}

func TestSaveAnchorUpserts(t *testing.T) {
	s := openTestStore(t)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveAnchor("orders", 0, first))
	require.NoError(t, s.SaveAnchor("orders", 0, first.AddDate(0, 0, 1)))

	m := &types.Mapping{
		Name: "orders",
		Schedules: []*types.ScheduleEntry{
			{Frequency: 1, Unit: types.UnitDays, Start: first},
		},
	}
	require.NoError(t, s.LoadMappingState(context.Background(), m))
	assert.True(t, m.Schedules[0].NextIteration.Equal(first.AddDate(0, 0, 1)))
}

func TestRunLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 2, 3, 4, 0, 0, 0, time.UTC)

	id, err := s.StartRun(ctx, "orders", started)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.FinishRun(ctx, id, started.Add(time.Minute), 10, 3, nil))

	id2, err := s.StartRun(ctx, "orders", started.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, id2, started.Add(61*time.Minute), 0, 0,
		errors.New("transport error: boom")))

	runs, err := s.RecentRuns(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, id2, runs[0].ID)
	assert.Equal(t, "transport error: boom", runs[0].Error)
	assert.Equal(t, id, runs[1].ID)
	assert.EqualValues(t, 10, runs[1].Inserted)
	assert.EqualValues(t, 3, runs[1].Updated)
	assert.Empty(t, runs[1].Error)
}

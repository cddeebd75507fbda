package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

var now = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

// fakeRecords is an in-memory RecordStore that logs mutation order.
type fakeRecords struct {
	rows    map[string]map[string]types.Record
	mutated []string // "op type/id" in call order
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: make(map[string]map[string]types.Record)}
}

func (s *fakeRecords) FindByRemoteID(_ context.Context, localType, id string) (types.Record, error) {
	rec, ok := s.rows[localType][id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return rec, nil
}

func (s *fakeRecords) Insert(_ context.Context, localType string, rec types.Record) error {
	if s.rows[localType] == nil {
		s.rows[localType] = make(map[string]types.Record)
	}
	s.rows[localType][rec.RemoteID()] = rec
	s.mutated = append(s.mutated, "insert "+localType+"/"+rec.RemoteID())
	return nil
}

func (s *fakeRecords) Update(_ context.Context, localType, id string, rec types.Record) error {
	s.rows[localType][id] = rec
	s.mutated = append(s.mutated, "update "+localType+"/"+id)
	return nil
}

func (s *fakeRecords) Count(_ context.Context, localType string) (int64, error) {
	return int64(len(s.rows[localType])), nil
}

// fakeState is an in-memory StateStore.
type fakeState struct {
	watermarks map[string]time.Time
	runs       []fakeRun
}

type fakeRun struct {
	id       string
	mapping  string
	finished bool
	inserted int64
	updated  int64
	err      error
}

func newFakeState() *fakeState {
	return &fakeState{watermarks: make(map[string]time.Time)}
}

func (s *fakeState) SaveWatermark(_ context.Context, mapping string, t time.Time) error {
	s.watermarks[mapping] = t
	return nil
}

func (s *fakeState) SaveEntityState(_ context.Context, _, _ string, _ time.Time, _ int64) error {
	return nil
}

func (s *fakeState) StartRun(_ context.Context, mapping string, _ time.Time) (string, error) {
	id := fmt.Sprintf("run-%d", len(s.runs)+1)
	s.runs = append(s.runs, fakeRun{id: id, mapping: mapping})
	return id, nil
}

func (s *fakeState) FinishRun(_ context.Context, runID string, _ time.Time, inserted, updated int64, runErr error) error {
	for i := range s.runs {
		if s.runs[i].id == runID {
			s.runs[i].finished = true
			s.runs[i].inserted = inserted
			s.runs[i].updated = updated
			s.runs[i].err = runErr
		}
	}
	return nil
}

// fakeFetcher answers queries from a handler function and logs every query.
type fakeFetcher struct {
	queries []string
	handler func(query string) ([]types.RawRecord, error)
}

func (f *fakeFetcher) Query(_ context.Context, q string) ([]types.RawRecord, error) {
	f.queries = append(f.queries, q)
	return f.handler(q)
}

// queryIDs extracts the quoted ids from an Id+in+('..') query.
func queryIDs(q string) []string {
	start := strings.Index(q, "('")
	if start < 0 {
		return nil
	}
	body := strings.TrimSuffix(q[start+2:], "')")
	return strings.Split(body, "','")
}

// orderMapping has master serviceorder with a foreign key to account.
func orderMapping() *types.Mapping {
	return &types.Mapping{
		Name:       "orders",
		Credential: "prod",
		Active:     true,
		Entities: []*types.MappedEntity{
			{
				Remote: "Account",
				Local:  "account",
				Fields: []*types.MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "SystemModstamp", Local: "systemmodstamp"},
					{Remote: "Name", Local: "name"},
				},
			},
			{
				Remote: "SVMXC__Service_Order__c",
				Local:  "serviceorder",
				Fields: []*types.MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "SystemModstamp", Local: "systemmodstamp"},
					{Remote: "SVMXC__Company__c", Local: "company", Target: "account"},
				},
			},
		},
	}
}

const stamp = "2026-02-01T00:00:00.000+0000"

// scriptedOrg answers the master query with the given service orders and any
// account id-batch query with one account row per requested id.
func scriptedOrg(orders []types.RawRecord) *fakeFetcher {
	f := &fakeFetcher{}
	f.handler = func(q string) ([]types.RawRecord, error) {
		if strings.Contains(q, "FROM+SVMXC__Service_Order__c") {
			return orders, nil
		}
		var recs []types.RawRecord
		for _, id := range queryIDs(q) {
			recs = append(recs, types.RawRecord{
				"Id": id, "SystemModstamp": stamp, "Name": "acct " + id,
			})
		}
		return recs, nil
	}
	return f
}

func TestLoadMappingResolvesDependenciesFirst(t *testing.T) {
	records := newFakeRecords()
	state := newFakeState()
	f := scriptedOrg([]types.RawRecord{
		{"Id": "so1", "SystemModstamp": stamp, "SVMXC__Company__c": "001a"},
	})

	l := New(records, state, nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))

	// The account row lands before the service order that references it.
	assert.Equal(t, []string{"insert account/001a", "insert serviceorder/so1"}, records.mutated)

	// Traversal starts at the master entity.
	assert.Contains(t, f.queries[0], "FROM+SVMXC__Service_Order__c")
	assert.Contains(t, f.queries[1], "Id+in+('001a')")

	require.Len(t, state.runs, 1)
	assert.True(t, state.runs[0].finished)
	assert.EqualValues(t, 2, state.runs[0].inserted)
	assert.NoError(t, state.runs[0].err)
}

func TestLoadMappingIdempotent(t *testing.T) {
	records := newFakeRecords()
	state := newFakeState()
	f := scriptedOrg([]types.RawRecord{
		{"Id": "so1", "SystemModstamp": stamp, "SVMXC__Company__c": "001a"},
	})
	l := New(records, state, nil, fixedNow)

	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))
	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))

	require.Len(t, state.runs, 2)
	assert.Zero(t, state.runs[1].inserted)
	assert.Zero(t, state.runs[1].updated)
	assert.Len(t, records.rows["serviceorder"], 1)
	assert.Len(t, records.rows["account"], 1)
}

func TestUpsertMonotonicity(t *testing.T) {
	records := newFakeRecords()
	state := newFakeState()
	l := New(records, state, nil, fixedNow)

	newer := []types.RawRecord{
		{"Id": "so1", "SystemModstamp": "2026-02-05T00:00:00.000+0000"},
	}
	older := []types.RawRecord{
		{"Id": "so1", "SystemModstamp": "2026-02-01T00:00:00.000+0000"},
	}

	m := orderMapping()
	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg(newer), m))
	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg(older), m))

	// Applying the older version after the newer one never regresses.
	got := records.rows["serviceorder"]["so1"]
	assert.Equal(t, "2026-02-05T00:00:00.000+0000", got["systemmodstamp"])
	assert.NotContains(t, records.mutated, "update serviceorder/so1")
}

func TestUpsertAppliesNewerRemote(t *testing.T) {
	records := newFakeRecords()
	state := newFakeState()
	l := New(records, state, nil, fixedNow)

	m := orderMapping()
	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg([]types.RawRecord{
		{"Id": "so1", "SystemModstamp": "2026-02-01T00:00:00.000+0000"},
	}), m))
	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg([]types.RawRecord{
		{"Id": "so1", "SystemModstamp": "2026-02-05T00:00:00.000+0000"},
	}), m))

	got := records.rows["serviceorder"]["so1"]
	assert.Equal(t, "2026-02-05T00:00:00.000+0000", got["systemmodstamp"])
	assert.EqualValues(t, 1, state.runs[1].updated)
}

func TestDependencyFetchSplitsIntoBatches(t *testing.T) {
	// 300 service orders referencing 300 distinct missing accounts: the
	// dependency fetch must split into chunks of at most 249 ids.
	var orders []types.RawRecord
	for i := 0; i < 300; i++ {
		orders = append(orders, types.RawRecord{
			"Id":                fmt.Sprintf("so%03d", i),
			"SystemModstamp":    stamp,
			"SVMXC__Company__c": fmt.Sprintf("001%03d", i),
		})
	}

	records := newFakeRecords()
	f := scriptedOrg(orders)
	l := New(records, newFakeState(), nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))

	var batchSizes []int
	for _, q := range f.queries {
		if strings.Contains(q, "FROM+Account") {
			batchSizes = append(batchSizes, len(queryIDs(q)))
		}
	}
	assert.Equal(t, []int{249, 51}, batchSizes)
	assert.Len(t, records.rows["account"], 300)
	assert.Len(t, records.rows["serviceorder"], 300)
}

func TestDepthCapAbandonsUnresolvableBatch(t *testing.T) {
	// The referenced account never comes back from the remote: the deferred
	// retry loop must give up at the cap without failing the run.
	f := &fakeFetcher{}
	f.handler = func(q string) ([]types.RawRecord, error) {
		if strings.Contains(q, "FROM+SVMXC__Service_Order__c") {
			return []types.RawRecord{
				{"Id": "so1", "SystemModstamp": stamp, "SVMXC__Company__c": "gone"},
			}, nil
		}
		return nil, nil
	}

	records := newFakeRecords()
	l := New(records, newFakeState(), nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))

	assert.Empty(t, records.rows["serviceorder"])
}

// userMapping has a single entity whose manager field references the entity
// itself.
func userMapping() *types.Mapping {
	return &types.Mapping{
		Name:       "directory",
		Credential: "prod",
		Active:     true,
		Entities: []*types.MappedEntity{
			{
				Remote: "User",
				Local:  "user",
				Fields: []*types.MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "SystemModstamp", Local: "systemmodstamp"},
					{Remote: "ManagerId", Local: "manager", Target: "user"},
				},
			},
		},
	}
}

// scriptedDirectory answers the master query with every user and any id-batch
// query with the requested rows.
func scriptedDirectory(users map[string]types.RawRecord, master ...string) *fakeFetcher {
	f := &fakeFetcher{}
	f.handler = func(q string) ([]types.RawRecord, error) {
		var recs []types.RawRecord
		if ids := queryIDs(q); ids != nil {
			for _, id := range ids {
				recs = append(recs, users[id])
			}
			return recs, nil
		}
		for _, id := range master {
			recs = append(recs, users[id])
		}
		return recs, nil
	}
	return f
}

func TestSelfReferenceChainResolvesDepthFirst(t *testing.T) {
	// u3 reports to u2 reports to u1; the chain bottoms out, so every row
	// lands, managers first.
	users := map[string]types.RawRecord{
		"u1": {"Id": "u1", "SystemModstamp": stamp},
		"u2": {"Id": "u2", "SystemModstamp": stamp, "ManagerId": "u1"},
		"u3": {"Id": "u3", "SystemModstamp": stamp, "ManagerId": "u2"},
	}
	f := scriptedDirectory(users, "u3", "u2", "u1")

	records := newFakeRecords()
	l := New(records, newFakeState(), nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, userMapping()))

	assert.Equal(t, []string{"insert user/u1", "insert user/u2", "insert user/u3"}, records.mutated)
}

func TestSelfManagedRecordInsertsDirectly(t *testing.T) {
	// A row that is its own manager must not trigger a dependency fetch for
	// itself.
	users := map[string]types.RawRecord{
		"u1": {"Id": "u1", "SystemModstamp": stamp, "ManagerId": "u1"},
	}
	f := scriptedDirectory(users, "u1")

	records := newFakeRecords()
	l := New(records, newFakeState(), nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, userMapping()))

	assert.Equal(t, []string{"insert user/u1"}, records.mutated)
	assert.Len(t, f.queries, 1)
}

func TestMutualReferencesSettleUnderSharedBudget(t *testing.T) {
	// Two rows referencing each other can never both resolve. Sub-loads draw
	// on the same round budget as the batches that spawned them, so the pass
	// must settle at the cap instead of fetching forever.
	users := map[string]types.RawRecord{
		"u1": {"Id": "u1", "SystemModstamp": stamp, "ManagerId": "u2"},
		"u2": {"Id": "u2", "SystemModstamp": stamp, "ManagerId": "u1"},
	}
	f := scriptedDirectory(users, "u1", "u2")

	records := newFakeRecords()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(records, newFakeState(), quiet, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, userMapping()))

	assert.Empty(t, records.rows["user"])
	assert.LessOrEqual(t, len(f.queries), maxDepth+1)
}

func TestRecordWithoutIdentityIsSkipped(t *testing.T) {
	records := newFakeRecords()
	f := scriptedOrg([]types.RawRecord{
		{"SystemModstamp": stamp},
		{"Id": "so1", "SystemModstamp": stamp},
	})

	l := New(records, newFakeState(), nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), f, orderMapping()))

	assert.Len(t, records.rows["serviceorder"], 1)
}

func TestLoadMappingPropagatesFetchFailure(t *testing.T) {
	boom := errors.New("transport error: 502")
	f := &fakeFetcher{handler: func(string) ([]types.RawRecord, error) { return nil, boom }}

	state := newFakeState()
	l := New(newFakeRecords(), state, nil, fixedNow)
	err := l.LoadMapping(context.Background(), f, orderMapping())

	assert.ErrorIs(t, err, boom)
	require.Len(t, state.runs, 1)
	assert.ErrorIs(t, state.runs[0].err, boom)
	assert.Empty(t, state.watermarks)
}

func TestLoadMappingAdvancesWatermark(t *testing.T) {
	state := newFakeState()
	m := orderMapping()
	l := New(newFakeRecords(), state, nil, fixedNow)

	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg(nil), m))
	assert.True(t, state.watermarks["orders"].Equal(now))
	assert.True(t, m.LastCompletedRefresh.Equal(now))
}

func TestLoadMappingWatermarkNeverRegresses(t *testing.T) {
	state := newFakeState()
	m := orderMapping()
	m.LastCompletedRefresh = now.Add(time.Hour)

	l := New(newFakeRecords(), state, nil, fixedNow)
	require.NoError(t, l.LoadMapping(context.Background(), scriptedOrg(nil), m))

	assert.Empty(t, state.watermarks)
	assert.True(t, m.LastCompletedRefresh.Equal(now.Add(time.Hour)))
}

func TestLoadMappingSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{handler: func(string) ([]types.RawRecord, error) {
		close(entered)
		<-release
		return nil, nil
	}}

	l := New(newFakeRecords(), newFakeState(), nil, fixedNow)
	m := orderMapping()

	done := make(chan error, 1)
	go func() { done <- l.LoadMapping(context.Background(), f, m) }()
	<-entered

	err := l.LoadMapping(context.Background(), scriptedOrg(nil), m)
	assert.ErrorIs(t, err, types.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
}

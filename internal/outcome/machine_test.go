package outcome_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbeat/internal/outcome"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
	"taskbeat/internal/testsupport"
)

func setup(t *testing.T, opts ...outcome.Option) (*queue.Store, *outcome.Machine, *queue.Entry) {
	t.Helper()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	entry := testsupport.NewEntry(t, store, "importer.patient",
		queue.Document{"resourceType": "Patient", "name": "Ann"},
		testsupport.WithProcessing())
	entry.AffectedResources = []queue.Reference{{ResourceType: "Patient", ID: "old"}}
	require.NoError(t, store.Save(context.Background(), entry))
	return store, outcome.New(store, opts...), entry
}

func TestSimpleStrategiesSetStatus(t *testing.T) {
	cases := []struct {
		strategy outcome.Strategy
		status   queue.Status
	}{
		{outcome.Reject{}, queue.StatusRejected},
		{outcome.Duplicate{}, queue.StatusDuplicated},
		{outcome.Fail{}, queue.StatusFailed},
		{outcome.Skip{}, queue.StatusSkipped},
		{outcome.Sync{}, queue.StatusSynced},
		{outcome.MoveToManual{}, queue.StatusManual},
	}
	for _, tc := range cases {
		t.Run(tc.strategy.Name(), func(t *testing.T) {
			store, machine, entry := setup(t)
			resource := queue.Document{"resourceType": "Patient", "name": "Bob"}

			err := machine.Apply(context.Background(), entry, resource,
				outcome.To(tc.strategy).WithMessage("because").WithInfo(map[string]any{"k": "v"}))
			require.NoError(t, err)

			loaded := testsupport.MustGet(t, store, entry.ID)
			assert.Equal(t, tc.status, loaded.Status)
			assert.False(t, loaded.Processing)
			assert.Equal(t, "because", loaded.ProcessingMessage)
			assert.Equal(t, map[string]any{"k": "v"}, loaded.ProcessingInfo)
			assert.Equal(t, "Bob", loaded.Payload["name"], "payload holds the resource snapshot")
			assert.Equal(t, []queue.Reference{{ResourceType: "Patient", ID: "old"}}, loaded.AffectedResources,
				"affected resources are untouched")
		})
	}
}

func TestSyncToReplacesAffectedResources(t *testing.T) {
	store, machine, entry := setup(t)

	err := machine.Apply(context.Background(), entry, nil, outcome.To(outcome.SyncTo{Resources: []queue.Resource{
		queue.Document{"resourceType": "Patient", "id": "p1"},
		queue.Reference{ResourceType: "Encounter", ID: "e1"},
	}}))
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, store, entry.ID)
	assert.Equal(t, queue.StatusSynced, loaded.Status)
	assert.Equal(t, []queue.Reference{
		{ResourceType: "Patient", ID: "p1"},
		{ResourceType: "Encounter", ID: "e1"},
	}, loaded.AffectedResources)
	assert.Equal(t, "Ann", loaded.Payload["name"], "nil resource keeps the payload")
}

func TestFuzzymatchToRecordsResources(t *testing.T) {
	store, machine, entry := setup(t)

	err := machine.Apply(context.Background(), entry, nil, outcome.To(outcome.FuzzymatchTo{Resources: []queue.Resource{
		queue.Reference{ResourceType: "Patient", ID: "p9"},
	}}))
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, store, entry.ID)
	assert.Equal(t, queue.StatusFuzzymatched, loaded.Status)
	assert.Equal(t, []queue.Reference{{ResourceType: "Patient", ID: "p9"}}, loaded.AffectedResources)
}

func TestSyncToRejectsUnidentifiedResource(t *testing.T) {
	store, machine, entry := setup(t)

	err := machine.Apply(context.Background(), entry, nil, outcome.To(outcome.SyncTo{Resources: []queue.Resource{
		queue.Document{"resourceType": "Patient"},
	}}))
	require.Error(t, err)
	assert.True(t, testsupport.MustGet(t, store, entry.ID).Processing, "entry is not transitioned on error")
}

func TestCreateStoresResourceAndSyncs(t *testing.T) {
	store, machine, entry := setup(t)
	resource := queue.Document{"resourceType": "Patient", "name": "Cy"}

	require.NoError(t, machine.Apply(context.Background(), entry, resource, outcome.To(outcome.Create{})))

	loaded := testsupport.MustGet(t, store, entry.ID)
	assert.Equal(t, queue.StatusSynced, loaded.Status)
	require.Len(t, loaded.AffectedResources, 1)
	ref := loaded.AffectedResources[0]
	assert.Equal(t, "Patient", ref.ResourceType)

	stored, err := store.GetResource(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Cy", stored["name"])
	_, hasID := loaded.Payload["id"]
	assert.False(t, hasID, "payload snapshot is taken before the resource is stored")
}

func TestCreateHookOverride(t *testing.T) {
	var called bool
	store, machine, entry := setup(t, outcome.WithCreate(func(ctx context.Context, m *outcome.Machine, e *queue.Entry, _ queue.Resource) error {
		called = true
		return m.Mark(ctx, e, queue.StatusManual, "review first", nil)
	}))

	require.NoError(t, machine.Apply(context.Background(), entry, nil, outcome.To(outcome.Create{})))
	assert.True(t, called)
	assert.Equal(t, queue.StatusManual, testsupport.MustGet(t, store, entry.ID).Status)
}

func TestMergeAndApplyNeedHooks(t *testing.T) {
	_, machine, entry := setup(t)
	ctx := context.Background()

	err := machine.Apply(ctx, entry, nil, outcome.To(outcome.MergeTo{Target: queue.Reference{ResourceType: "Patient", ID: "p1"}}))
	assert.ErrorIs(t, err, outcome.ErrNoMergeHandler)
	assert.ErrorIs(t, err, services.ErrConfiguration)

	err = machine.Apply(ctx, entry, nil, outcome.To(outcome.Apply{}))
	assert.ErrorIs(t, err, outcome.ErrNoApplyHandler)
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestMergeHookReceivesTarget(t *testing.T) {
	var gotTarget queue.Resource
	store, machine, entry := setup(t, outcome.WithMerge(func(ctx context.Context, m *outcome.Machine, e *queue.Entry, _ queue.Resource, target queue.Resource) error {
		gotTarget = target
		ref, _ := target.Document().Reference()
		return m.MarkAffected(ctx, e, queue.StatusSynced, []queue.Reference{ref}, "merged", nil)
	}))

	target := queue.Reference{ResourceType: "Patient", ID: "p1"}
	require.NoError(t, machine.Apply(context.Background(), entry, nil, outcome.To(outcome.MergeTo{Target: target})))
	assert.Equal(t, target, gotTarget)

	loaded := testsupport.MustGet(t, store, entry.ID)
	assert.Equal(t, "merged", loaded.ProcessingMessage)
	assert.Equal(t, []queue.Reference{target}, loaded.AffectedResources)
}

func TestApplyHook(t *testing.T) {
	store, machine, entry := setup(t, outcome.WithApply(func(ctx context.Context, m *outcome.Machine, e *queue.Entry, _ queue.Resource) error {
		return m.Mark(ctx, e, queue.StatusSynced, "applied", nil)
	}))

	require.NoError(t, machine.Apply(context.Background(), entry, nil, outcome.To(outcome.Apply{})))
	assert.Equal(t, "applied", testsupport.MustGet(t, store, entry.ID).ProcessingMessage)
}

func TestMissingStrategyIsConfigurationError(t *testing.T) {
	_, machine, entry := setup(t)

	err := machine.Apply(context.Background(), entry, nil, outcome.Transition{})
	var strategyErr *outcome.StrategyError
	require.True(t, errors.As(err, &strategyErr))
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

type failingStore struct{}

func (failingStore) Save(context.Context, *queue.Entry) error { return errors.New("disk full") }

func (failingStore) SaveResource(context.Context, queue.Document) (queue.Reference, error) {
	return queue.Reference{}, errors.New("disk full")
}

func TestSaveFailureSurfaces(t *testing.T) {
	machine := outcome.New(failingStore{})
	err := machine.Apply(context.Background(), &queue.Entry{ID: "x"}, nil, outcome.To(outcome.Sync{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

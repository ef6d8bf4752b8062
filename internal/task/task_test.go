package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbeat/internal/dispatch"
	"taskbeat/internal/payload"
	"taskbeat/internal/queue"
	"taskbeat/internal/services"
	"taskbeat/internal/task"
	"taskbeat/internal/testsupport"
)

type env struct {
	store *queue.Store
	queue *task.Queue
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	registry := dispatch.NewRegistry()
	dispatcher := dispatch.New(registry, store, nil, nil)
	return &env{store: store, queue: task.NewQueue(cfg, store, registry, dispatcher, nil)}
}

func sendWelcome(_ context.Context, doc queue.Document) (any, error) {
	return map[string]any{"sent_to": doc["email"]}, nil
}

func TestDefineDerivesNameFromFunction(t *testing.T) {
	e := newEnv(t)

	welcome, err := e.queue.Define(sendWelcome)
	require.NoError(t, err)
	assert.Equal(t, "task_test.sendWelcome", welcome.Name())
	assert.Equal(t, 10, welcome.Priority())
	assert.True(t, welcome.Immediate())

	got, ok := e.queue.Lookup(welcome.Name())
	require.True(t, ok)
	assert.Same(t, welcome, got)

	_, err = e.queue.Define(sendWelcome)
	assert.ErrorIs(t, err, services.ErrConfiguration, "names are unique")

	_, err = e.queue.Define(sendWelcome, task.WithName("mail.welcome"))
	assert.NoError(t, err)
}

func TestDelayQueuesForNextBeat(t *testing.T) {
	e := newEnv(t)
	welcome := e.queue.MustDefine(sendWelcome, task.WithPriority(3), task.WithImmediate(false))
	related := queue.Reference{ResourceType: "Patient", ID: "p1"}

	entry, err := welcome.Delay(context.Background(), queue.Document{"email": "a@example.com"}, related)
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, queue.StatusPending, loaded.Status)
	assert.False(t, loaded.Processing)
	assert.Equal(t, "task_test.sendWelcome", loaded.Source)
	assert.Equal(t, 3, loaded.Priority)
	assert.Equal(t, queue.DefaultQueueName, loaded.Queue)
	assert.Equal(t, []queue.Reference{related}, loaded.AffectedResources)
	assert.Equal(t, "a@example.com", loaded.Payload["email"])
	assert.Empty(t, loaded.PayloadHash, "hash is computed on first processing")
}

func TestDelayKeepsLargeIntegers(t *testing.T) {
	e := newEnv(t)
	counter := e.queue.MustDefine(sendWelcome, task.WithName("stats.count"), task.WithImmediate(false))

	entry, err := counter.Delay(context.Background(), queue.Document{"n": int64(9007199254740993)})
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, json.Number("9007199254740993"), loaded.Payload["n"])
}

func TestDelayEagerProcessesInCaller(t *testing.T) {
	e := newEnv(t, testsupport.WithEager())
	welcome := e.queue.MustDefine(sendWelcome)
	doc := queue.Document{"email": "b@example.com"}

	entry, err := welcome.Delay(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSynced, entry.Status)

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, queue.StatusSynced, loaded.Status)
	assert.False(t, loaded.Processing)
	assert.Equal(t, map[string]any{"sent_to": "b@example.com"}, loaded.ProcessingInfo)

	want, err := payload.Hash(doc)
	require.NoError(t, err)
	assert.Equal(t, want, loaded.PayloadHash)
}

func TestDelayImmediateDispatchesInBackground(t *testing.T) {
	e := newEnv(t)
	welcome := e.queue.MustDefine(sendWelcome)

	entry, err := welcome.Delay(context.Background(), queue.Document{"email": "c@example.com"})
	require.NoError(t, err)
	e.queue.Wait()

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, queue.StatusSynced, loaded.Status)
	assert.False(t, loaded.Processing)
}

func TestFailureMarksEntryFailed(t *testing.T) {
	e := newEnv(t, testsupport.WithEager())
	bounce := e.queue.MustDefine(func(context.Context, queue.Document) (any, error) {
		return nil, task.Fail("mailbox full", map[string]any{"retry": false})
	}, task.WithName("mail.bounce"))

	entry, err := bounce.Delay(context.Background(), queue.Document{})
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, queue.StatusFailed, loaded.Status)
	assert.Equal(t, "mailbox full", loaded.ProcessingMessage)
	assert.Equal(t, map[string]any{"retry": false}, loaded.ProcessingInfo)
}

func TestUnexpectedErrorMarksException(t *testing.T) {
	e := newEnv(t, testsupport.WithEager())
	broken := e.queue.MustDefine(func(context.Context, queue.Document) (any, error) {
		return nil, errors.New("smtp: connection refused")
	}, task.WithName("mail.broken"))

	entry, err := broken.Delay(context.Background(), queue.Document{})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusException, testsupport.MustGet(t, e.store, entry.ID).Status)
}

func TestSchemaRejectsPayloadBeforePersisting(t *testing.T) {
	e := newEnv(t)
	schema := payload.MustCompileSchema(`{email: string, attempts?: int & >=0}`)
	welcome := e.queue.MustDefine(sendWelcome, task.WithSchema(schema), task.WithImmediate(false))

	_, err := welcome.Delay(context.Background(), queue.Document{"attempts": -1})
	var invalid *payload.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = welcome.Invoke(context.Background(), queue.Document{"email": 5})
	require.ErrorAs(t, err, &invalid)

	entries, err := e.store.List(context.Background(), queue.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	result, err := welcome.Invoke(context.Background(), queue.Document{"email": "d@example.com", "attempts": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sent_to": "d@example.com"}, result)
}

func TestHashIsSetOnce(t *testing.T) {
	e := newEnv(t, testsupport.WithEager())
	welcome := e.queue.MustDefine(sendWelcome)

	entry, err := welcome.Delay(context.Background(), queue.Document{"email": "e@example.com"})
	require.NoError(t, err)
	first := testsupport.MustGet(t, e.store, entry.ID).PayloadHash
	require.NotEmpty(t, first)

	entry.PayloadHash = ""
	entry.Payload = queue.Document{"email": "changed@example.com"}
	require.NoError(t, e.store.Save(context.Background(), entry))
	assert.Equal(t, first, testsupport.MustGet(t, e.store, entry.ID).PayloadHash)
}

func TestAddCollectionBuildsBundle(t *testing.T) {
	e := newEnv(t)
	resources := []queue.Resource{
		queue.Document{"resourceType": "Patient", "id": "p1"},
		queue.Document{"resourceType": "Observation"},
	}

	entry, err := e.queue.AddCollection(context.Background(), "export", 5, false, resources)
	require.NoError(t, err)

	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, "Bundle", loaded.Payload.ResourceType())
	assert.Equal(t, task.BundleCollection, loaded.Payload["type"])
	assert.Len(t, loaded.Payload["entry"], 2)
	assert.Equal(t, []queue.Reference{{ResourceType: "Patient", ID: "p1"}}, loaded.AffectedResources)
	assert.Equal(t, 5, loaded.Priority)
}

func TestAddToQueueSingleResource(t *testing.T) {
	e := newEnv(t)

	entry, err := e.queue.AddToQueue(context.Background(), "export", 1, false, queue.Document{"resourceType": "Patient"})
	require.NoError(t, err)
	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Empty(t, loaded.AffectedResources)
	assert.Equal(t, "Patient", loaded.Payload.ResourceType())
}

func TestMakeBundleTransactionRequests(t *testing.T) {
	bundle, err := task.MakeBundle([]queue.Resource{
		queue.Document{"resourceType": "Patient", "id": "p1"},
		queue.Document{"resourceType": "Patient"},
	}, task.BundleTransaction)
	require.NoError(t, err)

	entries := bundle["entry"].([]any)
	assert.Equal(t, map[string]any{"method": "PUT", "url": "/Patient/p1"}, entries[0].(map[string]any)["request"])
	assert.Equal(t, map[string]any{"method": "POST", "url": "/Patient"}, entries[1].(map[string]any)["request"])
}

func TestQueueUsesConfiguredName(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQueueName("Export"))
	store := testsupport.MustOpenStore(t, cfg)
	q := task.NewQueue(cfg, store, dispatch.NewRegistry(), nil, nil)
	assert.Equal(t, "Export", q.Name())

	entry, err := q.AddToQueue(context.Background(), "export", 1, false, queue.Document{"resourceType": "Patient"})
	require.NoError(t, err)
	assert.Equal(t, "Export", testsupport.MustGet(t, store, entry.ID).Queue)
}

func TestEnqueueUsesTaskSettings(t *testing.T) {
	e := newEnv(t)
	schema := payload.MustCompileSchema(`{email: string}`)
	e.queue.MustDefine(sendWelcome, task.WithName("mail.welcome"), task.WithPriority(2), task.WithImmediate(false), task.WithSchema(schema))

	entry, err := e.queue.Enqueue(context.Background(), task.Request{Source: "mail.welcome", Payload: queue.Document{"email": "f@example.com"}})
	require.NoError(t, err)
	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, 2, loaded.Priority)
	assert.False(t, loaded.Processing)

	_, err = e.queue.Enqueue(context.Background(), task.Request{Source: "mail.welcome", Payload: queue.Document{}})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = e.queue.Enqueue(context.Background(), task.Request{Payload: queue.Document{}})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestEnqueueUntypedSourceUsesOverrides(t *testing.T) {
	e := newEnv(t)
	priority, immediate := 7, false

	entry, err := e.queue.Enqueue(context.Background(), task.Request{
		Source:    "ehr",
		Priority:  &priority,
		Immediate: &immediate,
		Payload:   queue.Document{"resourceType": "Patient", "id": "p4"},
	})
	require.NoError(t, err)
	loaded := testsupport.MustGet(t, e.store, entry.ID)
	assert.Equal(t, 7, loaded.Priority)
	assert.Equal(t, []queue.Reference{{ResourceType: "Patient", ID: "p4"}}, loaded.AffectedResources)
}

package splits

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	tablescantest "github.com/teranos/tablescan/internal/testing"
)

// catalogStub serves one table to the resolver
type catalogStub struct {
	table *inputjob.TableInfo
	parts []*inputjob.PartInfo
}

func (c catalogStub) GetTable(context.Context, string, string) (*inputjob.TableInfo, error) {
	return c.table.Clone(), nil
}

func (c catalogStub) ListPartitions(context.Context, string, string, string, int) ([]*inputjob.PartInfo, error) {
	out := make([]*inputjob.PartInfo, len(c.parts))
	for i, p := range c.parts {
		out[i] = p.Clone()
	}
	return out, nil
}

// recordingReader remembers the partitions it was asked to read
type recordingReader struct {
	mu    sync.Mutex
	reads []string
	fail  map[string]error
}

func (r *recordingReader) Read(_ context.Context, _ *inputjob.TableInfo, part *inputjob.PartInfo, props inputjob.Properties) (ReadStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, part.Location)
	if err := r.fail[part.Location]; err != nil {
		return ReadStats{}, err
	}
	return ReadStats{Location: part.Location, Files: 1}, nil
}

func ordersTable() *inputjob.TableInfo {
	return &inputjob.TableInfo{
		Namespace:     "sales_db",
		Name:          "orders",
		PartitionKeys: []inputjob.Column{{Name: "region", Type: "string"}},
		Location:      "file:///warehouse/sales_db/orders",
		StorageFormat: inputjob.StorageFormat{InputFormat: "parquet", StorageDriver: "parquet"},
	}
}

func regions(names ...string) []*inputjob.PartInfo {
	parts := make([]*inputjob.PartInfo, len(names))
	for i, n := range names {
		parts[i] = &inputjob.PartInfo{
			Values:   map[string]string{"region": n},
			Location: "file:///warehouse/sales_db/orders/region=" + n,
		}
	}
	return parts
}

func resolved(t *testing.T, stub catalogStub) *inputjob.Descriptor {
	t.Helper()
	d := inputjob.Create("sales_db", stub.table.Name, "", "sqlite://tablescan.db", nil)
	require.NoError(t, inputjob.NewResolver(stub).Resolve(context.Background(), d))
	return d
}

type harness struct {
	pool   *dispatch.WorkerPool
	reader *recordingReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	pool := dispatch.NewWorkerPool(context.Background(), tablescantest.CreateTestDB(t), dispatch.DefaultPoolConfig(), log)
	reader := &recordingReader{}
	RegisterHandlers(pool.Registry(), pool.Queue(), reader, log)
	return &harness{pool: pool, reader: reader}
}

func (h *harness) submit(t *testing.T, d *inputjob.Descriptor) *dispatch.Job {
	t.Helper()
	payload, err := inputjob.Marshal(d)
	require.NoError(t, err)
	fp, err := inputjob.Fingerprint(d)
	require.NoError(t, err)
	job, err := dispatch.NewJob(PlanHandlerName, fp, payload, 0)
	require.NoError(t, err)
	require.NoError(t, h.pool.Queue().Enqueue(context.Background(), job))
	return job
}

func (h *harness) get(t *testing.T, id string) *dispatch.Job {
	t.Helper()
	job, err := h.pool.Queue().GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestPlanAndReadPartitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := resolved(t, catalogStub{table: ordersTable(), parts: regions("US", "EU", "APAC")})
	plan := h.submit(t, d)

	n, err := h.pool.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, []string{
		"file:///warehouse/sales_db/orders/region=US",
		"file:///warehouse/sales_db/orders/region=EU",
		"file:///warehouse/sales_db/orders/region=APAC",
	}, h.reader.reads, "partitions are read in resolution order")

	got := h.get(t, plan.ID)
	assert.Equal(t, dispatch.JobStatusCompleted, got.Status)
	assert.Equal(t, dispatch.Progress{Current: 3, Total: 3}, got.Progress)

	tasks, err := h.pool.Queue().ListTasksByParent(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, ReadHandlerName, task.HandlerName)
		assert.Equal(t, plan.Source, task.Source)
		assert.Equal(t, dispatch.JobStatusCompleted, task.Status)

		var payload TaskPayload
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		assert.Equal(t, i, payload.Index)
		assert.Equal(t, d.Partitions(), payload.Descriptor.Partitions())
		assert.Equal(t, "parquet", payload.Descriptor.Properties()[inputjob.PropertyStorageDriver])
	}
}

func TestPlanUnpartitionedTable(t *testing.T) {
	h := newHarness(t)

	table := ordersTable()
	table.Name = "events"
	table.PartitionKeys = nil
	table.Location = "file:///warehouse/events"
	d := resolved(t, catalogStub{table: table})

	h.submit(t, d)
	_, err := h.pool.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///warehouse/events"}, h.reader.reads)
}

func TestPlanWithNoMatchingPartitions(t *testing.T) {
	h := newHarness(t)

	d := resolved(t, catalogStub{table: ordersTable(), parts: nil})
	plan := h.submit(t, d)

	n, err := h.pool.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.reader.reads)
	assert.Equal(t, dispatch.JobStatusCompleted, h.get(t, plan.ID).Status)
}

func TestPlanRejectsUnresolvedDescriptor(t *testing.T) {
	h := newHarness(t)

	plan := h.submit(t, inputjob.Create("sales_db", "orders", "", "sqlite://tablescan.db", nil))
	_, err := h.pool.Drain(context.Background())
	require.NoError(t, err)

	got := h.get(t, plan.ID)
	assert.Equal(t, dispatch.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "not resolved")
	assert.Equal(t, 0, got.RetryCount, "unresolved descriptors are not retried")
}

func TestPlanResumesAfterPartialEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := resolved(t, catalogStub{table: ordersTable(), parts: regions("US", "EU", "APAC")})
	plan := h.submit(t, d)

	// a previous attempt enqueued the first read job before failing
	first, err := dispatch.NewChildJob(ReadHandlerName, plan.Source, []byte(`{}`), 1, plan.ID)
	require.NoError(t, err)
	require.NoError(t, h.pool.Queue().Enqueue(ctx, first))

	handler := NewPlanHandler(h.pool.Queue(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, handler.Execute(ctx, plan))

	tasks, err := h.pool.Queue().ListTasksByParent(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	var payload TaskPayload
	require.NoError(t, json.Unmarshal(tasks[1].Payload, &payload))
	assert.Equal(t, 1, payload.Index)
}

func TestReadFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.reader.fail = map[string]error{
		"file:///warehouse/sales_db/orders/region=EU": errors.New("corrupt footer"),
	}
	d := resolved(t, catalogStub{table: ordersTable(), parts: regions("US", "EU")})
	plan := h.submit(t, d)

	_, err := h.pool.Drain(ctx)
	require.NoError(t, err)

	tasks, err := h.pool.Queue().ListTasksByParent(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, dispatch.JobStatusCompleted, tasks[0].Status)
	assert.Equal(t, dispatch.JobStatusFailed, tasks[1].Status)
	assert.Contains(t, tasks[1].Error, "corrupt footer")
	assert.Equal(t, dispatch.JobStatusCompleted, h.get(t, plan.ID).Status, "a failed read does not fail the plan")
}

func TestReadHandlerRejectsBadPayloads(t *testing.T) {
	handler := NewReadHandler(&recordingReader{}, nil)
	ctx := context.Background()

	d := resolved(t, catalogStub{table: ordersTable(), parts: regions("US")})

	outOfRange, err := json.Marshal(TaskPayload{Descriptor: d, Index: 1})
	require.NoError(t, err)
	unresolved, err := json.Marshal(TaskPayload{Descriptor: inputjob.Create("", "t", "", "a", nil)})
	require.NoError(t, err)

	for name, payload := range map[string][]byte{
		"garbage":      []byte(`{"descriptor":`),
		"no desc":      []byte(`{"index":0}`),
		"unresolved":   unresolved,
		"out of range": outOfRange,
		"null partition": []byte(`{"index":0,"descriptor":{"format_version":"1.0.0","namespace":"db",` +
			`"entity_name":"t","filter":"","metadata_service_address":"m",` +
			`"table_info":{"namespace":"db","name":"t","storage_format":{}},"partitions":[null],"properties":{}}}`),
	} {
		t.Run(name, func(t *testing.T) {
			err := handler.Execute(ctx, &dispatch.Job{HandlerName: ReadHandlerName, Payload: payload})
			assert.Error(t, err)
			if name == "null partition" {
				assert.True(t, errors.Is(err, inputjob.ErrPartialResolution))
			}
		})
	}
}

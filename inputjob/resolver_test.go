package inputjob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/tablescan/errors"
)

type fakeClient struct {
	mu         sync.Mutex
	tables     map[string]*TableInfo
	partitions map[string][]*PartInfo
	tableErr   error
	partErr    error

	tableCalls int
	partCalls  int
	lastFilter string
	lastMax    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:     map[string]*TableInfo{},
		partitions: map[string][]*PartInfo{},
	}
}

func (f *fakeClient) GetTable(_ context.Context, namespace, table string) (*TableInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableCalls++
	if f.tableErr != nil {
		return nil, f.tableErr
	}
	t, ok := f.tables[namespace+"."+table]
	if !ok {
		return nil, errors.NewNotFoundError("table %s.%s", namespace, table)
	}
	return t, nil
}

func (f *fakeClient) ListPartitions(_ context.Context, namespace, table, filter string, max int) ([]*PartInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partCalls++
	f.lastFilter = filter
	f.lastMax = max
	if f.partErr != nil {
		return nil, f.partErr
	}
	parts := f.partitions[namespace+"."+table]
	if max >= 0 && len(parts) > max {
		parts = parts[:max]
	}
	return parts, nil
}

func TestResolvePartitionedTable(t *testing.T) {
	client := newFakeClient()
	table := ordersTable()
	parts := ordersPartitions()
	client.tables["sales_db.orders"] = table
	client.partitions["sales_db.orders"] = parts

	r := NewResolver(client, WithLogger(zaptest.NewLogger(t).Sugar()), WithMaxPartitions(10))
	d := Create("sales_db", "orders", "region='US'", "meta://host:9083", strPtr("hcat/_HOST@REALM"))

	require.NoError(t, r.Resolve(context.Background(), d))

	assert.True(t, d.IsResolved())
	assert.Same(t, table, d.TableInfo())
	got := d.Partitions()
	require.Len(t, got, 2)
	assert.Same(t, parts[0], got[0])
	assert.Same(t, parts[1], got[1])
	assert.Equal(t, "region='US'", client.lastFilter)
	assert.Equal(t, 11, client.lastMax, "one past the cap")

	driver, ok := d.Properties().Get(PropertyStorageDriver)
	assert.True(t, ok)
	assert.Equal(t, "parquet", driver)
}

func TestResolveMaxPartitions(t *testing.T) {
	regions := []string{"US", "EU", "APAC"}
	newClient := func() *fakeClient {
		client := newFakeClient()
		client.tables["sales_db.orders"] = ordersTable()
		for _, region := range regions {
			client.partitions["sales_db.orders"] = append(client.partitions["sales_db.orders"],
				&PartInfo{Values: map[string]string{"region": region}, Location: "file:///orders/region=" + region})
		}
		return client
	}

	tests := []struct {
		name      string
		max       int
		want      int
		truncated bool
	}{
		{"cap above match count", 5, 3, false},
		{"cap equal to match count", 3, 3, false},
		{"cap below match count", 2, 2, true},
		{"zero cap", 0, 0, true},
		{"unlimited", UnlimitedPartitions, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			r := NewResolver(newClient(), WithLogger(zap.New(core).Sugar()), WithMaxPartitions(tt.max))
			d := Create("sales_db", "orders", "", "meta://host:9083", nil)

			require.NoError(t, r.Resolve(context.Background(), d))
			require.Len(t, d.Partitions(), tt.want)
			for i, p := range d.Partitions() {
				assert.Equal(t, regions[i], p.Values["region"], "first partitions are kept in order")
			}

			warnings := logs.FilterMessageSnippet("descriptor truncated").All()
			if tt.truncated {
				require.Len(t, warnings, 1)
				assert.Equal(t, int64(tt.max), warnings[0].ContextMap()["max_partitions"])
			} else {
				assert.Empty(t, warnings)
			}
		})
	}
}

func TestResolveBoundAddress(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()
	r := NewResolver(client, WithAddress("sqlite://catalog.db"))

	d := Create("sales_db", "orders", "", "sqlite://other.db", nil)
	err := r.Resolve(context.Background(), d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressMismatch))
	assert.False(t, d.IsResolved())
	assert.Zero(t, client.tableCalls, "service is not contacted")

	d = Create("sales_db", "orders", "", "sqlite://catalog.db", nil)
	require.NoError(t, r.Resolve(context.Background(), d))
	assert.True(t, d.IsResolved())
}

func TestResolveNoMatchingPartitions(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()

	r := NewResolver(client)
	d := Create("sales_db", "orders", "region='MARS'", "meta://host:9083", nil)

	require.NoError(t, r.Resolve(context.Background(), d))
	assert.True(t, d.IsResolved())
	assert.NotNil(t, d.Partitions())
	assert.Empty(t, d.Partitions())
	assert.Equal(t, UnlimitedPartitions, client.lastMax)
}

func TestResolveUnpartitionedTable(t *testing.T) {
	client := newFakeClient()
	client.tables["default.events"] = &TableInfo{
		Namespace:     "default",
		Name:          "events",
		Columns:       []Column{{Name: "payload", Type: "string"}},
		Location:      "file:///warehouse/events",
		StorageFormat: StorageFormat{InputFormat: "text"},
		Parameters:    map[string]string{"delimiter": ","},
	}

	r := NewResolver(client, WithLogger(zaptest.NewLogger(t).Sugar()))
	d := Create("", "events", "dt='2024-01-01'", "meta://host:9083", nil)

	require.NoError(t, r.Resolve(context.Background(), d))

	assert.Equal(t, 0, client.partCalls)
	parts := d.Partitions()
	require.Len(t, parts, 1)
	assert.Equal(t, "file:///warehouse/events", parts[0].Location)
	assert.Empty(t, parts[0].Values)
	assert.Equal(t, ",", parts[0].Properties["delimiter"])

	_, ok := d.Properties().Get(PropertyStorageDriver)
	assert.False(t, ok)

	parts[0].Properties["delimiter"] = "|"
	assert.Equal(t, ",", d.TableInfo().Parameters["delimiter"])
}

func TestResolveUnpartitionedTableWithoutParameters(t *testing.T) {
	client := newFakeClient()
	client.tables["default.events"] = &TableInfo{
		Namespace: "default",
		Name:      "events",
		Location:  "file:///warehouse/events",
	}

	d := Create("", "events", "", "meta://host:9083", nil)
	require.NoError(t, NewResolver(client).Resolve(context.Background(), d))

	require.Len(t, d.Partitions(), 1)
	assert.Nil(t, d.Partitions()[0].Properties)
}

func TestResolveKeepsExistingStorageDriverProperty(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()

	d := Create("sales_db", "orders", "", "meta://host:9083", nil)
	d.Properties().Set(PropertyStorageDriver, "orc")

	require.NoError(t, NewResolver(client).Resolve(context.Background(), d))
	assert.Equal(t, "orc", d.Properties()[PropertyStorageDriver])
}

func TestResolveErrorsLeaveDescriptorUnresolved(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeClient)
		check func(*testing.T, error)
	}{
		{
			name:  "table not found",
			setup: func(*fakeClient) {},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.IsNotFoundError(err))
			},
		},
		{
			name: "service unavailable",
			setup: func(f *fakeClient) {
				f.tableErr = errors.Wrap(errors.ErrServiceUnavailable, "connection refused")
			},
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
			},
		},
		{
			name: "partition listing fails",
			setup: func(f *fakeClient) {
				f.tables["sales_db.orders"] = ordersTable()
				f.partErr = errors.New("bad filter")
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "bad filter")
				assert.NotEmpty(t, errors.GetAllDetails(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.setup(client)

			d := Create("sales_db", "orders", "region='US'", "meta://host:9083", nil)
			err := NewResolver(client).Resolve(context.Background(), d)

			require.Error(t, err)
			tt.check(t, err)
			assert.False(t, d.IsResolved())
			assert.Nil(t, d.TableInfo())
			assert.Nil(t, d.Partitions())
			assert.Empty(t, d.Properties())
		})
	}
}

func TestResolveTwice(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()
	r := NewResolver(client)
	d := Create("sales_db", "orders", "", "meta://host:9083", nil)

	require.NoError(t, r.Resolve(context.Background(), d))
	calls := client.tableCalls

	err := r.Resolve(context.Background(), d)
	assert.True(t, errors.Is(err, ErrAlreadyResolved))
	assert.Equal(t, calls, client.tableCalls)
}

func TestResolveNilTable(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = nil

	d := Create("sales_db", "orders", "", "meta://host:9083", nil)
	err := NewResolver(client).Resolve(context.Background(), d)

	assert.True(t, errors.Is(err, ErrNilTable))
	assert.False(t, d.IsResolved())
}

func TestResolveRateLimit(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()

	r := NewResolver(client, WithRateLimit(1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// GetTable takes the only token; ListPartitions would wait a second.
	d := Create("sales_db", "orders", "", "meta://host:9083", nil)
	err := r.Resolve(ctx, d)
	require.Error(t, err)
	assert.False(t, d.IsResolved())
	assert.Equal(t, 0, client.partCalls)

	r.SetRateLimit(0, 0)
	d = Create("sales_db", "orders", "", "meta://host:9083", nil)
	require.NoError(t, r.Resolve(context.Background(), d))
}

func TestResolveCanceledContext(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(client, WithRateLimit(1, 1))
	d := Create("sales_db", "orders", "", "meta://host:9083", nil)
	assert.Error(t, r.Resolve(ctx, d))
	assert.False(t, d.IsResolved())
}

func TestResolveConcurrentDescriptors(t *testing.T) {
	client := newFakeClient()
	client.tables["sales_db.orders"] = ordersTable()
	client.partitions["sales_db.orders"] = ordersPartitions()
	r := NewResolver(client)

	var wg sync.WaitGroup
	descs := make([]*Descriptor, 8)
	for i := range descs {
		descs[i] = Create("sales_db", "orders", "", "meta://host:9083", nil)
		wg.Add(1)
		go func(d *Descriptor) {
			defer wg.Done()
			assert.NoError(t, r.Resolve(context.Background(), d))
		}(descs[i])
	}
	wg.Wait()

	for _, d := range descs {
		assert.Len(t, d.Partitions(), 2)
	}
}

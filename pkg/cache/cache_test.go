package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

var tenant = permission.TenantContext{OrganizationID: "org-1"}

var ruleQuery = store.RuleQuery{
	ResourceType: "asset",
	Principals:   []permission.PrincipalRef{permission.RoleRef("R1")},
}

// countingStore counts the lookups that reach the backing store
type countingStore struct {
	*store.MemoryStore
	dataCalls atomic.Int32
	typeCalls atomic.Int32
	gate      chan struct{}
}

func (c *countingStore) ListDataPermissions(ctx context.Context, t permission.TenantContext, q store.RuleQuery) ([]permission.DataPermission, error) {
	c.dataCalls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.MemoryStore.ListDataPermissions(ctx, t, q)
}

func (c *countingStore) GetResourceType(ctx context.Context, t permission.TenantContext, name string) (*permission.ResourceType, error) {
	c.typeCalls.Add(1)
	return c.MemoryStore.GetResourceType(ctx, t, name)
}

func newBacking(t *testing.T) *countingStore {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateResourceType(ctx, &permission.ResourceType{
		OrganizationID: tenant.OrganizationID,
		Name:           "asset",
		Fields:         []string{"name"},
	}))
	require.NoError(t, s.CreateDataPermission(ctx, &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R1"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeAll,
		IsActive:       true,
	}))
	return &countingStore{MemoryStore: s}
}

func TestStore_ServesRepeatedReadsFromMemory(t *testing.T) {
	backing := newBacking(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := New(backing, DefaultConfig(), WithMetrics(metrics))
	ctx := context.Background()

	first, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	second, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, permission.ScopeAll, second[0].ScopeType)
	assert.EqualValues(t, 1, backing.dataCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RuleCacheHitsTotal.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RuleCacheMissesTotal))

	second[0].ScopeType = permission.ScopeSelf
	third, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.Equal(t, permission.ScopeAll, third[0].ScopeType, "cached values are not aliased")
}

func TestStore_WritesInvalidateTheOrganization(t *testing.T) {
	backing := newBacking(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := New(backing, DefaultConfig(), WithMetrics(metrics))
	ctx := context.Background()
	other := permission.TenantContext{OrganizationID: "org-2"}

	_, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	_, err = c.ListDataPermissions(ctx, other, ruleQuery)
	require.NoError(t, err)

	require.NoError(t, c.CreateDataPermission(ctx, &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R1"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeSelf,
		IsActive:       true,
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RuleCacheInvalidationsTotal))

	rules, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.EqualValues(t, 3, backing.dataCalls.Load())

	_, err = c.ListDataPermissions(ctx, other, ruleQuery)
	require.NoError(t, err)
	assert.EqualValues(t, 3, backing.dataCalls.Load(), "other organizations keep their entries")
}

func TestStore_FailedWritesKeepEntries(t *testing.T) {
	backing := newBacking(t)
	c := New(backing, DefaultConfig())
	ctx := context.Background()

	_, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)

	err = c.DeleteDataPermission(ctx, tenant, 999)
	assert.ErrorIs(t, err, permission.ErrNotFound)

	_, err = c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.EqualValues(t, 1, backing.dataCalls.Load())
}

func TestStore_ErrorsAreNotCached(t *testing.T) {
	backing := newBacking(t)
	c := New(backing, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.GetResourceType(ctx, tenant, "vehicle")
		assert.ErrorIs(t, err, permission.ErrUnknownResourceType)
	}
	assert.EqualValues(t, 2, backing.typeCalls.Load())

	rt, err := c.GetResourceType(ctx, tenant, "asset")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, rt.Fields)
}

func TestStore_CoalescesConcurrentMisses(t *testing.T) {
	backing := newBacking(t)
	backing.gate = make(chan struct{})
	c := New(backing, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(backing.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, backing.dataCalls.Load())
}

func TestStore_SharesEntriesThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	backing := newBacking(t)
	ctx := context.Background()

	newNode := func() (*Store, *observability.Metrics) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		m := observability.NewMetrics(prometheus.NewRegistry())
		return New(backing, DefaultConfig(), WithRedis(client), WithMetrics(m)), m
	}
	nodeA, _ := newNode()
	nodeB, metricsB := newNode()

	_, err := nodeA.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	rules, err := nodeB.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.EqualValues(t, 1, backing.dataCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metricsB.RuleCacheHitsTotal.WithLabelValues("l2")))

	require.NoError(t, nodeA.CreateDataPermission(ctx, &permission.DataPermission{
		OrganizationID: tenant.OrganizationID,
		Principal:      permission.RoleRef("R1"),
		ResourceType:   "asset",
		ScopeType:      permission.ScopeSelf,
		IsActive:       true,
	}))
	assert.Equal(t, "1", mustGet(t, mr, "assetperm:gen:org-1"))

	rules, err = nodeB.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.Len(t, rules, 2, "a write on one node invalidates the other")
}

func TestStore_RedisOutageFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	backing := newBacking(t)
	c := New(backing, DefaultConfig(), WithRedis(client))
	ctx := context.Background()

	mr.SetError("LOADING")
	rules, err := c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, c.SaveRole(ctx, &permission.Role{OrganizationID: tenant.OrganizationID, ID: "R2"}))
	_, err = c.ListDataPermissions(ctx, tenant, ruleQuery)
	require.NoError(t, err)
	assert.EqualValues(t, 2, backing.dataCalls.Load(), "local generation still invalidates")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestQueryKeyIsOrderInsensitive(t *testing.T) {
	a := store.RuleQuery{ResourceType: "asset", Principals: []permission.PrincipalRef{permission.RoleRef("R1"), permission.UserRef("u1")}}
	b := store.RuleQuery{ResourceType: "asset", Principals: []permission.PrincipalRef{permission.UserRef("u1"), permission.RoleRef("R1")}}
	assert.Equal(t, queryKey(a), queryKey(b))
	assert.Equal(t, idsKey([]int64{3, 1, 2}), idsKey([]int64{1, 2, 3}))
}

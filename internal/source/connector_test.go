package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gwimport/internal/model"
	"github.com/roach88/gwimport/internal/testutil"
)

func newFake() *testutil.Platform {
	p := testutil.NewPlatform()
	p.AddInstance(testutil.SampleInstance(), testutil.SampleCatalog())
	return p
}

func TestConnector_LoadEntities_OrdersCatalog(t *testing.T) {
	c := NewConnector(newFake(), nil)

	catalog, err := c.LoadEntities(context.Background(), "oto-1")
	require.NoError(t, err)

	require.Len(t, catalog.Groups, 2)
	require.Len(t, catalog.Services, 3)
	assert.Equal(t, "svc-a0", catalog.Services[0].ID)
	assert.Equal(t, "svc-a1", catalog.Services[1].ID)
	assert.Equal(t, "svc-b", catalog.Services[2].ID)

	require.Len(t, catalog.APIKeys, 3)
	assert.Equal(t, "alpha", catalog.APIKeys[0].ClientName)
	assert.Equal(t, "zulu", catalog.APIKeys[2].ClientName)
}

func TestConnector_LoadEntities_AnyFailureFailsWholeLoad(t *testing.T) {
	for _, resource := range []string{"groups", "services", "apikeys"} {
		t.Run(resource, func(t *testing.T) {
			p := newFake()
			p.FailFetch[resource] = testutil.ErrInjected
			c := NewConnector(p, nil)

			catalog, err := c.LoadEntities(context.Background(), "oto-1")
			require.Error(t, err)
			assert.True(t, model.IsKind(err, model.ErrCatalogLoad))
			assert.ErrorIs(t, err, testutil.ErrInjected)
			assert.Empty(t, catalog.Groups)
			assert.Empty(t, catalog.Services)
			assert.Empty(t, catalog.APIKeys)
		})
	}
}

func TestConnector_LoadEntities_EmptyCatalogIsNotNil(t *testing.T) {
	p := testutil.NewPlatform()
	p.AddInstance(model.SourceInstance{ID: "empty"}, model.Catalog{})
	c := NewConnector(p, nil)

	catalog, err := c.LoadEntities(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, catalog.Groups)
	assert.NotNil(t, catalog.Services)
	assert.NotNil(t, catalog.APIKeys)
}

// blockingFetcher records that all three fetches were in flight at once.
type blockingFetcher struct {
	*testutil.Platform
	started chan string
	release chan struct{}
}

func (f *blockingFetcher) wait(ctx context.Context, name string) error {
	f.started <- name
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *blockingFetcher) Groups(ctx context.Context, id string) ([]model.SourceGroup, error) {
	if err := f.wait(ctx, "groups"); err != nil {
		return nil, err
	}
	return f.Platform.Groups(ctx, id)
}

func (f *blockingFetcher) Services(ctx context.Context, id string) ([]model.SourceService, error) {
	if err := f.wait(ctx, "services"); err != nil {
		return nil, err
	}
	return f.Platform.Services(ctx, id)
}

func (f *blockingFetcher) APIKeys(ctx context.Context, id string) ([]model.SourceAPIKey, error) {
	if err := f.wait(ctx, "apikeys"); err != nil {
		return nil, err
	}
	return f.Platform.APIKeys(ctx, id)
}

func TestConnector_LoadEntities_FetchesConcurrently(t *testing.T) {
	f := &blockingFetcher{
		Platform: newFake(),
		started:  make(chan string, 3),
		release:  make(chan struct{}),
	}
	c := NewConnector(f, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.LoadEntities(context.Background(), "oto-1")
		done <- err
	}()

	// All three must start before any is released.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[<-f.started] = true
	}
	assert.Len(t, seen, 3)

	close(f.release)
	require.NoError(t, <-done)
}

func TestConnector_ListInstances(t *testing.T) {
	c := NewConnector(newFake(), nil)

	instances, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "oto-1", instances[0].ID)

	p := newFake()
	p.FailFetch["instances"] = errors.New("down")
	_, err = NewConnector(p, nil).ListInstances(context.Background())
	assert.True(t, model.IsKind(err, model.ErrCatalogLoad))
}

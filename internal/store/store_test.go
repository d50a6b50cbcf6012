package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupTestStore starts a PostgreSQL testcontainer, runs the embedded
// migrations, and returns a ready PostgresStore with cleanup registered.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminating postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, dsn))

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRecordEventAndRecentEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, Event{
		Kind:         EventAddonInstalled,
		InstanceName: "server1",
		AddonID:      "addon-xyzzy",
		Detail:       "revision 3",
	}))
	require.NoError(t, s.RecordEvent(ctx, Event{
		Kind:         EventRestartBroadcast,
		InstanceName: "server1",
		Detail:       "config reload",
	}))

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventRestartBroadcast, events[0].Kind, "most recent first")
	assert.Equal(t, EventAddonInstalled, events[1].Kind)
}

func TestRecentEventsRespectsLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordEvent(ctx, Event{Kind: EventAddonUpdated, AddonID: "a"}))
	}

	events, err := s.RecentEvents(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestNullStoreDiscardsEvents(t *testing.T) {
	var s NullStore
	ctx := context.Background()

	assert.NoError(t, s.RecordEvent(ctx, Event{Kind: EventAddonInstalled}))
	events, err := s.RecentEvents(ctx, 10)
	assert.NoError(t, err)
	assert.Nil(t, events)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema_EmptyDatabase(t *testing.T) {
	s := openTestStore(t, newTestSettings(t))

	res, err := s.CheckSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CheckSchemaResult{Current: FirstSchemaVersion, Expected: CurrentSchemaVersion}, res)
	assert.False(t, res.IsMatch())
}

func TestCreateSchema_CurrentVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		res, err := s.CheckSchema(context.Background())
		require.NoError(t, err)
		assert.Equal(t, CheckSchemaResult{Current: 2, Expected: 2}, res)
		assert.True(t, res.IsMatch())
	})
}

func TestCreateSchema_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		mustAppend(t, s, "orders-1", ExpectedNoStream, []NewMessage{{MessageID: mustUUID(1), Type: "created"}})

		require.NoError(t, s.CreateSchema(ctx))
		require.NoError(t, s.CreateSchema(ctx))

		// Existing data survives, and the head counter is not reset.
		n, err := s.CountMessages(ctx, MustResolveStreamKey("orders-1"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		res := mustAppend(t, s, "orders-2", ExpectedNoStream, []NewMessage{{MessageID: mustUUID(2), Type: "created"}})
		assert.Equal(t, PositionAt(1), res.CurrentPosition)
	})
}

func TestCheckSchema_LegacyLayout(t *testing.T) {
	s := openTestStore(t, newTestSettings(t))
	ctx := context.Background()
	require.NoError(t, s.createSchemaV1(ctx))

	res, err := s.CheckSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, CheckSchemaResult{Current: 1, Expected: 2}, res)
}

func TestGuard_RejectsLegacyLayout(t *testing.T) {
	s := openTestStore(t, newTestSettings(t))
	ctx := context.Background()
	require.NoError(t, s.createSchemaV1(ctx))

	_, err := s.Append(ctx, MustResolveStreamKey("orders-1"), ExpectedAny, []NewMessage{{MessageID: mustUUID(1), Type: "created"}})
	require.Error(t, err)
	assert.True(t, IsSchemaIncompatible(err))
	assert.ErrorIs(t, err, ErrSchemaIncompatible)

	_, err = s.ReadHeadPosition(ctx)
	assert.True(t, IsSchemaIncompatible(err))
}

func TestCreateSchema_UpgradesLegacyLayout(t *testing.T) {
	s := openTestStore(t, newTestSettings(t))
	ctx := context.Background()
	require.NoError(t, s.createSchemaV1(ctx))

	// A v1 store with data: one stream, two messages at positions 0 and 1.
	_, err := s.db.Exec(`INSERT INTO sqlstream_streams (id, id_original, version, position) VALUES ('legacy', 'legacy', 1, 1)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO sqlstream_messages (stream_id_internal, stream_version, position, id, created, type, payload)
		SELECT id_internal, 0, 0, ?, CURRENT_TIMESTAMP, 'old', '' FROM sqlstream_streams
	`, mustUUID(100))
	require.NoError(t, err)
	_, err = s.db.Exec(`
		INSERT INTO sqlstream_messages (stream_id_internal, stream_version, position, id, created, type, payload)
		SELECT id_internal, 1, 1, ?, CURRENT_TIMESTAMP, 'old', '' FROM sqlstream_streams
	`, mustUUID(101))
	require.NoError(t, err)

	require.NoError(t, s.CreateSchema(ctx))

	res, err := s.CheckSchema(ctx)
	require.NoError(t, err)
	assert.True(t, res.IsMatch())

	// Position allocation continues after the legacy head.
	appended := mustAppend(t, s, "legacy", ExpectedExactly(1), []NewMessage{{MessageID: mustUUID(1), Type: "new"}})
	assert.Equal(t, StreamVersionAt(2), appended.CurrentVersion)
	assert.Equal(t, PositionAt(2), appended.CurrentPosition)
}

func TestDropAll_RemovesEverything(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		mustAppend(t, s, "orders-1", ExpectedAny, []NewMessage{{MessageID: mustUUID(1), Type: "created"}})

		require.NoError(t, s.DropAll(ctx))

		res, err := s.CheckSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, FirstSchemaVersion, res.Current)

		// The cached compatibility check was reset.
		_, err = s.ReadHeadPosition(ctx)
		assert.True(t, IsSchemaIncompatible(err))

		// Dropping again is harmless.
		require.NoError(t, s.DropAll(ctx))

		require.NoError(t, s.CreateSchema(ctx))
		head, err := s.ReadHeadPosition(ctx)
		require.NoError(t, err)
		assert.True(t, head.IsEnd())
	})
}

func TestGetSchemaCreationScript(t *testing.T) {
	s := openTestStore(t, newTestSettings(t))

	ddl := s.GetSchemaCreationScript()
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS sqlstream_messages")
	assert.Contains(t, ddl, "sqlstream_schema_info")
	assert.Contains(t, ddl, "'version', '2'")
}

func TestCreateSchema_UpgradeKeepsTrailingSpaceIDsDistinct(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			settings := b.settings(t)
			s := createBackendStore(t, settings)
			ctx := context.Background()

			// Rebuild as the legacy layout, then upgrade in place.
			require.NoError(t, s.DropAll(ctx))
			require.NoError(t, s.createSchemaV1(ctx))
			require.NoError(t, s.CreateSchema(ctx))

			assertTrailingSpaceIDsAreDistinct(t, s)
		})
	}
}

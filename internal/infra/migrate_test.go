package infra

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	raw, err := fs.ReadFile(migrations, migrationsDir+"/00001_create_users.sql")
	require.NoError(t, err)
	sql := string(raw)

	assert.Contains(t, sql, "-- +goose Up")
	assert.Contains(t, sql, "-- +goose Down")
	assert.True(t, strings.Contains(sql, "UNIQUE (username)"), "username must be unique at the store level")
}

func TestConnectorsRejectEmptyURL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := NewPostgresPool(ctx, "")
	assert.Error(t, err)

	_, err = NewRedisClient(ctx, "")
	assert.Error(t, err)
}

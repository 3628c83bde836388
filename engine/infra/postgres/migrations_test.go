package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateOptions(t *testing.T) {
	t.Run("Should fill the default lock and timeout", func(t *testing.T) {
		opts := MigrateOptions{Lock: "  "}.withDefaults()
		assert.Equal(t, defaultMigrationLock, opts.Lock)
		assert.Equal(t, defaultMigrationLockTimeout, opts.LockTimeout)
	})

	t.Run("Should keep configured values", func(t *testing.T) {
		opts := MigrateOptions{Lock: "tenant_a.schema", LockTimeout: 5 * time.Second}.withDefaults()
		assert.Equal(t, "tenant_a.schema", opts.Lock)
		assert.Equal(t, 5*time.Second, opts.LockTimeout)
	})

	t.Run("Should split the lock into namespace and name", func(t *testing.T) {
		ns, name := MigrateOptions{Lock: "tenant_a.schema.v2"}.lockArgs()
		assert.Equal(t, "tenant_a", ns)
		assert.Equal(t, "schema.v2", name)
	})

	t.Run("Should lock under the default namespace when no dot is given", func(t *testing.T) {
		ns, name := MigrateOptions{Lock: "migrations"}.lockArgs()
		assert.Equal(t, "ragrouter", ns)
		assert.Equal(t, "migrations", name)
	})
}

func TestMigrate(t *testing.T) {
	t.Run("Should require a dsn", func(t *testing.T) {
		_, err := Migrate(t.Context(), "", MigrateOptions{})
		require.ErrorContains(t, err, "dsn is required")
	})
}

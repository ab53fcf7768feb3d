package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	templatestore "veriface/internal/biometrics/store/template"
	"veriface/internal/platform/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Storage: config.Storage{
			StoreBackend:     config.BackendMemory,
			ChallengeBackend: config.BackendMemory,
			TemplateBackend:  config.BackendMemory,
		},
	}
}

func TestBuildStores(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("memory backends", func(t *testing.T) {
		st, err := buildStores(context.Background(), memoryConfig(), log)
		require.NoError(t, err)
		assert.NotNil(t, st.challenges)
		assert.NotNil(t, st.templates)
		assert.NotNil(t, st.events)
		assert.Nil(t, st.tx)
		assert.Empty(t, st.closers)
	})

	t.Run("bbolt templates are closed with the stores", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Storage.TemplateBackend = config.BackendBolt
		cfg.Bolt.Path = filepath.Join(t.TempDir(), "templates.db")

		st, err := buildStores(context.Background(), cfg, log)
		require.NoError(t, err)
		require.Len(t, st.closers, 1)
		st.close(log)

		reopened, err := templatestore.OpenBolt(cfg.Bolt.Path)
		require.NoError(t, err, "file lock released on close")
		require.NoError(t, reopened.Close())
	})

	t.Run("open failure returns an error", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Storage.TemplateBackend = config.BackendBolt
		cfg.Bolt.Path = "/nonexistent-dir/sub/templates.db"

		var (
			st  *stores
			err error
		)
		require.NotPanics(t, func() {
			st, err = buildStores(context.Background(), cfg, log)
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open bbolt template store")
		assert.Nil(t, st)
	})
}

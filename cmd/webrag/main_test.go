package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/webrag/config"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func TestCommands(t *testing.T) {
	app := newApp()

	for _, name := range []string{"serve", "worker", "ingest", "query", "job", "session", "reindex", "init-config"} {
		assert.NotNil(t, findCommand(t, app, name))
	}

	t.Run("reindex defaults", func(t *testing.T) {
		cmd := findCommand(t, app, "reindex")
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "max-retries" {
				assert.Equal(t, 3, f.Value)
			}
		}
	})

	t.Run("query top-k default", func(t *testing.T) {
		cmd := findCommand(t, app, "query")
		var topK *cli.IntFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "top-k" {
				topK = f
			}
		}
		require.NotNil(t, topK)
		assert.Equal(t, query.DefaultTopK, topK.Value)
	})
}

func TestArgumentValidation(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ingest without url", []string{"webrag", "-c", cfgPath, "ingest"}, "URL is required"},
		{"query without question", []string{"webrag", "-c", cfgPath, "query"}, "question is required"},
		{"job without id", []string{"webrag", "-c", cfgPath, "job"}, "job id is required"},
		{"session without id", []string{"webrag", "-c", cfgPath, "session", "show"}, "session id is required"},
		{"reindex bad batch", []string{"webrag", "-c", cfgPath, "reindex", "--batch-size", "0"}, "batch-size"},
		{"bad log level", []string{"webrag", "-l", "loud", "-c", cfgPath, "job", "x"}, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newApp().Run(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrag.yaml")

	require.NoError(t, newApp().Run([]string{"webrag", "init-config", path}))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Chunking, cfg.Chunking)

	err = newApp().Run([]string{"webrag", "init-config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSetupLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		app := &cli.App{
			Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level"}},
			Before: setupLogger,
			Action: func(*cli.Context) error { return nil },
		}
		assert.NoError(t, app.Run([]string{"test", "--log-level", level}), level)
	}
}

func TestVerboseMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := newVerboseMonitor(&buf)

	m.Start(query.Request{Query: "what is badger?", SessionID: "s1", TopK: 3})
	m.AfterHistory("User: hi\nAssistant: hello")
	m.AfterEmbedding(384)
	m.AfterSearch([]core.Match{{ID: "c1", Score: 0.9, Metadata: map[string]string{"url": "https://example.com"}}})
	m.AfterHydration([]*core.Chunk{{ID: "c1"}})
	m.Finish(&query.Result{Sources: []core.Source{{ChunkID: "c1"}}})

	out := buf.String()
	assert.Contains(t, out, `Query: "what is badger?"`)
	assert.Contains(t, out, "History: 2 lines")
	assert.Contains(t, out, "384 dimensions")
	assert.Contains(t, out, "c1 https://example.com [0.900]")
	assert.Contains(t, out, "Loaded 1 chunks")
	assert.Contains(t, out, "Answered with 1 sources")
}

func TestMain(m *testing.M) {
	// Keep test runs independent of a developer's .env and environment.
	os.Unsetenv("WEBRAG_CONFIG")
	os.Exit(m.Run())
}

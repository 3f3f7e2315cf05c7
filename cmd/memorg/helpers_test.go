// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/config"
	"github.com/memorg-dev/memorg/internal/store/inmem"
)

const testConfig = `
data_dir: %s
storage:
  backend: memory
  vector_dimensions: 64
tokens:
  counter: estimate
log:
  level: error
`

// testCLI runs commands against one in-memory backend shared across
// invocations.
type testCLI struct {
	t       *testing.T
	cfgPath string
	wire    wireFunc
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "memorg.yaml")
	content := strings.Replace(testConfig, "%s", dir, 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	backend := inmem.New(64)
	t.Cleanup(func() { _ = backend.Close() })
	return &testCLI{
		t:       t,
		cfgPath: cfgPath,
		wire: func(cfg *config.Config, logger *slog.Logger) (*App, error) {
			return WireBackend(cfg, logger, backend)
		},
	}
}

func (c *testCLI) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd(c.wire)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", c.cfgPath}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (c *testCLI) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

// create runs a create command and returns the printed id.
func (c *testCLI) create(args ...string) string {
	c.t.Helper()
	id := strings.TrimSpace(c.mustRun(args...))
	require.NotEmpty(c.t, id)
	return id
}

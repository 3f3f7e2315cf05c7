// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func TestRootCommand_Help(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	for _, sub := range []string{"session", "conversation", "topic", "append", "search", "turn", "promote", "tier", "usage", "status", "version"} {
		assert.Contains(t, buf.String(), sub)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "--config")
	assert.Contains(t, buf.String(), "--data-dir")
	assert.Contains(t, buf.String(), "--verbose")
	assert.Contains(t, buf.String(), "--json")
}

func TestVersionCommand(t *testing.T) {
	c := newTestCLI(t)
	out := c.mustRun("version")
	assert.Contains(t, out, "memorg dev")
}

func TestMissingConfigFile(t *testing.T) {
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"session", "list", "--config", "/nonexistent/memorg.yaml"})

	err := root.Execute()
	require.Error(t, err)
	assert.True(t, memerr.HasCode(err, memerr.CodeConfigLoadReadFailure))
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: "all"},
		{raw: "all", want: "all"},
		{raw: "session:s1", want: "session:s1"},
		{raw: "conversation:c1", want: "conversation:c1"},
		{raw: "topic:t1", want: "topic:t1"},
		{raw: "topic:", wantErr: true},
		{raw: "galaxy:g1", wantErr: true},
		{raw: "s1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseScope(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, memerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			s := string(got.Level)
			if got.ID != "" {
				s += ":" + got.ID
			}
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestParseRef(t *testing.T) {
	ref, err := parseRef("exchange:e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", ref.ID)
	assert.Equal(t, "exchange", string(ref.Kind))

	_, err = parseRef("session:s1")
	assert.True(t, memerr.IsInvalidInput(err))
	_, err = parseRef("e1")
	assert.True(t, memerr.IsInvalidInput(err))
}

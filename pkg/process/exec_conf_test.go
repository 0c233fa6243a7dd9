// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func setenv(key, value string) func() {
	old := os.Getenv(key)
	_ = os.Setenv(key, value)
	return func() { _ = os.Setenv(key, old) }
}

var testZ = flag.Int("z", 0, "z flag (stdlib)")

func TestExec_PropagatesSettings(t *testing.T) {
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	var config struct {
		X int `default:"0"`
	}
	Bind(cmd, &config)
	y := cmd.Flags().Int("y", 0, "y flag (command)")

	defer setenv("CORESTREAM_X", "1")()
	defer setenv("CORESTREAM_Y", "2")()
	defer setenv("CORESTREAM_Z", "3")()

	require.NoError(t, Exec(cmd))

	require.Equal(t, 1, config.X)
	require.Equal(t, 2, *y)
	require.Equal(t, 3, *testZ)
}

func TestHidden(t *testing.T) {
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	var config struct {
		W int `default:"0" hidden:"false"`
		X int `default:"0" hidden:"true"`
		Y int `releaseDefault:"1" devDefault:"0" hidden:"true"`
		Z int `default:"1"`
	}
	Bind(cmd, &config)

	testConfigFile := filepath.Join(t.TempDir(), "testconfig.yaml")

	require.NoError(t, Exec(cmd))

	err := SaveConfig(cmd, testConfigFile)
	require.NoError(t, err)

	actualConfigFile, err := os.ReadFile(testConfigFile)
	require.NoError(t, err)

	require.Contains(t, string(actualConfigFile), "# w: 0")
	require.Contains(t, string(actualConfigFile), "# z: 1")
	require.NotContains(t, string(actualConfigFile), "# y: ")
	require.NotContains(t, string(actualConfigFile), "# x: ")
}

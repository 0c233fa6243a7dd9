// Copyright (C) 2024 corestream authors.
// See LICENSE for copying information.

package cfgstruct

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestBind(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.PanicOnError)
	var c struct {
		ListenAddr   string        `default:""`
		Enabled      bool          `default:"false"`
		MaxFileSize  int64         `default:"0"`
		Retries      int           `default:"0"`
		QueueDepth   uint64        `default:"0"`
		PullWorkers  uint          `default:"0"`
		SampleRate   float64       `default:"0"`
		PullInterval time.Duration `default:"0"`
		Store        struct {
			Bucket string `default:""`
		}
		Followers [10]struct {
			Port int `default:"0"`
		}
	}
	Bind(f, &c)

	require.Equal(t, "", c.ListenAddr)
	require.Equal(t, false, c.Enabled)
	require.Equal(t, int64(0), c.MaxFileSize)
	require.Equal(t, 0, c.Retries)
	require.Equal(t, uint64(0), c.QueueDepth)
	require.Equal(t, uint(0), c.PullWorkers)
	require.Equal(t, float64(0), c.SampleRate)
	require.Equal(t, time.Duration(0), c.PullInterval)
	require.Equal(t, "", c.Store.Bucket)
	require.Equal(t, 0, c.Followers[0].Port)
	require.Equal(t, 0, c.Followers[3].Port)

	err := f.Parse([]string{
		"--listen-addr=:7070",
		"--enabled=true",
		"--max-file-size=134217728",
		"--retries=3",
		"--queue-depth=1024",
		"--pull-workers=16",
		"--sample-rate=0.5",
		"--pull-interval=1h",
		"--store.bucket=corestream-sealed",
		"--followers.03.port=7071",
	})
	require.NoError(t, err)

	require.Equal(t, ":7070", c.ListenAddr)
	require.Equal(t, true, c.Enabled)
	require.Equal(t, int64(134217728), c.MaxFileSize)
	require.Equal(t, 3, c.Retries)
	require.Equal(t, uint64(1024), c.QueueDepth)
	require.Equal(t, uint(16), c.PullWorkers)
	require.Equal(t, 0.5, c.SampleRate)
	require.Equal(t, time.Hour, c.PullInterval)
	require.Equal(t, "corestream-sealed", c.Store.Bucket)
	require.Equal(t, 0, c.Followers[0].Port)
	require.Equal(t, 7071, c.Followers[3].Port)
}

func TestConfDir(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.PanicOnError)
	var c struct {
		WALRoot string `default:"-$CONFDIR+"`
		Ingest  struct {
			WALRoot string `default:"1${CONFDIR}2"`
			Mover   struct {
				WALRoot string `default:"2${CONFDIR}3"`
			}
		}
	}
	Bind(f, &c, ConfDir("confpath"))
	require.Equal(t, "-confpath+", f.Lookup("wal-root").DefValue)
	require.Equal(t, "1confpath2", f.Lookup("ingest.wal-root").DefValue)
	require.Equal(t, "2confpath3", f.Lookup("ingest.mover.wal-root").DefValue)
}

func TestNesting(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.PanicOnError)
	var c struct {
		WALRoot string `default:"-$CONFDIR+"`
		Ingest  struct {
			WALRoot string `default:"1${CONFDIR}2"`
			Mover   struct {
				WALRoot string `default:"2${CONFDIR}3"`
			}
		}
	}
	Bind(f, &c, ConfDirNested("confpath"))
	require.Equal(t, "-confpath+", f.Lookup("wal-root").DefValue)
	require.Equal(t, filepath.FromSlash("1confpath/ingest2"), f.Lookup("ingest.wal-root").DefValue)
	require.Equal(t, filepath.FromSlash("2confpath/ingest/mover3"), f.Lookup("ingest.mover.wal-root").DefValue)
}

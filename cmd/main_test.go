// cmd/main_test.go

package main

import (
	"context"
	"testing"

	"AveLog/pkg/chunk"
	"AveLog/pkg/meta"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestParseLogIDs(t *testing.T) {
	ids, err := parseLogIDs("main, Crash,,kernel")
	require.NoError(t, err)
	require.Equal(t, []chunk.LogID{chunk.LogIDMain, chunk.LogIDCrash, chunk.LogIDKernel}, ids)

	_, err = parseLogIDs("main,nope")
	require.Error(t, err)
	_, err = parseLogIDs(" , ")
	require.Error(t, err)
}

func TestParseUid(t *testing.T) {
	uid, err := parseUid("10001")
	require.NoError(t, err)
	require.Equal(t, uint32(10001), uid)
	_, err = parseUid("-1")
	require.Error(t, err)
	_, err = parseUid("4294967296")
	require.Error(t, err)
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "avelog",
		Flags:    globalFlags(),
		Commands: []*cli.Command{benchFlags(), quotaFlags()},
	}
}

func TestQuotaCommands(t *testing.T) {
	const url = "memkv://cmd-test"
	ctx := context.Background()
	quotas := func() map[uint32]int64 {
		m, err := meta.NewClient(url, nil)
		require.NoError(t, err)
		q, err := m.Load(ctx)
		require.NoError(t, err)
		return q
	}

	app := newApp()
	require.NoError(t, app.Run([]string{"avelog", "--no-agent", "quota", "set", url, "10001", "4096"}))
	require.NoError(t, app.Run([]string{"avelog", "--no-agent", "quota", "set", url, "10002", "8192"}))
	require.Equal(t, map[uint32]int64{10001: 4096, 10002: 8192}, quotas())

	require.Error(t, app.Run([]string{"avelog", "--no-agent", "quota", "set", url, "10001", "0"}))
	require.Error(t, app.Run([]string{"avelog", "--no-agent", "quota", "set", url}))
	require.Equal(t, int64(4096), quotas()[10001])

	require.NoError(t, app.Run([]string{"avelog", "--no-agent", "quota", "list", "--json", url}))
	require.NoError(t, app.Run([]string{"avelog", "--no-agent", "quota", "list", url}))
	require.NoError(t, app.Run([]string{"avelog", "--no-agent", "quota", "del", url, "10001"}))
	require.Equal(t, map[uint32]int64{10002: 8192}, quotas())

	_, err := meta.NewClient("unknown://x", nil)
	require.Error(t, err)
}

func TestBench(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"avelog", "--no-agent", "--quiet", "bench",
		"--entries", "5000", "--uids", "4", "--readers", "2", "--max-size", "65536", "--compress", "lz4"})
	require.NoError(t, err)

	err = app.Run([]string{"avelog", "--no-agent", "bench", "--logs", "bogus"})
	require.Error(t, err)
}

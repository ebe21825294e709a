// cmd/quota.go

package main

import (
	"fmt"
	"sort"
	"strconv"

	"AveLog/pkg/meta"
	"AveLog/pkg/utils"

	"github.com/cheynewallace/tabby"
	"github.com/urfave/cli/v2"
)

type quotaEntry struct {
	Uid   uint32 `json:"uid"`
	Bytes int64  `json:"bytes"`
}

func parseUid(s string) (uint32, error) {
	uid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uid %q", s)
	}
	return uint32(uid), nil
}

func openQuota(c *cli.Context, args int) (meta.QuotaStore, error) {
	if c.Args().Len() < args {
		return nil, fmt.Errorf("META-URL and %d more arguments are needed", args-1)
	}
	return meta.NewClient(c.Args().Get(0), &meta.Config{Retries: 10, Prefix: c.String("prefix")})
}

func quotaList(c *cli.Context) error {
	m, err := openQuota(c, 1)
	if err != nil {
		return err
	}
	defer m.Close()
	quotas, err := m.Load(c.Context)
	if err != nil {
		return err
	}
	entries := make([]quotaEntry, 0, len(quotas))
	for uid, q := range quotas {
		entries = append(entries, quotaEntry{uid, q})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Uid < entries[j].Uid })
	if c.Bool("json") {
		printJson(entries)
		return nil
	}
	t := tabby.New()
	t.AddHeader("UID", "Bytes", "Size")
	for _, e := range entries {
		t.AddLine(e.Uid, e.Bytes, utils.FormatBytes(uint64(e.Bytes)))
	}
	fmt.Printf("%d quotas in %s:\n", len(entries), m.Name())
	t.Print()
	return nil
}

func quotaSet(c *cli.Context) error {
	m, err := openQuota(c, 3)
	if err != nil {
		return err
	}
	defer m.Close()
	uid, err := parseUid(c.Args().Get(1))
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(c.Args().Get(2), 10, 64)
	if err != nil || size <= 0 {
		return fmt.Errorf("invalid quota %q", c.Args().Get(2))
	}
	if err = m.Set(c.Context, uid, size); err != nil {
		return err
	}
	logger.Infof("quota of uid %d is set to %d bytes", uid, size)
	return nil
}

func quotaDelete(c *cli.Context) error {
	m, err := openQuota(c, 2)
	if err != nil {
		return err
	}
	defer m.Close()
	uid, err := parseUid(c.Args().Get(1))
	if err != nil {
		return err
	}
	if err = m.Delete(c.Context, uid); err != nil {
		return err
	}
	logger.Infof("quota of uid %d is removed", uid)
	return nil
}

func quotaFlags() *cli.Command {
	prefix := &cli.StringFlag{
		Name:  "prefix",
		Usage: "key prefix in the quota database",
	}
	asJson := &cli.BoolFlag{
		Name:  "json",
		Usage: "print the quotas as JSON",
	}
	return &cli.Command{
		Name:  "quota",
		Usage: "manage per uid log quotas",
		Description: `META-URL is redis://[user:password@]host:port/db, or memkv://name for a
store that lives only as long as this process.`,
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "list all quotas",
				ArgsUsage: "META-URL",
				Flags:     []cli.Flag{prefix, asJson},
				Action:    quotaList,
			},
			{
				Name:      "set",
				Usage:     "set the quota of a uid",
				ArgsUsage: "META-URL UID BYTES",
				Flags:     []cli.Flag{prefix},
				Action:    quotaSet,
			},
			{
				Name:      "delete",
				Aliases:   []string{"del"},
				Usage:     "remove the quota of a uid",
				ArgsUsage: "META-URL UID",
				Flags:     []cli.Flag{prefix},
				Action:    quotaDelete,
			},
		},
	}
}

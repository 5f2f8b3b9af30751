// neromonctl drives a running neromond through its local client bridge.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/neromon/dhtcore/client"
)

func main() {
	app := &cli.App{
		Name:  "neromonctl",
		Usage: "control a running neromond daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bridge",
				Value: "127.0.0.1:4101",
				Usage: "daemon bridge endpoint (unix socket path or tcp address)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "publish a record: put <key-hex> <value-json>",
				ArgsUsage: "<key> <value>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag", Value: "listing", Usage: "record tag"},
					&cli.Int64Flag{Name: "ttl", Value: 3600, Usage: "ttl in seconds"},
				},
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					if cctx.NArg() != 2 {
						return errors.New("put needs <key> and <value>")
					}
					stored, err := c.Put(cctx.Args().Get(0), cctx.Args().Get(1), cctx.String("tag"), cctx.Int64("ttl"))
					if err != nil {
						return err
					}
					fmt.Printf("stored on %d nodes\n", stored)
					return nil
				}),
			},
			{
				Name:      "get",
				Usage:     "fetch a record by key",
				ArgsUsage: "<key>",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					if cctx.NArg() != 1 {
						return errors.New("get needs <key>")
					}
					value, err := c.Get(cctx.Args().First())
					if err != nil {
						return err
					}
					fmt.Println(value)
					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "purge a key from the local store and mappings",
				ArgsUsage: "<key>",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					if cctx.NArg() != 1 {
						return errors.New("remove needs <key>")
					}
					return c.Remove(cctx.Args().First())
				}),
			},
			{
				Name:      "map",
				Usage:     "add a search-term mapping: map <term> <key> <content-tag>",
				ArgsUsage: "<term> <key> <content>",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					if cctx.NArg() != 3 {
						return errors.New("map needs <term>, <key>, and <content>")
					}
					return c.Map(cctx.Args().Get(0), cctx.Args().Get(1), cctx.Args().Get(2))
				}),
			},
			{
				Name:      "search",
				Usage:     "full-text search the local mappings index",
				ArgsUsage: "<query>",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					if cctx.NArg() != 1 {
						return errors.New("search needs <query>")
					}
					hits, err := c.Search(cctx.Args().First())
					if err != nil {
						return err
					}
					for _, h := range hits {
						fmt.Printf("%s\t%s\t%s\n", h.SearchTerm, h.Key, h.Content)
					}
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "print daemon routing and storage introspection",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					s, err := c.Status()
					if err != nil {
						return err
					}
					out, err := json.MarshalIndent(s, "", "  ")
					if err != nil {
						return err
					}
					fmt.Println(string(out))
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "truncate the daemon's local content store (debug)",
				Action: withClient(func(c *client.Client, cctx *cli.Context) error {
					return c.Clear()
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "neromonctl:", err)
		os.Exit(1)
	}
}

func withClient(fn func(*client.Client, *cli.Context) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		c, err := client.Dial(cctx.String("bridge"))
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(c, cctx)
	}
}

// Command voldemort-get fetches a single key from a read-only Voldemort
// store and prints the decoded value. With -raw the key is sent as raw
// bytes, as stores with an identity key serializer require.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rapportive-oss/go-voldemort/pkg/voldemort"
)

func main() {
	app := &cli.App{
		Name:      "voldemort-get",
		Usage:     "fetch a single key from a read-only Voldemort store",
		UsageText: "voldemort-get [options] <cluster-url> <key>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "raw", Usage: "pass the key as raw bytes instead of a string; the value is still decoded with the store's value serializer"},
			&cli.DurationFlag{Name: "timeout", Usage: "overall deadline for bootstrap plus the get", Value: 30 * time.Second},
		},
		Action: runGet,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runGet(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("expected exactly two arguments: <cluster-url> <key>", 1)
	}
	clusterURL := c.Args().Get(0)
	key := c.Args().Get(1)

	deadline := time.AfterFunc(c.Duration("timeout"), func() {
		fmt.Fprintf(os.Stderr, "timed out after %s\n", c.Duration("timeout"))
		os.Exit(1)
	})
	defer deadline.Stop()

	store, err := voldemort.NewFromURL(clusterURL)
	if err != nil {
		return cli.Exit(fmt.Sprintf("connecting to %s: %v", clusterURL, err), 1)
	}

	var result *voldemort.Future[interface{}]
	if c.Bool("raw") {
		result = store.Get([]byte(key))
	} else {
		result = store.Get(key)
	}

	value, err := result.Wait()
	if err != nil {
		if voldemort.IsKeyNotFound(err) {
			return cli.Exit(fmt.Sprintf("key %q not found", key), 2)
		}
		return cli.Exit(fmt.Sprintf("get %q: %v", key, err), 1)
	}

	fmt.Printf("%v\n", value)
	return nil
}

// wallctl: command-line control for a running wall-follower daemon
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/teslashibe/go-wallfollow/internal/client"
)

var (
	addr    = flag.String("addr", "http://localhost:9100", "daemon base URL")
	timeout = flag.Duration("timeout", 2*time.Second, "request timeout")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: wallctl [-addr URL] start|stop|state|stats|health\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = *addr
	cfg.Timeout = *timeout

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, client.New(cfg, nil), flag.Arg(0), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "wallctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, out io.Writer) error {
	switch cmd {
	case "start", "stop":
		if err := c.SendControl(ctx, cmd); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s accepted\n", cmd)
		return nil

	case "state":
		u, err := c.GetState(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s rule=%s linear=%.3f angular=%.3f seq=%d\n",
			u.State, u.Command.Rule, u.Twist.Linear.X, u.Twist.Angular.Z, u.Seq)
		return nil

	case "stats":
		stats, err := c.GetStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, stats)

	case "health":
		status, err := c.GetHealth(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, status)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

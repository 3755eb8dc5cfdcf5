// Command umrr-ctl sends configuration requests to a running bridge over
// its gRPC control service.
//
// Usage:
//
//	umrr-ctl [-addr host:port] mode <slot> <instruction> <value>
//	umrr-ctl [-addr host:port] ip <slot> <address>
//	umrr-ctl [-addr host:port] command <slot> <command> [value]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/umrr-bridge/internal/control"
	"github.com/banshee-data/umrr-bridge/internal/radar"
)

var (
	addr    = flag.String("addr", "localhost:50051", "Bridge control service address")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] mode|ip|command <slot> ...\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ack, err := run(ctx, control.NewClient(cc), flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("accepted client_id=%s\n", ack.ClientID)
}

// run parses one subcommand and issues it.
func run(ctx context.Context, c *control.Client, args []string) (radar.Ack, error) {
	if len(args) < 3 {
		return radar.Ack{}, fmt.Errorf("expected a request category, a slot and arguments")
	}
	cat, err := radar.ParseCategory(args[0])
	if err != nil {
		return radar.Ack{}, err
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return radar.Ack{}, fmt.Errorf("invalid slot %q", args[1])
	}

	switch cat {
	case radar.CategoryMode:
		if len(args) != 4 {
			return radar.Ack{}, fmt.Errorf("mode takes <slot> <instruction> <value>")
		}
		v, err := strconv.ParseInt(args[3], 0, 64)
		if err != nil {
			return radar.Ack{}, fmt.Errorf("invalid value %q", args[3])
		}
		return c.SetMode(ctx, slot, args[2], v)
	case radar.CategoryIP:
		if len(args) != 3 {
			return radar.Ack{}, fmt.Errorf("ip takes <slot> <address>")
		}
		return c.SetIP(ctx, slot, args[2])
	default:
		var v int64
		switch len(args) {
		case 3:
		case 4:
			if v, err = strconv.ParseInt(args[3], 0, 64); err != nil {
				return radar.Ack{}, fmt.Errorf("invalid value %q", args[3])
			}
		default:
			return radar.Ack{}, fmt.Errorf("command takes <slot> <command> [value]")
		}
		return c.SendCommand(ctx, slot, args[2], v)
	}
}

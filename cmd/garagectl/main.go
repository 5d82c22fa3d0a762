package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"garage-control/internal/message"
	"garage-control/internal/model"
	"garage-control/internal/tasks"
)

const usage = `usage: garagectl [flags] <command> [args]

commands:
  status                      print the coordinator snapshot
  watch                       print the snapshot every -interval
  valor <placa>               current fare of a parked vehicle
  fechar | abrir              close or reopen the garage for entries
  bloquear <andar>            block floor 1 or 2
  desbloquear <andar>         unblock floor 1 or 2
  cancela <entrada|saida> <abrir|fechar>
                              drive a ground gate directly
  entrada <placa> [conf]      inject an entry event
  saida <placa> [conf]        inject an exit event
`

func main() {
	var cfgPath string
	var interval time.Duration
	flag.StringVar(&cfgPath, "config", "config/garage.conf", "path to garage config")
	flag.DurationVar(&interval, "interval", 5*time.Second, "poll interval for watch")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	s, err := tasks.LoadSettings(tasks.Options{ConfigPath: cfgPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	central := message.NewClient(s.Central.Addr())
	defer central.Close()

	if args[0] == "watch" {
		watch(ctx, central, interval)
		return
	}

	m, toGround, err := build(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	target := central
	if toGround {
		target = message.NewClient(s.Ground.Addr())
		defer target.Close()
	}
	reply, err := target.Send(ctx, m, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "send:", err)
		os.Exit(1)
	}
	printReply(reply)
	if !reply.OK() {
		os.Exit(1)
	}
}

// build maps a command line to its message; toGround marks gate commands.
func build(args []string) (m *message.Message, toGround bool, err error) {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: missing argument", args[0])
		}
		return nil
	}
	conf := func() int {
		if len(args) > 2 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				return n
			}
		}
		return 100
	}
	floor := func() (model.Floor, error) {
		n, err := strconv.Atoi(args[1])
		if err != nil || (n != 1 && n != 2) {
			return 0, fmt.Errorf("%s: floor must be 1 or 2", args[0])
		}
		return model.Floor(n), nil
	}

	switch args[0] {
	case "status":
		return message.New(message.SystemStatus), false, nil
	case "valor":
		if err := need(2); err != nil {
			return nil, false, err
		}
		return message.NewCalcFare(args[1]), false, nil
	case "fechar":
		return message.NewCloseParking(true), false, nil
	case "abrir":
		return message.NewCloseParking(false), false, nil
	case "bloquear", "desbloquear":
		if err := need(2); err != nil {
			return nil, false, err
		}
		f, err := floor()
		if err != nil {
			return nil, false, err
		}
		return message.NewBlockFloor(f, args[0] == "bloquear"), false, nil
	case "cancela":
		if err := need(3); err != nil {
			return nil, false, err
		}
		return message.NewGateCommand(message.Gate(args[1]), message.Action(args[2])), true, nil
	case "entrada":
		if err := need(2); err != nil {
			return nil, false, err
		}
		return message.NewEntry(args[1], conf(), model.Ground), false, nil
	case "saida":
		if err := need(2); err != nil {
			return nil, false, err
		}
		return message.NewExit(args[1], conf()), false, nil
	}
	return nil, false, fmt.Errorf("unknown command %q", args[0])
}

func watch(ctx context.Context, c *message.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		reply, err := c.Send(ctx, message.New(message.SystemStatus), true)
		if err != nil {
			fmt.Fprintln(os.Stderr, "status:", err)
		} else {
			printReply(reply)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printReply(m *message.Message) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode reply:", err)
		return
	}
	fmt.Println(string(b))
}

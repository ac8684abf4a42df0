package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/xyths/cryptoexchange/cmd/utils"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
)

var app *cli.App

func init() {
	app = &cli.App{
		Name:    filepath.Base(os.Args[0]),
		Usage:   "BitMEX authenticated api client",
		Version: bitmex.Version,
	}

	app.Commands = []*cli.Command{
		orderCommand,
		positionCommand,
		authCommand,
		wsCommand,
		keyCommand,
	}
	app.Flags = []cli.Flag{
		utils.ConfigFlag,
		utils.EnvFlag,
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

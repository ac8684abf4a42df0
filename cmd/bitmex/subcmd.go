package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"github.com/xyths/cryptoexchange/cmd/utils"
)

var (
	idFlag = &cli.StringFlag{
		Name:     "id",
		Usage:    "api key `id`",
		Required: true,
	}
	nameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "api key `name`",
	}
	cidrFlag = &cli.StringFlag{
		Name:  "cidr",
		Usage: "allowed `cidr`, any address if empty",
	}
)

var (
	orderCommand = &cli.Command{
		Name:  "order",
		Usage: "Place, list and cancel orders",
		Subcommands: []*cli.Command{
			{
				Action: placeOrder,
				Name:   "place",
				Usage:  "Place a limit order",
				Flags:  []cli.Flag{utils.SymbolFlag, utils.QuantityFlag, utils.PriceFlag},
			},
			{
				Action: listOrders,
				Name:   "list",
				Usage:  "List open orders placed with the configured prefix",
				Flags:  []cli.Flag{utils.SymbolFlag},
			},
			{
				Action: cancelOrder,
				Name:   "cancel",
				Usage:  "Cancel an order",
				Flags:  []cli.Flag{utils.OrderIDFlag},
			},
		},
	}
	positionCommand = &cli.Command{
		Name:  "position",
		Usage: "Show and snapshot positions",
		Subcommands: []*cli.Command{
			{
				Action: listPositions,
				Name:   "list",
				Usage:  "List positions",
			},
			{
				Action: snapshotPositions,
				Name:   "snapshot",
				Usage:  "Store current positions in mysql",
			},
			{
				Action: lastSnapshot,
				Name:   "last",
				Usage:  "Show the latest stored snapshot",
			},
		},
	}
	authCommand = &cli.Command{
		Action: auth,
		Name:   "auth",
		Usage:  "Check the configured credentials against /position",
	}
	wsCommand = &cli.Command{
		Name:  "ws",
		Usage: "Realtime api authentication",
		Subcommands: []*cli.Command{
			{
				Action: wsAuth,
				Name:   "auth",
				Usage:  "Connect and authenticate with authKey",
			},
			{
				Action: wsQuery,
				Name:   "query",
				Usage:  "Print a realtime url authenticated by query string",
			},
		},
	}
	keyCommand = &cli.Command{
		Name:  "key",
		Usage: "Manage api keys",
		Subcommands: []*cli.Command{
			{
				Action: listKeys,
				Name:   "list",
				Usage:  "List api keys",
			},
			{
				Action: createKey,
				Name:   "create",
				Usage:  "Create an enabled api key",
				Flags:  []cli.Flag{nameFlag, cidrFlag},
			},
			{
				Action: enableKey,
				Name:   "enable",
				Usage:  "Enable an api key",
				Flags:  []cli.Flag{idFlag},
			},
			{
				Action: disableKey,
				Name:   "disable",
				Usage:  "Disable an api key",
				Flags:  []cli.Flag{idFlag},
			},
			{
				Action: deleteKey,
				Name:   "delete",
				Usage:  "Delete an api key",
				Flags:  []cli.Flag{idFlag},
			},
			{
				Action: keyShell,
				Name:   "shell",
				Usage:  "Log in with email and password and manage keys interactively",
			},
		},
	}
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func placeOrder(ctx *cli.Context) error {
	price, err := utils.ParsePrice(ctx.String(utils.PriceFlag.Name))
	if err != nil {
		return err
	}
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.InitJournal(ctx.Context); err != nil {
		return err
	}
	o, err := n.PlaceOrder(ctx.Context, ctx.String(utils.SymbolFlag.Name), ctx.Int64(utils.QuantityFlag.Name), price)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, o)
}

func listOrders(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	orders, err := n.OpenOrders(ctx.Context, ctx.String(utils.SymbolFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, orders)
}

func cancelOrder(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.InitJournal(ctx.Context); err != nil {
		return err
	}
	id := ctx.String(utils.OrderIDFlag.Name)
	orders, err := n.Cancel(ctx.Context, id)
	if err != nil {
		return err
	}
	if orders == nil {
		_, err = fmt.Fprintf(ctx.App.Writer, "order %s not found\n", id)
		return err
	}
	return printJSON(ctx.App.Writer, orders)
}

func listPositions(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	positions, err := n.Positions(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, positions)
}

func snapshotPositions(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	rows, err := n.SnapshotPositions(ctx.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "%d positions saved\n", len(rows))
	return err
}

func lastSnapshot(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	rows, err := n.LatestSnapshot()
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, rows)
}

func auth(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	positions, err := n.Positions(ctx.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "authenticated against %s, %d positions\n", n.Bitmex.Host(), len(positions))
	return err
}

func wsAuth(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	reply, err := n.RealtimeAuth()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(reply))
	return err
}

func wsQuery(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	u, err := n.RealtimeAuthURL()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, u)
	return err
}

func listKeys(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	keys, err := n.Bitmex.ListKeys(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, keys)
}

func createKey(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	key, err := n.Bitmex.CreateKey(ctx.Context, ctx.String(nameFlag.Name), ctx.String(cidrFlag.Name))
	if err != nil {
		return err
	}
	return printCreatedKey(ctx.App.Writer, key.ID, key.Secret)
}

func enableKey(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	key, err := n.Bitmex.EnableKey(ctx.Context, ctx.String(idFlag.Name))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "Key with ID %s enabled.\n", key.ID)
	return err
}

func disableKey(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	key, err := n.Bitmex.DisableKey(ctx.Context, ctx.String(idFlag.Name))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "Key with ID %s disabled.\n", key.ID)
	return err
}

func deleteKey(ctx *cli.Context) error {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	id := ctx.String(idFlag.Name)
	found, err := n.Bitmex.DeleteKey(ctx.Context, id)
	if err != nil {
		return err
	}
	if !found {
		_, err = fmt.Fprintf(ctx.App.Writer, "Key with ID %s not found.\n", id)
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "Key with ID %s deleted.\n", id)
	return err
}

func printCreatedKey(w io.Writer, id, secret string) error {
	_, err := fmt.Fprintf(w, "Key created. Details:\n\nAPI Key:    %s\nSecret:     %s\n\n"+
		"Safeguard your secret key! If somebody gets a hold of your API key and secret,\n"+
		"your account can be taken over completely.\n", id, secret)
	return err
}

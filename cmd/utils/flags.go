package utils

import "github.com/urfave/cli/v2"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.json",
		Usage:   "load configuration from `file`",
	}
	EnvFlag = &cli.StringFlag{
		Name:  "env",
		Value: ".env",
		Usage: "load API_KEY and API_SECRET from `file` if it exists",
	}

	SymbolFlag = &cli.StringFlag{
		Name:    "symbol",
		Aliases: []string{"s"},
		Value:   "XBTUSD",
		Usage:   "contract `symbol`",
	}
	QuantityFlag = &cli.Int64Flag{
		Name:     "quantity",
		Aliases:  []string{"q"},
		Usage:    "order `quantity`, negative to sell",
		Required: true,
	}
	PriceFlag = &cli.StringFlag{
		Name:     "price",
		Aliases:  []string{"p"},
		Usage:    "limit `price`",
		Required: true,
	}
	OrderIDFlag = &cli.StringFlag{
		Name:     "order",
		Aliases:  []string{"o"},
		Usage:    "exchange order `id`",
		Required: true,
	}
	TokenFlag = &cli.StringFlag{
		Name:     "token",
		Aliases:  []string{"t"},
		Usage:    "access `token`",
		Required: true,
	}
	TimestampFlag = &cli.Int64Flag{
		Name:  "timestamp",
		Usage: "unix `seconds` to sign with, now if 0",
	}
)

package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/xyths/cryptoexchange/cmd/utils"
	"github.com/xyths/cryptoexchange/exchange/api796"
)

var (
	tokenCommand = &cli.Command{
		Action: token,
		Name:   "token",
		Usage:  "Request an access token",
	}
	userInfoCommand = &cli.Command{
		Action: userInfo,
		Name:   "userinfo",
		Usage:  "Show the user info of an access token, requesting one if none is given",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    utils.TokenFlag.Name,
				Aliases: utils.TokenFlag.Aliases,
				Usage:   utils.TokenFlag.Usage,
			},
		},
	}
	signCommand = &cli.Command{
		Action: sign,
		Name:   "sign",
		Usage:  "Print the signed token query without sending it",
		Flags:  []cli.Flag{utils.TimestampFlag},
	}
)

func getClient(ctx *cli.Context) (*api796.Client, func(), error) {
	n, err := utils.GetNode(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := n.API796()
	if err != nil {
		n.Close(ctx.Context)
		return nil, nil, err
	}
	return c, func() { n.Close(ctx.Context) }, nil
}

func token(ctx *cli.Context) error {
	c, closer, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer closer()
	t, err := c.Token(ctx.Context)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, t)
	return err
}

func userInfo(ctx *cli.Context) error {
	c, closer, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer closer()
	t := ctx.String(utils.TokenFlag.Name)
	if t == "" {
		if t, err = c.Token(ctx.Context); err != nil {
			return err
		}
	}
	info, err := c.UserInfo(ctx.Context, t)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(info))
	return err
}

func sign(ctx *cli.Context) error {
	c, closer, err := getClient(ctx)
	if err != nil {
		return err
	}
	defer closer()
	ts := ctx.Int64(utils.TimestampFlag.Name)
	if ts == 0 {
		ts = time.Now().Unix()
	}
	query, err := c.TokenParams(ts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, c.Host()+"/oauth/token?"+query.Encode())
	return err
}

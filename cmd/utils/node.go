package utils

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/xyths/cryptoexchange/node"
	"github.com/xyths/hs"
)

// LoadEnv loads file into the environment. A missing file is not an error,
// variables already set win.
func LoadEnv(file string) error {
	if file == "" {
		return nil
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(file), "load %s", file)
}

// ParseConfig reads the json config and applies the environment overrides.
func ParseConfig(ctx *cli.Context) (node.Config, error) {
	if err := LoadEnv(ctx.String(EnvFlag.Name)); err != nil {
		return node.Config{}, err
	}
	cfg := node.Config{}
	if err := hs.ParseJsonConfig(ctx.String(ConfigFlag.Name), &cfg); err != nil {
		return node.Config{}, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// GetNode returns an initialized node, the caller closes it.
func GetNode(ctx *cli.Context) (*node.Node, error) {
	cfg, err := ParseConfig(ctx)
	if err != nil {
		return nil, err
	}
	n := node.New(cfg)
	if err := n.Init(ctx.Context); err != nil {
		return nil, err
	}
	return n, nil
}

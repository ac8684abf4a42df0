package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/xyths/cryptoexchange/cmd/utils"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
	"github.com/xyths/cryptoexchange/node"
	"golang.org/x/term"
)

type keyManager interface {
	ListKeys(ctx context.Context) ([]bitmex.APIKey, error)
	CreateKey(ctx context.Context, name, cidr string) (*bitmex.APIKey, error)
	EnableKey(ctx context.Context, id string) (*bitmex.APIKey, error)
	DisableKey(ctx context.Context, id string) (*bitmex.APIKey, error)
	DeleteKey(ctx context.Context, id string) (bool, error)
}

type shell struct {
	keys keyManager
	in   *bufio.Reader
	out  io.Writer
}

type shellCommand struct {
	name string
	run  func(s *shell, ctx context.Context) error
}

// shellCommands is the complete set of operations the shell accepts.
var shellCommands = []shellCommand{
	{"list_keys", (*shell).listKeys},
	{"create_key", (*shell).createKey},
	{"enable_key", (*shell).enableKey},
	{"disable_key", (*shell).disableKey},
	{"delete_key", (*shell).deleteKey},
}

func lookupShellCommand(name string) (shellCommand, bool) {
	for _, c := range shellCommands {
		if c.name == name {
			return c, true
		}
	}
	return shellCommand{}, false
}

func shellCommandNames() string {
	names := make([]string, 0, len(shellCommands))
	for _, c := range shellCommands {
		names = append(names, c.name)
	}
	return strings.Join(names, ", ")
}

func newShell(keys keyManager, in io.Reader, out io.Writer) *shell {
	return &shell{keys: keys, in: bufio.NewReader(in), out: out}
}

// Run reads commands until EOF or ctx is done. Unknown commands and failed
// operations are reported and the loop goes on.
func (s *shell) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		s.printf("Available operations: %s\n", shellCommandNames())
		line, err := s.ask("Enter command: ")
		if err == io.EOF {
			s.printf("\nExiting...\n")
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		cmd, ok := lookupShellCommand(line)
		if !ok {
			s.printf("ERROR: Operation not supported: %s\n", line)
			continue
		}
		if err := cmd.run(s, ctx); err != nil {
			s.printf("ERROR: %s failed: %s\n", cmd.name, err)
			continue
		}
		s.printf("\nOperation completed. Press <ctrl+d> to quit.\n")
	}
	return ctx.Err()
}

func (s *shell) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// ask prints prompt and returns the trimmed answer. A last line without a
// newline still counts.
func (s *shell) ask(prompt string) (string, error) {
	s.printf("%s", prompt)
	line, err := s.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimSpace(line), err
}

func (s *shell) listKeys(ctx context.Context) error {
	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "    ")
	if err != nil {
		return err
	}
	s.printf("%s\n", data)
	return nil
}

func (s *shell) createKey(ctx context.Context) error {
	s.printf("Creating key. Please input the following options:\n")
	name, err := s.ask("Key name (optional): ")
	if err != nil {
		return err
	}
	s.printf("To use with all IPs, leave blank or use 0.0.0.0/0.\n")
	s.printf("To use with a single IP, append '/32', such as 207.39.29.22/32.\n")
	cidr, err := s.ask("CIDR (optional): ")
	if err != nil {
		return err
	}
	key, err := s.keys.CreateKey(ctx, name, cidr)
	if err != nil {
		return err
	}
	return printCreatedKey(s.out, key.ID, key.Secret)
}

func (s *shell) enableKey(ctx context.Context) error {
	id, err := s.ask("API Key ID: ")
	if err != nil {
		return err
	}
	key, err := s.keys.EnableKey(ctx, id)
	if err != nil {
		return err
	}
	s.printf("Key with ID %s enabled.\n", key.ID)
	return nil
}

func (s *shell) disableKey(ctx context.Context) error {
	id, err := s.ask("API Key ID: ")
	if err != nil {
		return err
	}
	key, err := s.keys.DisableKey(ctx, id)
	if err != nil {
		return err
	}
	s.printf("Key with ID %s disabled.\n", key.ID)
	return nil
}

func (s *shell) deleteKey(ctx context.Context) error {
	id, err := s.ask("API Key ID: ")
	if err != nil {
		return err
	}
	found, err := s.keys.DeleteKey(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		s.printf("Key with ID %s not found.\n", id)
		return nil
	}
	s.printf("Key with ID %s deleted.\n", id)
	return nil
}

// keyShell logs in with credentials read from the terminal, then runs the shell.
func keyShell(ctx *cli.Context) error {
	cfg, err := utils.ParseConfig(ctx)
	if err != nil {
		return err
	}
	s := newShell(nil, os.Stdin, ctx.App.Writer)
	s.printf("########################\nBitMEX API Key Interface\n########################\n\n")
	s.printf("Please log in.\n")
	email, err := s.ask("Email: ")
	if err != nil {
		return err
	}
	s.printf("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	s.printf("\n")
	if err != nil {
		return err
	}
	otp, err := s.ask("OTP Token (if enabled. If not, press <enter>): ")
	if err != nil {
		return err
	}

	cfg.Bitmex.Key, cfg.Bitmex.Secret = "", ""
	cfg.Bitmex.Login, cfg.Bitmex.Password, cfg.Bitmex.OTPToken = email, string(password), otp
	n := node.New(cfg)
	if err := n.Init(ctx.Context); err != nil {
		return err
	}
	defer n.Close(ctx.Context)
	if err := n.Login(ctx.Context); err != nil {
		return err
	}
	s.printf("\nSuccessfully logged in to %s.\n", n.Bitmex.Host())
	s.keys = n.Bitmex
	err = s.Run(ctx.Context)
	if err == context.Canceled {
		return nil
	}
	return err
}

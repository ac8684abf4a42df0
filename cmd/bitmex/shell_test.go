package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
)

type fakeKeys struct {
	calls []string
}

func (f *fakeKeys) ListKeys(context.Context) ([]bitmex.APIKey, error) {
	f.calls = append(f.calls, "list")
	return []bitmex.APIKey{{ID: "k1", Name: "bot", Enabled: true}}, nil
}

func (f *fakeKeys) CreateKey(_ context.Context, name, cidr string) (*bitmex.APIKey, error) {
	f.calls = append(f.calls, "create "+name+" "+cidr)
	return &bitmex.APIKey{ID: "k2", Secret: "s2", Name: name}, nil
}

func (f *fakeKeys) EnableKey(_ context.Context, id string) (*bitmex.APIKey, error) {
	f.calls = append(f.calls, "enable "+id)
	return &bitmex.APIKey{ID: id, Enabled: true}, nil
}

func (f *fakeKeys) DisableKey(_ context.Context, id string) (*bitmex.APIKey, error) {
	f.calls = append(f.calls, "disable "+id)
	return nil, errors.New("key not found")
}

func (f *fakeKeys) DeleteKey(_ context.Context, id string) (bool, error) {
	f.calls = append(f.calls, "delete "+id)
	return id == "k1", nil
}

func runShell(t *testing.T, input string) (*fakeKeys, string) {
	keys := &fakeKeys{}
	var out bytes.Buffer
	require.NoError(t, newShell(keys, strings.NewReader(input), &out).Run(context.Background()))
	return keys, out.String()
}

func TestShell_Operations(t *testing.T) {
	keys, out := runShell(t, strings.Join([]string{
		"list_keys",
		"create_key", "bot", "207.39.29.22/32",
		"enable_key", "k1",
		"delete_key", "k1",
		"delete_key", "k9",
	}, "\n"))

	assert.Equal(t, []string{"list", "create bot 207.39.29.22/32", "enable k1", "delete k1", "delete k9"}, keys.calls)
	assert.Contains(t, out, `"id": "k1"`)
	assert.Contains(t, out, "API Key:    k2")
	assert.Contains(t, out, "Secret:     s2")
	assert.Contains(t, out, "Key with ID k1 enabled.")
	assert.Contains(t, out, "Key with ID k1 deleted.")
	assert.Contains(t, out, "Key with ID k9 not found.")
	assert.Contains(t, out, "Exiting...")
}

func TestShell_UnknownCommandContinues(t *testing.T) {
	keys, out := runShell(t, "drop_all\n\nlist_keys\n")
	assert.Contains(t, out, "ERROR: Operation not supported: drop_all")
	assert.Equal(t, []string{"list"}, keys.calls)
}

func TestShell_FailedOperationContinues(t *testing.T) {
	keys, out := runShell(t, "disable_key\nk1\nlist_keys\n")
	assert.Contains(t, out, "ERROR: disable_key failed: key not found")
	assert.Equal(t, []string{"disable k1", "list"}, keys.calls)
}

func TestShell_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newShell(&fakeKeys{}, strings.NewReader("list_keys\n"), &bytes.Buffer{}).Run(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestShellCommands_Closed(t *testing.T) {
	assert.Equal(t, "list_keys, create_key, enable_key, disable_key, delete_key", shellCommandNames())
	_, ok := lookupShellCommand("shutdown")
	assert.False(t, ok)
}

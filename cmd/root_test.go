package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "crawl")
	assert.Contains(t, names, "serve")
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestCrawlRequiresURL(t *testing.T) {
	cmd := newCrawlCmd()
	cmd.SetArgs(nil)
	err := cmd.Args(cmd, nil)
	require.Error(t, err)
}

package rules

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestEngineReloadIsAtomic(t *testing.T) {
	e := NewEngine(logr.Discard(), &Document{})

	d := e.Evaluate(&Record{Kind: "chat", Value: "password: hunter2"})
	require.True(t, d.AllowStore)

	e.Reload(&Document{
		NeverStore: []Rule{{Match: Match{Content: "password"}}},
	})

	d = e.Evaluate(&Record{Kind: "chat", Value: "password: hunter2"})
	require.False(t, d.AllowStore)
}

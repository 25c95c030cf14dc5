// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixvpn/control"
)

func TestPrintStatus(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printStatus(&buf, &control.Status{
		State:             "Up",
		ConnectionSeconds: 42,
		Rx:                10,
		Tx:                20,
		BackendMessage:    "None",
	})
	out := buf.String()
	require.Contains(t, out, "42s")
	require.Contains(t, out, "10 / 20 bytes")
	require.NotContains(t, out, "Message:")

	buf.Reset()
	printStatus(&buf, &control.Status{
		State:          "Connecting.EstablishingConnection",
		BackendMessage: "StartFailure: backend: vpn permission denied",
	})
	out = buf.String()
	require.NotContains(t, out, "Connected:")
	require.Contains(t, out, "permission denied")
}

func TestCommands(t *testing.T) {
	t.Parallel()
	cmd := newRootCommand()
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"connect", "disconnect", "status", "links"}, names)
}

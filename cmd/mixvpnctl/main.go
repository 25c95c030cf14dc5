// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"

	"github.com/katzenpost/mixvpn/common"
	"github.com/katzenpost/mixvpn/control"
	"github.com/katzenpost/mixvpn/trigger"
	"github.com/katzenpost/mixvpn/tunnel"
)

var (
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

type options struct {
	socket  string
	timeout time.Duration
	qr      bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "mixvpnctl",
		Short: "control a running mixvpnd",
		Long: `mixvpnctl talks to mixvpnd over its control socket.  Connect and
disconnect requests are handed to the daemon's tunnel manager and return
immediately; use status to follow the tunnel coming up.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.socket, "socket", "s", "/var/lib/mixvpn/control.sock",
		"path to the daemon's control socket")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second,
		"request timeout")

	cmd.AddCommand(
		actionCommand(opts, trigger.ActionConnect, "request the tunnel to be started"),
		actionCommand(opts, trigger.ActionDisconnect, "request the tunnel to be stopped"),
		actionCommand(opts, control.ActionStatus, "show the tunnel status"),
		linksCommand(opts),
	)
	return cmd
}

func do(opts *options, action string) (*control.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	c, err := control.Dial(ctx, opts.socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer c.Close()
	return c.Do(ctx, action)
}

func actionCommand(opts *options, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := do(opts, action)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), resp.Status)
			return nil
		},
	}
}

func linksCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   control.ActionLinks,
		Short: "show the account links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := do(opts, control.ActionLinks)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, headerStyle.Render("Account"))
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Sign up:"), resp.Links.SignUp)
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Sign in:"), resp.Links.SignIn)
			if resp.Links.Account != "" {
				fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Account:"), resp.Links.Account)
			}
			if opts.qr {
				fmt.Fprintln(w)
				qrterminal.GenerateWithConfig(resp.Links.SignUp, qrterminal.Config{
					Level:      qrterminal.L,
					Writer:     w,
					HalfBlocks: true,
					QuietZone:  1,
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.qr, "qr", "q", false, "also print the sign up link as a QR code")
	return cmd
}

func printStatus(w io.Writer, st *control.Status) {
	if st == nil {
		return
	}
	up := st.State == tunnel.Up.String()
	style := downStyle
	if up {
		style = upStyle
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Tunnel:"), style.Render(st.State))
	if up {
		fmt.Fprintf(w, "%s %ds\n", labelStyle.Render("Connected:"), st.ConnectionSeconds)
		fmt.Fprintf(w, "%s %d / %d bytes\n", labelStyle.Render("Rx / Tx:"), st.Rx, st.Tx)
	}
	if st.BackendMessage != "" && st.BackendMessage != (tunnel.None{}).String() {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Message:"), st.BackendMessage)
	}
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render("Credential stored:"), st.IsMnemonicStored)
}

func main() {
	common.ExecuteWithFang(context.Background(), newRootCommand())
}

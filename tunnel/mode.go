// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"fmt"
	"strings"
)

// Mode is the routing mode of the tunnel.
type Mode uint8

const (
	// FiveHopMixnet routes traffic through the full mixnet.
	FiveHopMixnet Mode = iota
	// TwoHopMixnet routes traffic through the entry and exit gateways only.
	TwoHopMixnet
)

// ParseMode parses the textual form produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fivehopmixnet", "five_hop_mixnet", "5hop":
		return FiveHopMixnet, nil
	case "twohopmixnet", "two_hop_mixnet", "2hop":
		return TwoHopMixnet, nil
	}
	return FiveHopMixnet, fmt.Errorf("tunnel: invalid mode '%v'", s)
}

// String returns a string representation of the Mode.
func (m Mode) String() string {
	switch m {
	case FiveHopMixnet:
		return "FiveHopMixnet"
	case TwoHopMixnet:
		return "TwoHopMixnet"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Environment selects the API endpoints and contracts the tunnel uses.
type Environment uint8

const (
	Mainnet Environment = iota
	Sandbox
	Canary
)

// Endpoints are the network specific addresses an Environment resolves to.
type Endpoints struct {
	APIURL    string
	VPNAPIURL string
	NyxdURL   string
}

// Defaults; the daemon configuration may override any of them.
var environmentEndpoints = map[Environment]Endpoints{
	Mainnet: {
		APIURL:    "https://validator.nymtech.net/api/",
		VPNAPIURL: "https://nymvpn.com/api/",
		NyxdURL:   "https://rpc.nymtech.net/",
	},
	Sandbox: {
		APIURL:    "https://sandbox-nym-api1.nymtech.net/api/",
		VPNAPIURL: "https://sandbox-nym-vpn-api.nymtech.net/api/",
		NyxdURL:   "https://rpc.sandbox.nymtech.net/",
	},
	Canary: {
		APIURL:    "https://canary-api.performance.nymte.ch/api/",
		VPNAPIURL: "https://canary-nym-vpn-api.performance.nymte.ch/api/",
		NyxdURL:   "https://canary-validator.performance.nymte.ch/",
	},
}

// ParseEnvironment parses the textual form produced by Environment.String.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "":
		return Mainnet, nil
	case "sandbox":
		return Sandbox, nil
	case "canary":
		return Canary, nil
	}
	return Mainnet, fmt.Errorf("tunnel: invalid environment '%v'", s)
}

// Endpoints returns the endpoints for the environment.
func (e Environment) Endpoints() Endpoints {
	return environmentEndpoints[e]
}

// String returns a string representation of the Environment.
func (e Environment) String() string {
	switch e {
	case Mainnet:
		return "mainnet"
	case Sandbox:
		return "sandbox"
	case Canary:
		return "canary"
	}
	return fmt.Sprintf("Environment(%d)", uint8(e))
}

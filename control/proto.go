// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package control exposes the tunnel manager to other local processes
// over a unix domain socket.  Messages are CBOR encoded and prefixed
// with their length as a 4 byte big endian integer.
package control

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/manager"
)

const (
	// ActionStatus queries the manager's state.
	ActionStatus = "status"

	// ActionLinks queries the account links.
	ActionLinks = "links"

	messagePrefixLen = 4
	maxMessageLen    = 1 << 20
)

// Request is sent by a Client.
type Request struct {
	// Action is one of connect, disconnect, status or links.
	Action string `cbor:"action"`
}

// Status is the wire form of the manager's State.
type Status struct {
	State             string `cbor:"state"`
	ConnectionSeconds int64  `cbor:"connection_seconds"`
	Rx                uint64 `cbor:"rx"`
	Tx                uint64 `cbor:"tx"`
	BackendMessage    string `cbor:"backend_message"`
	IsMnemonicStored  bool   `cbor:"is_mnemonic_stored"`
}

// Response answers a Request.
type Response struct {
	Status *Status               `cbor:"status,omitempty"`
	Links  *backend.AccountLinks `cbor:"links,omitempty"`

	// Err is set if the request failed.
	Err string `cbor:"err,omitempty"`
}

// StatusFromState converts st to its wire form.
func StatusFromState(st manager.State) *Status {
	s := &Status{
		State:             st.TunnelState.String(),
		ConnectionSeconds: st.Statistics.ConnectionSeconds,
		Rx:                st.Statistics.Rx,
		Tx:                st.Statistics.Tx,
		IsMnemonicStored:  st.IsMnemonicStored,
	}
	if st.BackendMessage != nil {
		s.BackendMessage = st.BackendMessage.String()
	}
	return s
}

func writeMessage(w io.Writer, v interface{}) error {
	blob, err := cbor.Marshal(v)
	if err != nil {
		return err
	}

	prefix := make([]byte, messagePrefixLen)
	binary.BigEndian.PutUint32(prefix, uint32(len(blob)))
	toSend := append(prefix, blob...)
	count, err := w.Write(toSend)
	if err != nil {
		return err
	}
	if count != len(toSend) {
		return fmt.Errorf("control: short write: %d != %d", count, len(toSend))
	}
	return nil
}

func readMessage(r io.Reader, v interface{}) error {
	prefix := make([]byte, messagePrefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return err
	}

	prefixLen := binary.BigEndian.Uint32(prefix)
	if prefixLen > maxMessageLen {
		return fmt.Errorf("control: message too large: %d", prefixLen)
	}
	message := make([]byte, prefixLen)
	if _, err := io.ReadFull(r, message); err != nil {
		return err
	}
	return cbor.Unmarshal(message, v)
}

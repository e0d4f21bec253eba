// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/pkg/strmap"
)

func dial(t *testing.T) (server, client *Channel, ep *Endpoint) {
	t.Helper()
	ep, err := Open(TCP)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var acceptErr error
	go func() {
		defer wg.Done()
		server, acceptErr = ep.Accept()
	}()

	client, err = Connect(ep.Name())
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, acceptErr)
	return server, client, ep
}

func TestReadWriteExactBytes(t *testing.T) {
	server, client, ep := dial(t)
	defer ep.Close()
	defer server.Disconnect()
	defer client.Disconnect()

	payload := []byte("hello, launcher")
	done := make(chan error, 1)
	go func() { done <- client.Write(payload) }()

	got, err := server.Read(len(payload))
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, got)
}

func TestReadStrWriteStr(t *testing.T) {
	server, client, ep := dial(t)
	defer ep.Close()
	defer server.Disconnect()
	defer client.Disconnect()

	done := make(chan error, 1)
	go func() { done <- client.WriteStr("BARRIER") }()

	got, err := server.ReadStr()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, "BARRIER", got)
}

func TestReadStrmapWriteStrmap(t *testing.T) {
	server, client, ep := dial(t)
	defer ep.Close()
	defer server.Disconnect()
	defer client.Disconnect()

	m := strmap.New()
	m.Set("RANK", "3")
	m.Set("RANKS", "16")

	done := make(chan error, 1)
	go func() { done <- client.WriteStrmap(m) }()

	got, err := server.ReadStrmap()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.True(t, m.Equal(got))
}

func TestDisconnectIsSeenAsPeerClosed(t *testing.T) {
	server, client, ep := dial(t)
	defer ep.Close()

	require.NoError(t, client.Disconnect())
	_, err := server.Read(1)
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestConnectInvalidNameFails(t *testing.T) {
	_, err := Connect("not-a-valid-endpoint-name")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestConnectRefused(t *testing.T) {
	ep, err := Open(TCP)
	require.NoError(t, err)
	name := ep.Name()
	require.NoError(t, ep.Close())

	_, err = Connect(name)
	require.Error(t, err)
}

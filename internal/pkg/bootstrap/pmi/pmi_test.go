// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package pmi_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/bootstrap/pmi"
	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/testtree"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// dialPair opens a loopback TCP channel pair standing in for a locally
// forked application process's connection to its launcher.
func dialPair(t *testing.T) (launcherSide, appSide *channel.Channel, ep *channel.Endpoint) {
	t.Helper()
	ep, err := channel.Open(channel.TCP)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		launcherSide, err = ep.Accept()
		require.NoError(t, err)
	}()
	appSide, err = channel.Connect(ep.Name())
	require.NoError(t, err)
	wg.Wait()
	return launcherSide, appSide, ep
}

func TestPMISingleRankGetOwnValue(t *testing.T) {
	nodes := testtree.Build(t, 1, 2)
	launcherSide, appSide, ep := dialPair(t)
	defer ep.Close()
	defer appSide.Disconnect()

	done := make(chan *strmap.Map, 1)
	go func() {
		m, err := pmi.RunGroup(nodes[0], []*channel.Channel{launcherSide}, 0, 1)
		require.NoError(t, err)
		done <- m
	}()

	_, err := appSide.ReadStrmap() // init strmap
	require.NoError(t, err)

	committed := strmap.New()
	committed.Set("K", "v0")
	require.NoError(t, appSide.WriteStr("BARRIER"))
	require.NoError(t, appSide.WriteStrmap(committed))

	tok, err := appSide.ReadStr()
	require.NoError(t, err)
	require.Equal(t, "BARRIER", tok)

	require.NoError(t, appSide.WriteStr("GET"))
	require.NoError(t, appSide.WriteStr("K"))
	val, err := appSide.ReadStr()
	require.NoError(t, err)
	require.Equal(t, "v0", val)

	require.NoError(t, appSide.WriteStr("GET"))
	require.NoError(t, appSide.WriteStr("missing"))
	val, err = appSide.ReadStr()
	require.NoError(t, err)
	require.Equal(t, "", val)

	require.NoError(t, appSide.WriteStr("FINALIZE"))

	<-done
}

func TestPMIFourRanksEachGetsOwnerValue(t *testing.T) {
	nodes := testtree.Build(t, 4, 2)

	type appConn struct {
		app *channel.Channel
		ep  *channel.Endpoint
	}
	launcherSides := make([]*channel.Channel, 4)
	appSides := make([]appConn, 4)
	for r := 0; r < 4; r++ {
		ls, as, ep := dialPair(t)
		launcherSides[r] = ls
		appSides[r] = appConn{app: as, ep: ep}
	}
	defer func() {
		for _, c := range appSides {
			c.app.Disconnect()
			c.ep.Close()
		}
	}()

	var wg sync.WaitGroup
	results := make([]*strmap.Map, 4)
	for r := 0; r < 4; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := pmi.RunGroup(nodes[r], []*channel.Channel{launcherSides[r]}, r, 4)
			require.NoError(t, err)
			results[r] = m
		}()
	}

	var appWg sync.WaitGroup
	for r := 0; r < 4; r++ {
		r := r
		appWg.Add(1)
		go func() {
			defer appWg.Done()
			as := appSides[r].app
			_, err := as.ReadStrmap()
			require.NoError(t, err)

			m := strmap.New()
			m.Set("K", fmt.Sprintf("v%d", r))
			require.NoError(t, as.WriteStr("BARRIER"))
			require.NoError(t, as.WriteStrmap(m))

			tok, err := as.ReadStr()
			require.NoError(t, err)
			require.Equal(t, "BARRIER", tok)

			require.NoError(t, as.WriteStr("GET"))
			require.NoError(t, as.WriteStr("K"))
			val, err := as.ReadStr()
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("v%d", r), val, "rank %d", r)

			require.NoError(t, as.WriteStr("GET"))
			require.NoError(t, as.WriteStr("K"))
			_, err = as.ReadStr()
			require.NoError(t, err)

			require.NoError(t, as.WriteStr("FINALIZE"))
		}()
	}
	appWg.Wait()
	wg.Wait()

	for r := 1; r < 4; r++ {
		require.True(t, results[0].Equal(results[r]), "rank %d diverged", r)
	}
}

func TestPMIProtocolViolationAbortsWithoutReleasingBarrier(t *testing.T) {
	nodes := testtree.Build(t, 1, 2)
	launcherSide, appSide, ep := dialPair(t)
	defer ep.Close()
	defer appSide.Disconnect()

	done := make(chan error, 1)
	go func() {
		_, err := pmi.RunGroup(nodes[0], []*channel.Channel{launcherSide}, 0, 1)
		done <- err
	}()

	_, err := appSide.ReadStrmap() // init strmap
	require.NoError(t, err)

	// Send GET before BARRIER: a protocol violation per §4.H.
	require.NoError(t, appSide.WriteStr("GET"))

	err = <-done
	require.Error(t, err)
}

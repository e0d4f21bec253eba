// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package session holds the live state tree of one launcher process
// (spec §3 Session, Spawn-tree node, Process group) and the process-group
// registry of spec §4.G. It owns no I/O itself; the tree-collective and
// bootstrap packages are handed a *Session and drive I/O through the
// Channels it holds.
package session

import (
	"fmt"
	"sync"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/pkg/strmap"
	"github.com/LLNL/spawnnet/pkg/util/maps"
)

// Child is one child record of a spawn-tree node: its rank, its
// exclusively-owned channel, and the hostname/pid it was forked onto.
type Child struct {
	Rank     int
	Channel  *channel.Channel
	Hostname string
	PID      int
}

// SpawnNode is the local launcher's position in the tree: its rank, the
// total number of ranks, its parent channel (nil at root) and its
// ordered list of children.
type SpawnNode struct {
	Rank     int
	Ranks    int
	Parent   *channel.Channel
	Children []*Child
}

// IsRoot reports whether this node is the tree root.
func (n *SpawnNode) IsRoot() bool { return n.Parent == nil }

// ChildChannels returns the children's Channels in tree order — the order
// every collective in internal/pkg/collective must iterate in.
func (n *SpawnNode) ChildChannels() []*channel.Channel {
	out := make([]*channel.Channel, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.Channel
	}
	return out
}

// ProcessGroup is a set of application processes started together under
// one name (spec §3 Process group).
type ProcessGroup struct {
	Name   string
	Params *strmap.Map
	Count  int
	PIDs   []int
}

// Session is the root of a launcher's live state: its endpoint, its
// SpawnNode, the parameters strmap, and the §4.G process-group registry.
// Session is mutated only from the single launcher thread (spec §5); no
// internal locking is required for correctness, but the registry methods
// take a mutex anyway since the future reaper (§4.G) runs from a signal
// handler goroutine.
type Session struct {
	Endpoint *channel.Endpoint
	Node     *SpawnNode
	Params   *strmap.Map

	mu          sync.Mutex
	groupByName map[string]*ProcessGroup
	groupByPID  map[int]string
}

// New constructs an empty Session for the given rank/ranks.
func New(rank, ranks int, ep *channel.Endpoint) *Session {
	return &Session{
		Endpoint:    ep,
		Node:        &SpawnNode{Rank: rank, Ranks: ranks},
		Params:      strmap.New(),
		groupByName: make(map[string]*ProcessGroup),
		groupByPID:  make(map[int]string),
	}
}

// StartGroup registers a new process group, indexed by name and by each
// of its pids (spec §4.G: "both indexes are populated at group start").
func (s *Session) StartGroup(name string, params *strmap.Map, pids []int) (*ProcessGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maps.HasKey(s.groupByName, name) {
		return nil, fmt.Errorf("process group %q already started", name)
	}
	g := &ProcessGroup{Name: name, Params: params, Count: len(pids), PIDs: append([]int(nil), pids...)}
	s.groupByName[name] = g
	for _, pid := range pids {
		s.groupByPID[pid] = name
	}
	return g, nil
}

// GroupByName looks up a process group by name.
func (s *Session) GroupByName(name string) (*ProcessGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groupByName[name]
	return g, ok
}

// GroupByPID looks up which group owns pid — the lookup the reaper uses
// to map a SIGCHLD to its owning group (spec §4.G).
func (s *Session) GroupByPID(pid int) (*ProcessGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.groupByPID[pid]
	if !ok {
		return nil, false
	}
	return s.groupByName[name], true
}

// FinishGroup deletes name's entry from both indexes (spec §4.G: "group
// destroy deletes both mappings").
func (s *Session) FinishGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groupByName[name]
	if !ok {
		return
	}
	for _, pid := range g.PIDs {
		delete(s.groupByPID, pid)
	}
	delete(s.groupByName, name)
}

// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

// Package netdev exports network-device counters through both
// telemetry facades.
//
// The producer parses /proc/net/dev and keeps one counters struct per
// interface. On the stats surface it maintains a "net" source with
// one subordinate per interface; every counter descriptor is a SUM
// aggregate, so an interface's own file shows its counter while the
// same file on the parent shows the total across interfaces. On the
// metrics surface it registers one cumulative metric per counter with
// a single "interface" field, one row per interface.
//
// Call [Producer.Refresh] on a timer to track counter movement and
// interface hotplug. Interfaces that disappear are revoked before
// their backing structs are dropped.
package netdev

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/statsfs-foundation/statsfs/metrics"
	"github.com/statsfs-foundation/statsfs/stats"
)

// DefaultProcPath is where Linux exposes the device counter table.
const DefaultProcPath = "/proc/net/dev"

// linkStats is the per-interface backing struct the stats bindings
// point into. Fields are updated in place by Refresh.
type linkStats struct {
	rxBytes   uint64
	rxPackets uint64
	rxErrors  uint64
	rxDropped uint64
	txBytes   uint64
	txPackets uint64
	txErrors  uint64
	txDropped uint64
}

// counterDef ties one linkStats field to its published name and
// description.
type counterDef struct {
	name        string
	description string
	offset      uintptr
}

var counterDefs = []counterDef{
	{"rx_bytes", "net device received bytes count", unsafe.Offsetof(linkStats{}.rxBytes)},
	{"rx_packets", "net device received packets count", unsafe.Offsetof(linkStats{}.rxPackets)},
	{"rx_errors", "net device received errors count", unsafe.Offsetof(linkStats{}.rxErrors)},
	{"rx_dropped", "net device dropped packets count", unsafe.Offsetof(linkStats{}.rxDropped)},
	{"tx_bytes", "net device transmitted bytes count", unsafe.Offsetof(linkStats{}.txBytes)},
	{"tx_packets", "net device transmitted packets count", unsafe.Offsetof(linkStats{}.txPackets)},
	{"tx_errors", "net device transmitted errors count", unsafe.Offsetof(linkStats{}.txErrors)},
	{"tx_dropped", "net device transmitted packet drop count", unsafe.Offsetof(linkStats{}.txDropped)},
}

// newCounterSet builds the shared descriptor set. Every descriptor is
// a SUM aggregate: bound with a base it reads as that interface's own
// counter (a subtree of one), bound with no base on the parent it
// folds the whole interface list.
func newCounterSet() *stats.ValueSet {
	set := &stats.ValueSet{}
	for _, def := range counterDefs {
		set.Values = append(set.Values, stats.Value{
			Name:        def.name,
			Description: def.description,
			Offset:      def.offset,
			Type:        stats.U64,
			Aggr:        stats.AggrSum,
			Flag:        stats.Cumulative,
			Mode:        0o444,
		})
	}
	return set
}

// Options configures a Producer.
type Options struct {
	// ProcPath overrides the counter table location. Defaults to
	// DefaultProcPath; tests point it at a fixture.
	ProcPath string

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Producer owns the netdev telemetry tree.
type Producer struct {
	procPath string
	logger   *slog.Logger
	root     *stats.Source
	set      *stats.ValueSet

	mu         sync.Mutex
	interfaces map[string]*ifaceEntry
}

type ifaceEntry struct {
	source  *stats.Source
	backing *linkStats
}

// New creates the producer and performs the initial refresh. The
// returned producer owns the "net" root source; publish it with
// Source().Register and release everything with Close.
func New(options Options) (*Producer, error) {
	if options.ProcPath == "" {
		options.ProcPath = DefaultProcPath
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	producer := &Producer{
		procPath:   options.ProcPath,
		logger:     options.Logger,
		root:       stats.NewSource("net", "subsystem"),
		set:        newCounterSet(),
		interfaces: make(map[string]*ifaceEntry),
	}
	if err := producer.root.AddValues(producer.set, nil); err != nil {
		producer.root.Put()
		return nil, fmt.Errorf("binding aggregate set: %w", err)
	}
	if err := producer.Refresh(); err != nil {
		producer.root.Put()
		return nil, err
	}
	return producer, nil
}

// Source returns the "net" root source. The producer keeps its own
// reference; callers that need the source beyond the producer's life
// must Get it.
func (p *Producer) Source() *stats.Source {
	return p.root
}

// Refresh re-reads the counter table: updates counters in place, adds
// sources for new interfaces, revokes and unlinks sources whose
// interface disappeared.
func (p *Producer) Refresh() error {
	parsed, err := parseCounterTable(p.procPath)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for name, counters := range parsed {
		entry, ok := p.interfaces[name]
		if !ok {
			entry = &ifaceEntry{
				source:  stats.NewSource(name, "interface"),
				backing: &linkStats{},
			}
			if err := entry.source.AddValues(p.set, unsafe.Pointer(entry.backing)); err != nil {
				entry.source.Put()
				return fmt.Errorf("binding interface %q: %w", name, err)
			}
			if err := p.root.AddSubordinate(entry.source); err != nil {
				p.logger.Warn("publishing interface failed", "interface", name, "error", err)
			}
			p.interfaces[name] = entry
			p.logger.Debug("interface added", "interface", name)
		}
		*entry.backing = counters
	}

	for name, entry := range p.interfaces {
		if _, ok := parsed[name]; ok {
			continue
		}
		// Revoke first: open files may outlive the entry.
		entry.source.Revoke()
		p.root.RemoveSubordinate(entry.source)
		entry.source.Put()
		delete(p.interfaces, name)
		p.logger.Debug("interface removed", "interface", name)
	}
	return nil
}

// Interfaces returns the currently tracked interface names, sorted.
func (p *Producer) Interfaces() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.interfaces))
	for name := range p.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close revokes every interface source and releases the tree.
func (p *Producer) Close() {
	p.mu.Lock()
	for name, entry := range p.interfaces {
		entry.source.Revoke()
		p.root.RemoveSubordinate(entry.source)
		entry.source.Put()
		delete(p.interfaces, name)
	}
	p.mu.Unlock()
	p.root.Revoke()
	p.root.Put()
}

// RegisterMetrics publishes the counter table on the metrics surface:
// a net/dev/stats subsystem with one cumulative metric per counter,
// one row per interface.
func (p *Producer) RegisterMetrics(registry *metrics.Registry) error {
	net, err := registry.NewSubsystem("net", nil)
	if err != nil {
		return err
	}
	dev, err := registry.NewSubsystem("dev", net)
	if err != nil {
		return err
	}
	statsSubsys, err := registry.NewSubsystem("stats", dev)
	if err != nil {
		return err
	}

	for _, def := range counterDefs {
		offset := def.offset
		_, err := registry.Register(statsSubsys, metrics.Definition{
			Name:        def.name,
			Description: def.description,
			Field0:      "interface",
			Cumulative:  true,
		}, func(e *metrics.Emitter) {
			p.emitCounter(e, offset)
		})
		if err != nil {
			return fmt.Errorf("registering metric %q: %w", def.name, err)
		}
	}
	return nil
}

// emitCounter emits one row per interface for the counter at the
// given linkStats offset, in sorted interface order.
func (p *Producer) emitCounter(e *metrics.Emitter, offset uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.interfaces))
	for name := range p.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		backing := p.interfaces[name].backing
		value := *(*uint64)(unsafe.Add(unsafe.Pointer(backing), offset))
		e.EmitInt(int64(value), name, "")
	}
}

// parseCounterTable reads a /proc/net/dev style table. The first two
// lines are headers; each following line is
//
//	<iface>: <rx bytes packets errs drop fifo frame compressed multicast> <tx ...>
func parseCounterTable(path string) (map[string]linkStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading counter table: %w", err)
	}

	table := make(map[string]linkStats)
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i < 2 || strings.TrimSpace(line) == "" {
			continue
		}
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		fields := strings.Fields(rest)
		if len(fields) < 12 {
			return nil, fmt.Errorf("%w: malformed counter line for %q", stats.ErrInvalid, name)
		}

		var counters linkStats
		parse := func(index int) uint64 {
			if err != nil {
				return 0
			}
			var value uint64
			value, err = strconv.ParseUint(fields[index], 10, 64)
			return value
		}
		counters.rxBytes = parse(0)
		counters.rxPackets = parse(1)
		counters.rxErrors = parse(2)
		counters.rxDropped = parse(3)
		counters.txBytes = parse(8)
		counters.txPackets = parse(9)
		counters.txErrors = parse(10)
		counters.txDropped = parse(11)
		if err != nil {
			return nil, fmt.Errorf("%w: counter line for %q: %v", stats.ErrInvalid, name, err)
		}
		table[name] = counters
	}
	return table, nil
}

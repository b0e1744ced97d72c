/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command gcbench churns a tracked heap: it keeps a table of k pointers,
// replaces random entries with fresh 1KB-4KB blocks n times and relies on
// the collector to reclaim the replaced blocks.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/cloudwego/conservgc/gc"
	"github.com/cloudwego/conservgc/mem"
)

// first byte of every live chunk; a chunk freed too early loses it
const liveTag = 62

type config struct {
	n, k     int
	limit    bool
	limitMiB int
	seed     int64
	verbose  bool
}

func main() {
	var c config
	flag.IntVar(&c.n, "n", 200000, "number of chunk allocations")
	flag.IntVar(&c.k, "k", 4096, "number of live chunk slots")
	noLimit := flag.Bool("l", false, "do not limit process memory")
	flag.IntVar(&c.limitMiB, "limit", 8192, "address space limit in MiB")
	flag.Int64Var(&c.seed, "seed", 1, "random seed")
	flag.BoolVar(&c.verbose, "v", false, "log every collection")
	flag.Parse()
	c.limit = !*noLimit

	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(c, logger); err != nil {
		logger.Error("gcbench failed", "error", err)
		os.Exit(1)
	}
}

func run(c config, logger *slog.Logger) error {
	if c.n < 0 || c.k <= 0 {
		return fmt.Errorf("bad arguments: -n %d -k %d", c.n, c.k)
	}
	if c.limit {
		if err := limitMemory(uint64(c.limitMiB) << 20); err != nil {
			return fmt.Errorf("limit memory: %w", err)
		}
	}

	m, err := mem.New(mem.DefaultLayout())
	if err != nil {
		return err
	}
	h, err := gc.New(m, gc.WithLogger(logger))
	if err != nil {
		return err
	}
	defer h.Close()

	if err := benchmark(h, c, logger); err != nil {
		return err
	}
	h.Collect()
	// the table frame is popped by now, so this should print "0 allocations"
	return h.PrintAllocations(os.Stdout)
}

func benchmark(h *gc.Heap, c config, logger *slog.Logger) error {
	m := h.Memory()
	frame, err := m.Stack().Push(1)
	if err != nil {
		return err
	}
	defer m.Stack().Pop(frame)

	table, err := h.Alloc(c.k * mem.WordSize)
	if err != nil {
		return err
	}
	frame.Set(0, table)

	rng := rand.New(rand.NewSource(c.seed))
	for i := 0; i < c.n; i++ {
		if i%10000 == 0 && i != 0 {
			logger.Info("chunk allocation", "done", i, "total", c.n, "live", h.Len())
		}
		slot := table + mem.Addr(rng.Intn(c.k)*mem.WordSize)
		if old := m.Load(slot); old != mem.Null {
			if tag := m.Bytes(old, 1)[0]; tag != liveTag {
				return fmt.Errorf("chunk %#x freed while reachable (tag %d)", uint64(old), tag)
			}
			m.Bytes(old, 1)[0] = liveTag - 1
		}
		p, err := h.Alloc(1024 + rng.Intn(3072))
		if err != nil {
			if errors.Is(err, gc.ErrOutOfMemory) {
				return fmt.Errorf("iteration %d: %w", i, err)
			}
			return err
		}
		m.Store(slot, p)
		m.Bytes(p, 1)[0] = liveTag
	}

	for s := 0; s < c.k; s++ {
		if p := m.Load(table + mem.Addr(s*mem.WordSize)); p != mem.Null {
			if tag := m.Bytes(p, 1)[0]; tag != liveTag {
				return fmt.Errorf("chunk %#x freed while reachable (tag %d)", uint64(p), tag)
			}
		}
	}

	st := h.Stats()
	logger.Info("benchmark finished",
		"allocs", st.Allocs,
		"collections", st.Collections,
		"swept", st.Swept,
		"live", st.LiveObjects,
	)
	return nil
}

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

// Command membench churns a chunk arena with random allocate and free calls
// and reports how many groups it needed against the peak number of live
// chunks.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/cloudwego/conservgc/arena"
)

// chunk is the fixed-size object the arena hands out.
type chunk struct {
	data [64]byte
}

type config struct {
	n, k      int
	groupSize int
	seed      int64
}

type result struct {
	stats   arena.Stats
	elapsed time.Duration
}

func main() {
	var c config
	flag.IntVar(&c.n, "n", 10000000, "number of allocate/free operations")
	flag.IntVar(&c.k, "k", 4096, "maximum number of live chunks")
	flag.IntVar(&c.groupSize, "g", arena.DefaultGroupSize, "slots per group")
	flag.Int64Var(&c.seed, "seed", 1, "random seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if c.n < 0 || c.k <= 0 || c.groupSize <= 0 {
		logger.Error("bad arguments", "n", c.n, "k", c.k, "g", c.groupSize)
		os.Exit(1)
	}

	res, err := run(c)
	if err != nil {
		logger.Error("membench failed", "error", err)
		os.Exit(1)
	}
	logger.Info("membench finished",
		"ops", c.n,
		"peak_live", res.stats.Peak,
		"groups", res.stats.Groups,
		"group_size", res.stats.GroupSize,
		"elapsed", res.elapsed,
	)
}

// run keeps a table of k chunk slots; each operation frees the chunk in a
// random slot, if any, and allocates a fresh one into it.
func run(c config) (result, error) {
	start := time.Now()
	a := arena.New[chunk](arena.WithGroupSize(c.groupSize))
	defer a.Destroy()

	rng := rand.New(rand.NewSource(c.seed))
	slots := make([]arena.Handle[chunk], c.k)
	for i := 0; i < c.n; i++ {
		s := rng.Intn(c.k)
		if h := slots[s]; !h.IsZero() {
			if h.Value().data[0] != byte(s) {
				return result{}, fmt.Errorf("op %d: chunk in slot %d was clobbered", i, s)
			}
			a.Free(h)
		}
		h := a.Alloc()
		h.Value().data[0] = byte(s)
		slots[s] = h
	}
	return result{stats: a.Stats(), elapsed: time.Since(start)}, nil
}

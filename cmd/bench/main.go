package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rgmining/fraudeagle/internal/analysis"
	"github.com/rgmining/fraudeagle/internal/fraudeagle"
	"github.com/rgmining/fraudeagle/internal/store"
)

// synthetic builds a graph where honest reviewers rate good products high and
// bad products low, and a fraudFrac share of reviewers do the opposite.
func synthetic(rng *rand.Rand, reviewers, products, perReviewer int, fraudFrac float64, workers int) *fraudeagle.ReviewGraph {
	g, err := fraudeagle.New(0.1, fraudeagle.WithWorkers(workers))
	if err != nil {
		panic(err)
	}
	ps := make([]*fraudeagle.Product, products)
	good := make([]bool, products)
	for i := range ps {
		ps[i] = g.NewProduct(fmt.Sprintf("p-%06d", i))
		good[i] = rng.Float64() < 0.7
	}
	for i := 0; i < reviewers; i++ {
		r := g.NewReviewer(fmt.Sprintf("r-%07d", i))
		fraud := rng.Float64() < fraudFrac
		for j := 0; j < perReviewer; j++ {
			p := rng.IntN(products)
			rating := 0.1
			if good[p] != fraud {
				rating = 0.9
			}
			if _, err := g.AddReview(r, ps[p], rating); err != nil {
				panic(err)
			}
		}
	}
	return g
}

func main() {
	rounds := flag.Int("rounds", 10, "update rounds per scale")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	st, cleanup, err := openScratchStore()
	if err != nil {
		panic(err)
	}
	defer cleanup()

	scales := []int{1000, 10000, 50000, 100000}
	workers := runtime.NumCPU()

	fmt.Println("=== SCALING BENCHMARK (5 reviews per reviewer, 10% fraud) ===")
	fmt.Printf("workers: %d  rounds: %d\n\n", workers, *rounds)
	fmt.Printf("%-10s %-10s %-12s %-14s %-14s %-12s\n", "REVIEWERS", "REVIEWS", "BUILD", "SEQ/ROUND", "PAR/ROUND", "STORE")

	for _, n := range scales {
		start := time.Now()
		seq := synthetic(rand.New(rand.NewPCG(*seed, uint64(n))), n, n/10, 5, 0.1, 1)
		build := time.Since(start)
		par := synthetic(rand.New(rand.NewPCG(*seed, uint64(n))), n, n/10, 5, 0.1, workers)

		seqPer := timeRounds(seq, *rounds)
		parPer := timeRounds(par, *rounds)

		res, err := (&analysis.Runner{MaxIterations: 1}).Run(context.Background(), seq)
		if err != nil {
			panic(err)
		}
		start = time.Now()
		if err := st.SaveRun(context.Background(), res); err != nil {
			panic(err)
		}
		save := time.Since(start)

		_, _, reviews := seq.Size()
		fmt.Printf("%-10d %-10d %-12s %-14s %-14s %-12s\n", n, reviews,
			build.Round(time.Millisecond), seqPer.Round(time.Microsecond),
			parPer.Round(time.Microsecond), save.Round(time.Millisecond))
	}
}

// openScratchStore opens a store in a fresh temporary directory. cleanup
// closes it and removes the directory.
func openScratchStore() (*store.Store, func(), error) {
	dir, err := os.MkdirTemp("", "fraudeagle-bench-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.Open(context.Background(), "sqlite", filepath.Join(dir, "bench.db"), logger)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, err
	}
	return st, func() {
		_ = st.Close()
		_ = os.RemoveAll(dir)
	}, nil
}

func timeRounds(g *fraudeagle.ReviewGraph, rounds int) time.Duration {
	start := time.Now()
	for i := 0; i < rounds; i++ {
		g.Update()
	}
	return time.Since(start) / time.Duration(rounds)
}

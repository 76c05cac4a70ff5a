package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar"

	"github.com/tombao2007/hmmlearn/hmm"
)

func main() {
	input := flag.String("input", "", "observation CSV, one row per time step; blank lines separate sequences")
	output := flag.String("output", "model.gob", "output model path")
	family := flag.String("family", "gaussian", "emission family: gaussian, gmm or categorical")
	covariance := flag.String("covariance", "diag", "gaussian covariance: spherical, diag, full or tied")
	states := flag.Int("states", 2, "number of hidden states")
	mix := flag.Int("mix", 2, "mixture components per state (gmm only)")
	symbols := flag.Int("symbols", 0, "alphabet size (categorical only; 0 = infer from data)")
	iter := flag.Int("iter", 50, "max Baum-Welch iterations")
	tol := flag.Float64("tol", 1e-3, "log-likelihood convergence tolerance")
	workers := flag.Int("workers", 1, "E-step worker goroutines")
	restarts := flag.Int("restarts", 1, "random restarts; the best-scoring model wins")
	seed := flag.Int64("seed", 0, "base seed for initialization")
	verbose := flag.Bool("v", false, "log per-iteration progress")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "hmmtrain: -input is required")
		flag.Usage()
		os.Exit(2)
	}

	X, lengths, err := loadObservations(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load observations: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Loaded %d observations in %d sequences\n", len(X), len(lengths))

	cfg := hmm.DefaultTrainConfig()
	cfg.MaxIterations = *iter
	cfg.Tol = *tol
	cfg.Workers = *workers

	var (
		best      *hmm.Model
		bestScore float64
	)
	bar := progressbar.New(*restarts)
	for r := 0; r < *restarts; r++ {
		bar.Add(1)

		m := hmm.New(newEmitter(*family, *covariance, *states, *mix, *symbols, X))
		if *verbose {
			m.SetLogger(log.New(os.Stderr, fmt.Sprintf("restart %d: ", r), 0))
		}
		cfg.Seed = *seed + int64(r)

		monitor, err := m.Fit(X, lengths, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nrestart %d failed: %v\n", r, err)
			continue
		}
		score := monitor.History[len(monitor.History)-1]
		if monitor.Warnings.LogLikDecreased > 0 {
			fmt.Fprintf(os.Stderr, "\nrestart %d: log-likelihood decreased %d times\n",
				r, monitor.Warnings.LogLikDecreased)
		}
		if best == nil || score > bestScore {
			best, bestScore = m, score
		}
	}
	fmt.Fprintln(os.Stderr)
	if best == nil {
		fmt.Fprintln(os.Stderr, "hmmtrain: every restart failed")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Best log-likelihood: %.6f\n", bestScore)

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := best.Save(f); err != nil {
		fmt.Fprintf(os.Stderr, "save model: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", *output)
}

// newEmitter builds the requested emission family. Dimensions come from
// the data; parameters are left for Fit to initialize.
func newEmitter(family, covariance string, states, mix, symbols int, X [][]float64) hmm.Emitter {
	switch family {
	case "gaussian":
		return hmm.NewGaussianEmitter(states, len(X[0]), covarianceType(covariance))
	case "gmm":
		return hmm.NewGMMEmitter(states, mix, len(X[0]))
	case "categorical":
		if symbols == 0 {
			for _, x := range X {
				if s := int(x[0]); s >= symbols {
					symbols = s + 1
				}
			}
		}
		return hmm.NewCategoricalEmitter(states, symbols)
	default:
		fmt.Fprintf(os.Stderr, "hmmtrain: unknown family %q\n", family)
		os.Exit(2)
		return nil
	}
}

func covarianceType(s string) hmm.CovarianceType {
	switch s {
	case "spherical":
		return hmm.Spherical
	case "diag":
		return hmm.Diag
	case "full":
		return hmm.Full
	case "tied":
		return hmm.Tied
	default:
		fmt.Fprintf(os.Stderr, "hmmtrain: unknown covariance %q\n", s)
		os.Exit(2)
		return hmm.Diag
	}
}

// loadObservations reads a CSV of float rows. Blank lines split the file
// into independent training sequences.
func loadObservations(path string) ([][]float64, []int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var (
		X       [][]float64
		lengths []int
		current int
	)
	flush := func() {
		if current > 0 {
			lengths = append(lengths, current)
			current = 0
		}
	}

	for n, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		rec, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		row := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d field %d: %w", n+1, i+1, err)
			}
			row[i] = v
		}
		X = append(X, row)
		current++
	}
	flush()

	if len(X) == 0 {
		return nil, nil, fmt.Errorf("no observations in %s", path)
	}
	return X, lengths, nil
}

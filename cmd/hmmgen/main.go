package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/tombao2007/hmmlearn/hmm"
)

func main() {
	modelPath := flag.String("model", "model.gob", "trained model path")
	output := flag.String("output", "", "output CSV path (default stdout)")
	n := flag.Int("n", 100, "observations per sequence")
	sequences := flag.Int("sequences", 1, "number of sequences; blank lines separate them")
	seed := flag.Int64("seed", 0, "sampling seed")
	withStates := flag.Bool("states", false, "append the hidden state as the last column")
	flag.Parse()

	f, err := os.Open(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open model: %v\n", err)
		os.Exit(1)
	}
	m, err := hmm.Load(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load model: %v\n", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *output != "" {
		out, err = os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create output: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	rng := rand.New(rand.NewSource(*seed))
	for s := 0; s < *sequences; s++ {
		if s > 0 {
			fmt.Fprintln(w)
		}
		X, states, err := m.Sample(*n, rng)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sample: %v\n", err)
			os.Exit(1)
		}
		for t, x := range X {
			for d, v := range x {
				if d > 0 {
					w.WriteByte(',')
				}
				w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
			if *withStates {
				fmt.Fprintf(w, ",%d", states[t])
			}
			fmt.Fprintln(w)
		}
	}
}

// Command walbench measures raw file-IO throughput against a single wal
// segment file: sequential scan speed (the shape of a replay or validate
// pass), random-access speed, and a mixed workload running a sequential
// scan concurrently with random reads, over a shared or a separate file
// handle.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	mode     = flag.String("mode", "seq", "seq | rand | mix-shared | mix-split")
	filePath = flag.String("file", "", "path to a wal segment file (required)")
	duration = flag.Duration("dur", 15*time.Second, "run time")
	seqBS    = flag.Int64("seqbs", 1<<20, "sequential block size (bytes)")
	randBS   = flag.Int64("randbs", 4<<10, "random block size (bytes)")
	randRate = flag.Int("randrate", 0, "limit random reads per second (0 = unlimited)")
	randSeed = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
)

func main() {
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: walbench -file <segment.wal> [-mode seq|rand|mix-shared|mix-split]")
		os.Exit(1)
	}

	info, err := os.Stat(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stat: %v\n", err)
		os.Exit(1)
	}
	fileSize := info.Size()
	if fileSize == 0 {
		fmt.Fprintln(os.Stderr, "segment file is empty, nothing to read")
		os.Exit(1)
	}

	switch *mode {
	case "seq":
		runSeq(fileSize)
	case "rand":
		runRand(fileSize)
	case "mix-shared":
		runMixed(fileSize, false)
	case "mix-split":
		runMixed(fileSize, true)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}
}

func openRO(path string) *os.File {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	return f
}

func mib(b int64, d time.Duration) float64 {
	return float64(b) / (1024 * 1024) / d.Seconds()
}

func runSeq(fileSize int64) {
	f := openRO(*filePath)
	defer f.Close() //nolint:errcheck

	buf := make([]byte, min64(*seqBS, fileSize))
	deadline := time.Now().Add(*duration)
	var reads, total int64

	for time.Now().Before(deadline) {
		for off := int64(0); off < fileSize && time.Now().Before(deadline); off += int64(len(buf)) {
			n, err := f.ReadAt(buf, off)
			if err != nil && !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "seq read: %v\n", err)
				os.Exit(1)
			}
			reads++
			total += int64(n)
		}
	}

	fmt.Printf("Sequential: %.2f MiB/s (%d reads)\n", mib(total, *duration), reads)
}

func runRand(fileSize int64) {
	f := openRO(*filePath)
	defer f.Close() //nolint:errcheck

	buf := make([]byte, min64(*randBS, fileSize))
	r := rand.New(rand.NewSource(*randSeed))
	deadline := time.Now().Add(*duration)
	var reads int64

	var ticker *time.Ticker
	if *randRate > 0 {
		ticker = time.NewTicker(time.Second / time.Duration(*randRate))
		defer ticker.Stop()
	}

	maxOff := fileSize - int64(len(buf))
	for time.Now().Before(deadline) {
		if ticker != nil {
			<-ticker.C
		}
		off := int64(0)
		if maxOff > 0 {
			off = r.Int63n(maxOff)
		}
		if _, err := f.ReadAt(buf, off); err != nil {
			fmt.Fprintf(os.Stderr, "rand read: %v\n", err)
			os.Exit(1)
		}
		reads++
	}

	total := reads * int64(len(buf))
	fmt.Printf("Random: %.2f MiB/s (%d reads)\n", mib(total, *duration), reads)
}

func runMixed(fileSize int64, splitFD bool) {
	seqF := openRO(*filePath)
	defer seqF.Close() //nolint:errcheck
	rndF := seqF
	if splitFD {
		rndF = openRO(*filePath)
		defer rndF.Close() //nolint:errcheck
	}

	seqBuf := min64(*seqBS, fileSize)
	randBuf := min64(*randBS, fileSize)
	maxOff := fileSize - randBuf

	var seqBytes, rndBytes int64
	deadline := time.Now().Add(*duration)
	r := rand.New(rand.NewSource(*randSeed))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, seqBuf)
		for time.Now().Before(deadline) {
			for off := int64(0); off < fileSize && time.Now().Before(deadline); off += int64(len(buf)) {
				n, err := seqF.ReadAt(buf, off)
				if err != nil && !errors.Is(err, io.EOF) {
					fmt.Fprintf(os.Stderr, "seq read: %v\n", err)
					os.Exit(1)
				}
				atomic.AddInt64(&seqBytes, int64(n))
			}
		}
	}()

	var ticker *time.Ticker
	if *randRate > 0 {
		ticker = time.NewTicker(time.Second / time.Duration(*randRate))
		defer ticker.Stop()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, randBuf)
		for time.Now().Before(deadline) {
			if ticker != nil {
				<-ticker.C
			}
			off := int64(0)
			if maxOff > 0 {
				off = r.Int63n(maxOff)
			}
			if _, err := rndF.ReadAt(buf, off); err != nil {
				fmt.Fprintf(os.Stderr, "rand read: %v\n", err)
				os.Exit(1)
			}
			atomic.AddInt64(&rndBytes, int64(len(buf)))
		}
	}()

	wg.Wait()

	fmt.Printf("%s: Seq %.2f MiB/s  Rand %.2f MiB/s\n",
		map[bool]string{false: "Mixed-shared", true: "Mixed-split"}[splitFD],
		mib(seqBytes, *duration),
		mib(rndBytes, *duration),
	)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

package main

// Example command that reads a packed archive back with ArchiveDataset and
// walks one epoch of each split, printing the batch shapes.
//
// Usage:
//
//	go run ./datasets/example -archive /data/render.npz -batch 32

import (
	"flag"
	"fmt"
	"io"

	"github.com/Noofbiz/posepack/archive"
	"github.com/Noofbiz/posepack/datasets"
	"k8s.io/klog/v2"
)

var (
	flagArchive = flag.String("archive", "data.npz", "Packed .npz archive.")
	flagBatch   = flag.Int("batch", 32, "Batch size.")
	flagSeed    = flag.Int64("seed", 1, "Shuffle seed of the train split.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	for _, split := range []string{archive.Train, archive.Test} {
		ds, err := datasets.NewArchiveDataset(*flagArchive, split, *flagBatch)
		if err != nil {
			klog.Fatalf("Failed to load split %q: %+v", split, err)
		}
		if split == archive.Train {
			ds.Shuffle(*flagSeed)
		}
		fmt.Printf("%s: %d samples, keys %v\n", ds.Name(), ds.Len(), ds.Keys())

		batches := 0
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				klog.Fatalf("Failed to read batch %d of %q: %+v", batches, split, err)
			}
			if batches == 0 {
				for i, t := range append(inputs, labels...) {
					fmt.Printf("  %-8s %s\n", ds.Keys()[i], t.Shape())
				}
			}
			for _, t := range append(inputs, labels...) {
				t.FinalizeAll()
			}
			batches++
		}
		fmt.Printf("  %d batches of up to %d\n", batches, ds.BatchSize)
		ds.Close()
	}
}

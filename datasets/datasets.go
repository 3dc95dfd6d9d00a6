// Package datasets reads sample manifests (or capture directories), packs
// them into train/test archives and reads packed archives back for training.
//
// Packing:
//
//	LoadManifest / ScanCaptureDir -> Split -> Packer.PrepareSplit -> archive
//
// Packer.Process runs the whole sequence. Each sample is cropped and resized
// per modality, optionally bootstrapped with geometric variants, and
// aggregated into volumes with bounded memory (see package volume).
//
// Reading back:
//
// ArchiveDataset serves one split of a packed archive as batches. It
// implements gomlx's train.Dataset interface (Name, Reset and Yield), so it can
// be handed directly to a training loop.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Dataset is what training code needs from a packed split.
type Dataset interface {
	Len() int
	Batch(indices []int) (inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface
	Name() string
	Reset()
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
}

var _ Dataset = (*ArchiveDataset)(nil)

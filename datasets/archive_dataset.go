package datasets

import (
	"io"
	"math/rand"
	"reflect"
	"time"

	"github.com/Noofbiz/posepack/archive"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	inputKeys = []string{KeyRGB, KeyNormals, KeyDepth, KeyMask}
	labelKeys = []string{KeyPose, KeyROI}
)

// ArchiveDataset serves one split of a packed archive as batches.
//
// Inputs are the image volumes present in the archive (X, X_norm, X_depth,
// X_mask, in that order) and labels are Y_pose and Y_roi. The split is loaded
// in memory once; Yield gathers the rows of each batch.
type ArchiveDataset struct {
	// BatchSize for Yield. The last batch of an epoch may be smaller.
	BatchSize int

	path, split string
	inputs      []*tensors.Tensor
	labels      []*tensors.Tensor
	keys        []string

	n     int
	order []int
	next  int
	rand  *rand.Rand
}

// NewArchiveDataset reads split (archive.Train or archive.Test) of the archive
// at path.
func NewArchiveDataset(path, split string, batchSize int) (*ArchiveDataset, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	volumes, err := archive.Read(path)
	if err != nil {
		return nil, err
	}
	d := &ArchiveDataset{
		BatchSize: batchSize,
		path:      path,
		split:     split,
		n:         -1,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	take := func(key string) (*tensors.Tensor, error) {
		t, ok := volumes[archive.SplitKey(key, split)]
		if !ok {
			return nil, nil
		}
		delete(volumes, archive.SplitKey(key, split))
		dims := t.Shape().Dimensions
		if len(dims) == 0 {
			return nil, errors.Errorf("%q in %q is a scalar", archive.SplitKey(key, split), path)
		}
		if d.n >= 0 && dims[0] != d.n {
			return nil, errors.Errorf("%q in %q has %d samples, want %d", archive.SplitKey(key, split), path, dims[0], d.n)
		}
		d.n = dims[0]
		d.keys = append(d.keys, key)
		return t, nil
	}
	for _, key := range inputKeys {
		t, err := take(key)
		if err != nil {
			return nil, err
		}
		if t != nil {
			d.inputs = append(d.inputs, t)
		}
	}
	for _, key := range labelKeys {
		t, err := take(key)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, errors.Errorf("archive %q has no %q", path, archive.SplitKey(key, split))
		}
		d.labels = append(d.labels, t)
	}
	if len(d.inputs) == 0 {
		return nil, errors.Errorf("archive %q has no %q", path, archive.SplitKey(KeyRGB, split))
	}
	// The other split is not needed.
	for _, t := range volumes {
		t.FinalizeAll()
	}

	d.order = make([]int, d.n)
	for i := range d.order {
		d.order[i] = i
	}
	klog.V(1).Infof("Loaded %d %q samples with keys %v from %q", d.n, split, d.keys, path)
	return d, nil
}

// Len returns the number of samples of the split.
func (d *ArchiveDataset) Len() int { return d.n }

// Keys returns the per-sample keys of the inputs followed by the labels.
func (d *ArchiveDataset) Keys() []string { return d.keys }

// Batch gathers the samples at indices. The indices are positions in the
// split, not affected by Shuffle.
func (d *ArchiveDataset) Batch(indices []int) (inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	for _, idx := range indices {
		if idx < 0 || idx >= d.n {
			return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, d.n)
		}
	}
	gather := func(volumes []*tensors.Tensor) []*tensors.Tensor {
		out := make([]*tensors.Tensor, len(volumes))
		for i, v := range volumes {
			out[i] = gatherRows(v, indices)
		}
		return out
	}
	return gather(d.inputs), gather(d.labels), nil
}

// gatherRows copies the given rows of a volume into a new tensor.
func gatherRows(volume *tensors.Tensor, rows []int) *tensors.Tensor {
	shape := volume.Shape()
	dims := append([]int{len(rows)}, shape.Dimensions[1:]...)
	out := tensors.FromShape(shapes.Make(shape.DType, dims...))
	if len(rows) == 0 {
		return out
	}
	perSample := shape.Size() / shape.Dimensions[0]
	volume.ConstFlatData(func(src any) {
		srcV := reflect.ValueOf(src)
		out.MutableFlatData(func(dst any) {
			dstV := reflect.ValueOf(dst)
			for i, row := range rows {
				reflect.Copy(dstV.Slice(i*perSample, (i+1)*perSample), srcV.Slice(row*perSample, (row+1)*perSample))
			}
		})
	})
	return out
}

// Shuffle reseeds the dataset and shuffles the order in which Yield serves
// samples. It also restarts the epoch.
func (d *ArchiveDataset) Shuffle(seed int64) {
	d.rand = rand.New(rand.NewSource(seed))
	d.rand.Shuffle(len(d.order), func(i, j int) { d.order[i], d.order[j] = d.order[j], d.order[i] })
	d.next = 0
}

// Name returns the name of the dataset.
func (d *ArchiveDataset) Name() string {
	return "posepack:" + d.split
}

// Reset restarts the epoch.
func (d *ArchiveDataset) Reset() {
	d.next = 0
}

// Yield returns the next batch, or io.EOF at the end of the epoch.
func (d *ArchiveDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.next >= d.n {
		return nil, nil, nil, io.EOF
	}
	end := min(d.next+d.BatchSize, d.n)
	indices := d.order[d.next:end]
	d.next = end
	inputs, labels, err = d.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, inputs, labels, nil
}

// Close releases the loaded volumes.
func (d *ArchiveDataset) Close() {
	for _, t := range append(d.inputs, d.labels...) {
		t.FinalizeAll()
	}
	d.inputs, d.labels, d.n = nil, nil, 0
}

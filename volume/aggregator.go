// Package volume stacks per-sample tensors into volumes (tensors whose leading
// axis indexes samples) with bounded memory.
//
// Samples are buffered in memory and, every threshold samples, spooled to a
// chunk file in a directory private to the aggregation pass. Finalize
// reassembles the chunks in order, so the result is identical for any
// threshold.
package volume

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultThreshold is the number of samples buffered before a chunk is spooled.
const DefaultThreshold = 1000

var (
	// ErrShapeMismatch is returned by Append when a sample does not have the keys,
	// dtypes or shapes of the previous ones.
	ErrShapeMismatch = errors.New("sample does not match the volume layout")

	// ErrClosed is returned when using an aggregator after Finalize or Close.
	ErrClosed = errors.New("aggregator is closed")
)

// Field describes one per-sample tensor: its key, dtype and dimensions without
// the sample axis.
type Field struct {
	Key   string
	DType dtypes.DType
	Dims  []int
}

// Shape of a volume of n samples of the field.
func (f Field) Shape(n int) shapes.Shape {
	return shapes.Make(f.DType, append([]int{n}, f.Dims...)...)
}

func (f Field) String() string {
	return fmt.Sprintf("%s:%s%v", f.Key, f.DType, f.Dims)
}

// Aggregator accumulates samples into volumes. It is not safe for concurrent use.
//
// Always defer Close: it removes the chunk files if the pass does not reach
// Finalize.
type Aggregator struct {
	spoolDir  string
	passDir   string
	threshold int

	fields  []Field // Sorted by key.
	buffers map[string]reflect.Value
	pending int
	count   int
	chunks  int
	closed  bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTemplate fixes the layout up front, instead of taking it from the first
// sample. Finalize then returns volumes with zero samples for an empty pass.
func WithTemplate(fields ...Field) Option {
	return func(a *Aggregator) {
		a.setFields(slices.Clone(fields))
	}
}

// NewAggregator returns an aggregator spooling chunks of threshold samples
// under spoolDir (os.TempDir() if empty).
func NewAggregator(spoolDir string, threshold int, opts ...Option) (*Aggregator, error) {
	if threshold < 1 {
		return nil, errors.Errorf("chunk threshold must be at least 1, got %d", threshold)
	}
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	a := &Aggregator{
		spoolDir:  spoolDir,
		threshold: threshold,
		buffers:   make(map[string]reflect.Value),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Aggregator) setFields(fields []Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	a.fields = fields
	for _, f := range fields {
		a.buffers[f.Key] = reflect.MakeSlice(reflect.SliceOf(f.DType.GoType()), 0, 0)
	}
}

// Count returns the number of samples appended so far.
func (a *Aggregator) Count() int { return a.count }

// Chunks returns the number of chunk files written so far.
func (a *Aggregator) Chunks() int { return a.chunks }

// Fields returns the layout of the volumes, sorted by key.
func (a *Aggregator) Fields() []Field { return slices.Clone(a.fields) }

// Append adds one sample. Every sample must carry the same keys, with the same
// dtypes and shapes.
func (a *Aggregator) Append(sample map[string]*tensors.Tensor) error {
	if a.closed {
		return ErrClosed
	}
	if a.fields == nil {
		fields := make([]Field, 0, len(sample))
		for key, t := range sample {
			fields = append(fields, Field{Key: key, DType: t.DType(), Dims: slices.Clone(t.Shape().Dimensions)})
		}
		a.setFields(fields)
	}
	if err := a.check(sample); err != nil {
		return errors.WithMessagef(err, "sample #%d", a.count)
	}
	for _, f := range a.fields {
		buf := a.buffers[f.Key]
		sample[f.Key].ConstFlatData(func(flat any) {
			buf = reflect.AppendSlice(buf, reflect.ValueOf(flat))
		})
		a.buffers[f.Key] = buf
	}
	a.pending++
	a.count++
	if a.pending >= a.threshold {
		return a.flush()
	}
	return nil
}

func (a *Aggregator) check(sample map[string]*tensors.Tensor) error {
	if len(sample) != len(a.fields) {
		keys := make([]string, 0, len(sample))
		for key := range sample {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return errors.Wrapf(ErrShapeMismatch, "got keys %v, want %v", keys, a.fields)
	}
	for _, f := range a.fields {
		t, found := sample[f.Key]
		if !found || t == nil {
			return errors.Wrapf(ErrShapeMismatch, "missing key %q", f.Key)
		}
		if t.DType() != f.DType || !slices.Equal(t.Shape().Dimensions, f.Dims) {
			return errors.Wrapf(ErrShapeMismatch, "key %q has shape %s, want %s", f.Key, t.Shape(), shapes.Make(f.DType, f.Dims...))
		}
	}
	return nil
}

// pendingTensors builds the tensors of the buffered samples.
func (a *Aggregator) pendingTensors() []*tensors.Tensor {
	out := make([]*tensors.Tensor, len(a.fields))
	for i, f := range a.fields {
		t := tensors.FromShape(f.Shape(a.pending))
		buf := a.buffers[f.Key]
		t.MutableFlatData(func(flat any) {
			reflect.Copy(reflect.ValueOf(flat), buf)
		})
		out[i] = t
	}
	return out
}

func (a *Aggregator) resetBuffers() {
	for key, buf := range a.buffers {
		a.buffers[key] = buf.Slice(0, 0)
	}
	a.pending = 0
}

// Finalize returns the volumes of all appended samples, keyed like the
// samples. Chunk files are read in the order they were written and removed.
//
// The aggregator cannot be used after Finalize.
func (a *Aggregator) Finalize() (map[string]*tensors.Tensor, error) {
	if a.closed {
		return nil, ErrClosed
	}
	defer func() { _ = a.Close() }()

	result := make(map[string]*tensors.Tensor, len(a.fields))
	if a.chunks == 0 {
		// Everything still fits in memory: no need to go through the disk.
		pending := a.pendingTensors()
		for i, f := range a.fields {
			result[f.Key] = pending[i]
		}
		a.logVolumes(result)
		return result, nil
	}

	if a.pending > 0 {
		if err := a.flush(); err != nil {
			return nil, err
		}
	}
	for _, f := range a.fields {
		result[f.Key] = tensors.FromShape(f.Shape(a.count))
	}
	offset := 0
	for index := 0; index < a.chunks; index++ {
		n, err := a.readChunk(index, offset, result)
		if err != nil {
			return nil, err
		}
		offset += n
	}
	if offset != a.count {
		return nil, errors.Errorf("chunks hold %d samples, %d were appended", offset, a.count)
	}
	a.logVolumes(result)
	return result, nil
}

func (a *Aggregator) logVolumes(result map[string]*tensors.Tensor) {
	for _, f := range a.fields {
		t := result[f.Key]
		klog.V(1).Infof("Volume %q: %s (%s)", f.Key, t.Shape(), humanBytes(t.Shape().Memory()))
	}
}

// Close removes the spool directory of the pass, if any. It is safe to call
// more than once.
func (a *Aggregator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.buffers = nil
	if a.passDir == "" {
		return nil
	}
	dir := a.passDir
	a.passDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to remove spool directory %q", dir)
	}
	klog.V(1).Infof("Removed spool directory %q", dir)
	return nil
}

package volume

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Chunk file layout: the gob encoded list of keys, followed by one gob
// serialized tensor per key, in the same order.

func chunkName(index int) string {
	return fmt.Sprintf("chunk-%06d.gob", index)
}

func humanBytes[T ~int | ~int64 | ~uint64 | ~uintptr](n T) string {
	return humanize.Bytes(uint64(n))
}

// PassDir returns the spool directory of the pass, empty until the first chunk
// is written.
func (a *Aggregator) PassDir() string { return a.passDir }

func (a *Aggregator) ensurePassDir() error {
	if a.passDir != "" {
		return nil
	}
	dir := filepath.Join(a.spoolDir, "posepack-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create spool directory %q", dir)
	}
	a.passDir = dir
	return nil
}

// flush writes the buffered samples as the next chunk.
func (a *Aggregator) flush() error {
	if a.pending == 0 {
		return nil
	}
	if err := a.ensurePassDir(); err != nil {
		return err
	}
	pending := a.pendingTensors()
	path := filepath.Join(a.passDir, chunkName(a.chunks))
	if err := writeChunk(path, a.fields, pending); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		klog.V(1).Infof("Spooled %d samples to %s (%s)", a.pending, filepath.Base(path), humanBytes(info.Size()))
	}
	a.chunks++
	a.resetBuffers()
	return nil
}

func writeChunk(path string, fields []Field, volumes []*tensors.Tensor) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create chunk %q", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close chunk %q", path)
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	keys := make([]string, len(fields))
	for i, field := range fields {
		keys[i] = field.Key
	}
	if err = enc.Encode(keys); err != nil {
		return errors.Wrapf(err, "failed to write keys of chunk %q", path)
	}
	for i, t := range volumes {
		if err = t.GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "failed to write %q to chunk %q", keys[i], path)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write chunk %q", path)
	}
	return nil
}

// readChunk copies chunk index into the result volumes starting at sample
// offset, and returns the number of samples it held.
func (a *Aggregator) readChunk(index, offset int, result map[string]*tensors.Tensor) (n int, err error) {
	path := filepath.Join(a.passDir, chunkName(index))
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open chunk %q", path)
	}
	defer func() { _ = f.Close() }()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var keys []string
	if err := dec.Decode(&keys); err != nil {
		return 0, errors.Wrapf(err, "failed to read keys of chunk %q", path)
	}
	if len(keys) != len(a.fields) {
		return 0, errors.Errorf("chunk %q has keys %v, want %v", path, keys, a.fields)
	}
	n = -1
	for i, key := range keys {
		if key != a.fields[i].Key {
			return 0, errors.Errorf("chunk %q has keys %v, want %v", path, keys, a.fields)
		}
		part, err := tensors.GobDeserialize(dec)
		if err != nil {
			return 0, errors.WithMessagef(err, "failed to read %q from chunk %q", key, path)
		}
		samples := part.Shape().Dimensions[0]
		if n >= 0 && samples != n {
			return 0, errors.Errorf("chunk %q: %q has %d samples, previous keys have %d", path, key, samples, n)
		}
		n = samples
		if offset+n > a.count {
			return 0, errors.Errorf("chunk %q overflows the %d appended samples", path, a.count)
		}
		if err := copyInto(result[key], part, offset); err != nil {
			return 0, errors.WithMessagef(err, "chunk %q, key %q", path, key)
		}
	}
	klog.V(1).Infof("Merged %s: samples [%d, %d)", filepath.Base(path), offset, offset+n)
	return max(n, 0), nil
}

// copyInto copies all of part into dst, starting at sample offset of dst.
func copyInto(dst, part *tensors.Tensor, offset int) error {
	if part.DType() != dst.DType() {
		return errors.Wrapf(ErrShapeMismatch, "chunk dtype %s, volume dtype %s", part.DType(), dst.DType())
	}
	partSize := part.Size()
	var src reflect.Value
	part.ConstFlatData(func(flat any) { src = reflect.ValueOf(flat) })
	if src.Len() != partSize {
		return errors.Errorf("chunk data has %d values, shape %s needs %d", src.Len(), part.Shape(), partSize)
	}
	perSample := 1
	for _, d := range dst.Shape().Dimensions[1:] {
		perSample *= d
	}
	start := offset * perSample
	dst.MutableFlatData(func(flat any) {
		reflect.Copy(reflect.ValueOf(flat).Slice(start, start+partSize), src)
	})
	return nil
}

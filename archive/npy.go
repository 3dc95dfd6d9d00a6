package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// The numpy package streams the raw data of non-empty tensors. Arrays with a
// zero sized axis (an empty split) have no data to stream, so their header is
// handled here.

const npyMagic = "\x93NUMPY"

var (
	reDescr = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reShape = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

var npyDescr = map[dtypes.DType]string{
	dtypes.Bool:    "|b1",
	dtypes.Int8:    "|i1",
	dtypes.Uint8:   "|u1",
	dtypes.Int16:   "<i2",
	dtypes.Uint16:  "<u2",
	dtypes.Int32:   "<i4",
	dtypes.Uint32:  "<u4",
	dtypes.Int64:   "<i8",
	dtypes.Uint64:  "<u8",
	dtypes.Float16: "<f2",
	dtypes.Float32: "<f4",
	dtypes.Float64: "<f8",
}

func dtypeFromDescr(descr string) (dtypes.DType, error) {
	trimmed := strings.TrimLeft(descr, "<>=|")
	for dtype, d := range npyDescr {
		if d[1:] == trimmed {
			return dtype, nil
		}
	}
	if trimmed == "?" {
		return dtypes.Bool, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported NumPy dtype %q", descr)
}

// writeNpy writes t in .npy format.
func writeNpy(t *tensors.Tensor, w io.Writer) error {
	if t.Size() > 0 {
		return numpy.ToNpyWriter(t, w)
	}
	descr, found := npyDescr[t.DType()]
	if !found {
		return errors.Errorf("unsupported dtype %s for .npy", t.DType())
	}
	dims := make([]string, len(t.Shape().Dimensions))
	for i, d := range t.Shape().Dimensions {
		dims[i] = strconv.Itoa(d)
	}
	shape := "(" + strings.Join(dims, ", ") + ")"
	if len(dims) == 1 {
		shape = "(" + dims[0] + ",)"
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shape)
	// Magic, version and length take 10 bytes; the total is padded to 16 with
	// spaces and a final newline.
	pad := 16 - (10+len(header)+1)%16
	if pad == 16 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	buf := make([]byte, 0, 10+len(header))
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	_, err := w.Write(buf)
	return errors.Wrap(err, "failed to write .npy header")
}

// readNpy reads a .npy stream.
func readNpy(r io.Reader) (*tensors.Tensor, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	prefix, err := br.Peek(10)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read .npy preamble")
	}
	if string(prefix[:6]) != npyMagic {
		return nil, errors.New("invalid .npy file: magic string mismatch")
	}
	var headerLen, headerStart int
	switch prefix[6] {
	case 1:
		headerLen, headerStart = int(binary.LittleEndian.Uint16(prefix[8:10])), 10
	default:
		more, err := br.Peek(12)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read .npy preamble")
		}
		headerLen, headerStart = int(binary.LittleEndian.Uint32(more[8:12])), 12
	}
	raw, err := br.Peek(headerStart + headerLen)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read .npy header of %d bytes", headerLen)
	}
	header := string(raw[headerStart:])

	dims, err := parseShape(header)
	if err != nil {
		return nil, err
	}
	empty := false
	for _, d := range dims {
		if d == 0 {
			empty = true
		}
	}
	if !empty {
		return numpy.FromNpyReader(br)
	}

	m := reDescr.FindStringSubmatch(header)
	if m == nil {
		return nil, errors.Errorf("could not find 'descr' in .npy header %q", header)
	}
	dtype, err := dtypeFromDescr(m[1])
	if err != nil {
		return nil, err
	}
	return tensors.FromShape(shapes.Make(dtype, dims...)), nil
}

func parseShape(header string) ([]int, error) {
	m := reShape.FindStringSubmatch(header)
	if m == nil {
		return nil, errors.Errorf("could not find 'shape' in .npy header %q", header)
	}
	var dims []int
	for _, p := range strings.Split(m[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid dimension %q in .npy header", p)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

package datasets

import (
	"context"
	"image"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/Noofbiz/posepack/archive"
	"github.com/Noofbiz/posepack/config"
	"github.com/Noofbiz/posepack/transform"
	"github.com/Noofbiz/posepack/volume"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/image/draw"
	"k8s.io/klog/v2"
)

// Per-sample keys of the volumes. The archive keys add the split infix, see
// archive.SplitKey.
const (
	KeyRGB     = "X"
	KeyNormals = "X_norm"
	KeyDepth   = "X_depth"
	KeyMask    = "X_mask"
	KeyPose    = "Y_pose"
	KeyROI     = "Y_roi"
)

// orthonormalTolerance for the rotation block of capture pose matrices.
const orthonormalTolerance = 1e-3

// Packer turns a manifest (or a capture directory) into a train/test archive.
type Packer struct {
	cfg      *config.Config
	variants []transform.Variant
	rng      *rand.Rand
	normals  transform.NormalEstimator
	progress bool
}

// Option configures a Packer.
type Option func(*Packer)

// WithRand sets the random source of the train/test split.
func WithRand(rng *rand.Rand) Option {
	return func(p *Packer) { p.rng = rng }
}

// WithNormalEstimator sets how normal maps are derived for capture samples.
// It defaults to transform.SobelNormals.
func WithNormalEstimator(e transform.NormalEstimator) Option {
	return func(p *Packer) { p.normals = e }
}

// WithProgress enables a progress bar on the terminal.
func WithProgress(enabled bool) Option {
	return func(p *Packer) { p.progress = enabled }
}

// NewPacker validates cfg and returns a Packer for it.
func NewPacker(cfg *config.Config, opts ...Option) (*Packer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	variants, err := cfg.BootstrapVariants()
	if err != nil {
		return nil, err
	}
	p := &Packer{
		cfg:      cfg,
		variants: variants,
		normals:  transform.SobelNormals{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		p.rng = rand.New(rand.NewSource(seed))
	}
	return p, nil
}

// Keys returns the per-sample keys packed for the configured variant.
func (p *Packer) Keys() []string {
	if p.cfg.Variant == config.VariantRGB {
		return []string{KeyRGB, KeyPose, KeyROI}
	}
	return []string{KeyRGB, KeyNormals, KeyDepth, KeyMask, KeyPose, KeyROI}
}

// Fields returns the layout of one packed sample.
func (p *Packer) Fields() []volume.Field {
	h, w := p.cfg.ImageHeight, p.cfg.ImageWidth
	all := map[string]volume.Field{
		KeyRGB:     {Key: KeyRGB, DType: dtypes.Uint8, Dims: []int{h, w, 3}},
		KeyNormals: {Key: KeyNormals, DType: dtypes.Uint16, Dims: []int{h, w, 3}},
		KeyDepth:   {Key: KeyDepth, DType: dtypes.Uint16, Dims: []int{h, w, 1}},
		KeyMask:    {Key: KeyMask, DType: dtypes.Uint8, Dims: []int{h, w, 1}},
		KeyPose:    {Key: KeyPose, DType: dtypes.Float64, Dims: []int{7}},
		KeyROI:     {Key: KeyROI, DType: dtypes.Float64, Dims: []int{4}},
	}
	keys := p.Keys()
	fields := make([]volume.Field, len(keys))
	for i, key := range keys {
		fields[i] = all[key]
	}
	return fields
}

// SplitSummary describes the packed samples of one split.
type SplitSummary struct {
	// Samples is the number of manifest samples, Entries the number of packed
	// entries (Samples times the number of bootstrap variants).
	Samples, Entries int

	// ROIs and Poses of the packed entries, in destination pixels.
	ROIs  [][]float64
	Poses [][]float64
}

// Result of a packing run.
type Result struct {
	TrainCount, TestCount int
	Mismatches            int
	Train, Test           SplitSummary
}

// Load returns the samples of the manifest, or of the capture directory for
// config.VariantCapture.
func (p *Packer) Load(manifestPath string) ([]SampleRecord, error) {
	if p.cfg.Variant == config.VariantCapture {
		records, err := ScanCaptureDir(manifestPath, p.cfg.ImageExt)
		if err != nil && !p.cfg.Lenient {
			return nil, err
		}
		if err != nil {
			klog.Errorf("Failed to scan captures, continuing with no samples: %v", err)
		}
		return records, nil
	}
	return LoadManifest(manifestPath, p.cfg.Variant, !p.cfg.Lenient)
}

// Process packs the samples of manifestPath into the archive at archivePath.
//
// The train split is written first, replacing any existing archive, then the
// test split is merged into it and the result is checked. Cancelling ctx stops
// between samples; spooled chunks are removed in every case.
func (p *Packer) Process(ctx context.Context, manifestPath, archivePath string) (*Result, error) {
	records, err := p.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	train, test := Split(records, p.cfg.Ratio, p.rng)
	res := &Result{
		TrainCount: len(train) * len(p.variants),
		TestCount:  len(test) * len(p.variants),
	}

	klog.Infof("Preparing training data")
	volumes, err := p.PrepareSplit(ctx, train)
	if err != nil {
		return nil, errors.WithMessage(err, "training split")
	}
	res.Train = summarize(len(train), volumes)
	if err := archive.Write(archivePath, archive.SplitKeys(volumes, archive.Train)); err != nil {
		return nil, err
	}
	releaseVolumes(volumes)

	klog.Infof("Preparing test data")
	volumes, err = p.PrepareSplit(ctx, test)
	if err != nil {
		return nil, errors.WithMessage(err, "test split")
	}
	res.Test = summarize(len(test), volumes)
	if err := archive.WriteOrMerge(archivePath, archive.SplitKeys(volumes, archive.Test)); err != nil {
		return nil, err
	}
	releaseVolumes(volumes)

	res.Mismatches = archive.CheckFile(archivePath, res.TrainCount, res.TestCount, p.Keys())
	return res, nil
}

// PrepareSplit packs records into volumes, one entry per record and bootstrap
// variant, in record order.
func (p *Packer) PrepareSplit(ctx context.Context, records []SampleRecord) (map[string]*tensors.Tensor, error) {
	agg, err := volume.NewAggregator(p.cfg.SpoolDir, p.cfg.ChunkSize, volume.WithTemplate(p.Fields()...))
	if err != nil {
		return nil, err
	}
	defer func() { _ = agg.Close() }()

	total := len(records) * len(p.variants)
	var bar *progressbar.ProgressBar
	if p.progress && total > 0 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Packing"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("samples"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		defer func() { _ = bar.Finish() }()
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := p.prepareSample(rec)
		if err != nil {
			return nil, errors.WithMessagef(err, "sample %d", rec.Index)
		}
		for _, entry := range entries {
			if err := agg.Append(entry); err != nil {
				return nil, errors.WithMessagef(err, "sample %d", rec.Index)
			}
		}
		if bar != nil {
			_ = bar.Add(len(entries))
		} else if (i+1)%100 == 0 {
			klog.V(1).Infof("Packed %d/%d samples", i+1, len(records))
		}
	}
	return agg.Finalize()
}

// modalities of one sample. Normals are nil for capture sources, which derive
// them from the resized rgb image.
type modalities struct {
	rgb, normals, depth, mask image.Image
}

func (p *Packer) resolve(file string) string {
	if p.cfg.Variant == config.VariantCapture {
		return file
	}
	return ResolvePath(p.cfg.WorkDir, file)
}

func (p *Packer) load(file string) (image.Image, error) {
	return transform.LoadImage(p.resolve(file))
}

func (p *Packer) detectROI(mask image.Image) transform.ROI {
	if p.cfg.ROIMode == config.ROILegacy {
		return transform.DetectROIScan(mask)
	}
	return transform.DetectROI(mask)
}

// prepareSample loads one record and returns an entry per bootstrap variant.
func (p *Packer) prepareSample(rec SampleRecord) ([]map[string]*tensors.Tensor, error) {
	src, err := p.loadSources(rec)
	if err != nil {
		return nil, err
	}
	pose := rec.Pose
	if p.cfg.Variant == config.VariantCapture {
		if pose, err = p.capturePose(rec.MatFile); err != nil {
			return nil, err
		}
	}

	entries := make([]map[string]*tensors.Tensor, 0, len(p.variants))
	for _, v := range p.variants {
		entry, err := p.entry(rec, src, v, pose)
		if err != nil {
			return nil, errors.WithMessagef(err, "bootstrap %s", v)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// loadSources reads the source images of rec at their native resolution.
func (p *Packer) loadSources(rec SampleRecord) (src modalities, err error) {
	if src.rgb, err = p.load(rec.RGBFile); err != nil {
		return src, err
	}
	if p.cfg.Variant == config.VariantRGB {
		return src, nil
	}
	if src.depth, err = p.load(rec.DepthFile); err != nil {
		return src, err
	}
	if src.mask, err = p.load(rec.MaskFile); err != nil {
		return src, err
	}
	if p.cfg.Variant == config.VariantRGBDNM {
		if src.normals, err = p.load(rec.NormalsFile); err != nil {
			return src, err
		}
	}
	return src, nil
}

func (p *Packer) capturePose(matFile string) ([7]float64, error) {
	var pose [7]float64
	mat, err := ReadPoseMatrix(matFile)
	if err != nil {
		return pose, err
	}
	if !mat.IsOrthonormal(orthonormalTolerance) {
		klog.Warningf("Rotation of %q is not orthonormal", filepath.Base(matFile))
	}
	q, err := transform.MatrixToQuaternion(mat, p.cfg.PreciseQuaternion)
	if err != nil {
		return pose, errors.WithMessagef(err, "pose file %q", matFile)
	}
	t := mat.Translation()
	return [7]float64{t[0], t[1], t[2], q[1], q[2], q[3], q[0]}, nil
}

// entry builds the tensors of one bootstrap variant of a sample.
//
// Variants warp the source images at their native resolution, before the
// crop: their offsets are in source pixels. Warped samples have their ROI
// detected again on the mask; the pose is kept as is.
func (p *Packer) entry(rec SampleRecord, src modalities, v transform.Variant, pose [7]float64) (map[string]*tensors.Tensor, error) {
	if v != transform.Identity {
		var err error
		for _, img := range []*image.Image{&src.rgb, &src.normals, &src.depth, &src.mask} {
			if *img == nil {
				continue
			}
			if *img, err = transform.Bootstrap(*img, v); err != nil {
				return nil, err
			}
		}
	}
	b := src.rgb.Bounds()
	geom := transform.NewGeometry(b.Dx(), b.Dy(), p.cfg.ImageWidth, p.cfg.ImageHeight)
	rgb := geom.Apply(src.rgb, draw.BiLinear)
	entry := map[string]*tensors.Tensor{
		KeyRGB:  transform.RGBTensor(rgb),
		KeyPose: tensors.FromFlatDataAndDimensions(pose[:], 7),
	}
	if p.cfg.Variant == config.VariantRGB {
		entry[KeyROI] = tensors.FromFlatDataAndDimensions(geom.MapROI(rec.ROI).Slice(), 4)
		return entry, nil
	}

	depth := geom.Apply(src.depth, draw.BiLinear)
	mask := transform.ToMask(geom.Apply(src.mask, draw.NearestNeighbor))
	var normals image.Image
	if src.normals != nil {
		normals = geom.Apply(src.normals, draw.BiLinear)
	} else {
		var err error
		if normals, err = p.normals.EstimateNormals(rgb); err != nil {
			return nil, errors.WithMessagef(err, "failed to estimate normals of %q", rec.RGBFile)
		}
	}
	var roi transform.ROI
	if v == transform.Identity && p.cfg.Variant == config.VariantRGBDNM && rec.HasROI {
		roi = geom.MapROI(rec.ROI)
	} else {
		roi = p.detectROI(mask)
	}
	entry[KeyNormals] = transform.NormalTensor(normals)
	entry[KeyDepth] = transform.DepthTensor(depth)
	entry[KeyMask] = transform.MaskTensor(mask)
	entry[KeyROI] = tensors.FromFlatDataAndDimensions(roi.Slice(), 4)
	return entry, nil
}

// summarize extracts the poses and ROIs of packed volumes.
func summarize(samples int, volumes map[string]*tensors.Tensor) SplitSummary {
	s := SplitSummary{Samples: samples}
	if t, ok := volumes[KeyROI]; ok && t.Shape().Dimensions[0] > 0 {
		s.ROIs = t.Value().([][]float64)
	}
	if t, ok := volumes[KeyPose]; ok && t.Shape().Dimensions[0] > 0 {
		s.Poses = t.Value().([][]float64)
	}
	s.Entries = len(s.ROIs)
	return s
}

func releaseVolumes(volumes map[string]*tensors.Tensor) {
	for _, t := range volumes {
		t.FinalizeAll()
	}
}

// posepack packs a manifest of rendered (or captured) object samples into a
// train/test .npz archive.
//
//	posepack -i samples.csv -d /data/render -o /data/render.npz -r 128 -c 128 -x 0.1
//
// Settings come from defaults, then the optional --config YAML file, then the
// flags given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Noofbiz/posepack/config"
	"github.com/Noofbiz/posepack/datasets"
	"github.com/Noofbiz/posepack/report"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagConfig    string
	flagManifest  string
	flagArchive   string
	flagWorkDir   string
	flagHeight    int
	flagWidth     int
	flagRatio     float64
	flagVariant   string
	flagLenient   bool
	flagROIMode   string
	flagChunk     int
	flagSeed      int64
	flagBootstrap []string
	flagPlot      string
	flagProgress  bool
)

// usageError marks command line parsing errors, which exit with code 2.
type usageError struct{ error }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posepack",
		Short: "Pack pose estimation samples into a train/test .npz archive",
		Long: `posepack reads a manifest of samples (or a directory of captures), crops and
resizes every image modality, splits the samples into train and test and writes
the stacked volumes to a NumPy .npz archive.

Archive keys are X, X_norm, X_depth, X_mask, Y_pose and Y_roi with the split
infix after the first letter: Xtr, Xte_norm, Ytr_pose, ...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPack,
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{err}
	})

	defaults := config.Default()
	fs := cmd.Flags()
	fs.StringVar(&flagConfig, "config", "", "YAML file with the run settings. Flags given explicitly override it.")
	fs.StringVarP(&flagManifest, "ifile", "i", "", "Manifest CSV file. For the capture variant, the capture directory. If empty, the first CSV file in --wpath is used.")
	fs.StringVarP(&flagArchive, "ofile", "o", "", "Output .npz archive.")
	fs.StringVarP(&flagWorkDir, "wpath", "d", "", "Directory the manifest image paths are relative to.")
	fs.IntVarP(&flagHeight, "imgh", "r", defaults.ImageHeight, "Destination image rows.")
	fs.IntVarP(&flagWidth, "imgw", "c", defaults.ImageWidth, "Destination image columns.")
	fs.Float64VarP(&flagRatio, "ratio", "x", defaults.Ratio,
		fmt.Sprintf("Fraction of samples in the test split, in (%g, %g).", config.MinRatio, config.MaxRatio))
	fs.StringVar(&flagVariant, "variant", string(defaults.Variant), fmt.Sprintf("Source layout, one of %v.", config.Variants))
	fs.BoolVar(&flagLenient, "lenient", false, "Treat an unreadable manifest as empty instead of failing.")
	fs.StringVar(&flagROIMode, "roi-mode", string(defaults.ROIMode),
		fmt.Sprintf("Mask ROI detector: %q or %q.", config.ROIExact, config.ROILegacy))
	fs.IntVar(&flagChunk, "chunk", defaults.ChunkSize, "Samples buffered in memory before spooling a chunk to disk.")
	fs.Int64Var(&flagSeed, "seed", 0, "Seed of the train/test split. 0 uses the current time.")
	fs.StringSliceVar(&flagBootstrap, "bootstrap", defaults.Bootstrap,
		"Geometric variants packed for every sample: identity, rot90, rot-90, shear-a, shear-b.")
	fs.StringVar(&flagPlot, "plot", "", "If set, write a PNG plot of the packed ROIs to this path.")
	fs.BoolVar(&flagProgress, "progress", false, "Show a progress bar.")

	goFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)
	return cmd
}

// buildConfig layers the config file and the explicitly set flags over the
// defaults.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}
	fs := cmd.Flags()
	if fs.Changed("ifile") {
		cfg.Manifest = flagManifest
	}
	if fs.Changed("ofile") {
		cfg.Archive = flagArchive
	}
	if fs.Changed("wpath") {
		cfg.WorkDir = flagWorkDir
	}
	if fs.Changed("imgh") || fs.Changed("imgw") {
		height, width := cfg.ImageHeight, cfg.ImageWidth
		if fs.Changed("imgh") {
			height = flagHeight
		}
		if fs.Changed("imgw") {
			width = flagWidth
		}
		cfg.SetImageSize(height, width)
	}
	if fs.Changed("ratio") {
		// Logged by SetRatio, the previous ratio is kept.
		_ = cfg.SetRatio(flagRatio)
	}
	if fs.Changed("variant") {
		cfg.Variant = config.Variant(strings.ToLower(flagVariant))
	}
	if fs.Changed("lenient") {
		cfg.Lenient = flagLenient
	}
	if fs.Changed("roi-mode") {
		cfg.ROIMode = config.ROIMode(strings.ToLower(flagROIMode))
	}
	if fs.Changed("chunk") {
		cfg.ChunkSize = flagChunk
	}
	if fs.Changed("seed") {
		cfg.Seed = flagSeed
	}
	if fs.Changed("bootstrap") {
		cfg.Bootstrap = flagBootstrap
	}
	if fs.Changed("plot") {
		cfg.Plot = flagPlot
	}

	switch {
	case cfg.Manifest != "":
		cfg.Manifest = cfg.ManifestPath()
	case cfg.Variant == config.VariantCapture:
		cfg.Manifest = cfg.WorkDir
	default:
		manifest, err := datasets.FindManifest(cfg.WorkDir)
		if err != nil {
			return nil, errors.WithMessage(err, "no manifest given with -i")
		}
		klog.Infof("Using manifest %q", manifest)
		cfg.Manifest = manifest
	}
	if cfg.Archive == "" {
		return nil, errors.New("no output archive given with -o")
	}
	return cfg, cfg.Validate()
}

func runPack(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	packer, err := datasets.NewPacker(cfg, datasets.WithProgress(flagProgress))
	if err != nil {
		return err
	}
	klog.Infof("Packing %s samples from %q into %q (%dx%d, test ratio %g)",
		cfg.Variant, cfg.Manifest, cfg.Archive, cfg.ImageWidth, cfg.ImageHeight, cfg.Ratio)

	res, err := packer.Process(cmd.Context(), cfg.Manifest, cfg.Archive)
	if err != nil {
		return err
	}
	if res.Mismatches > 0 {
		klog.Warningf("Archive %q has %d shape mismatches", cfg.Archive, res.Mismatches)
	}
	if info, err := os.Stat(cfg.Archive); err == nil {
		klog.Infof("Packed %s train and %s test entries, archive is %s",
			humanize.Comma(int64(res.TrainCount)), humanize.Comma(int64(res.TestCount)), humanize.Bytes(uint64(info.Size())))
	}
	if cfg.Plot != "" {
		if err := report.PlotROIs(cfg.Plot, res, cfg.ImageWidth, cfg.ImageHeight); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer klog.Flush()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var usageErr usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n\n%s", err, cmd.UsageString())
		return 2
	}
	klog.Errorf("posepack failed: %+v", err)
	return 1
}

// Command voltransform applies a 4x4 affine transform to a volumetric image
// and optionally reslices it onto the grid of a template image.
//
// In most cases only the image transform is modified and the voxel data is
// copied unchanged; the -reslice option actually resamples the image data.
//
// Usage:
//
//	voltransform [options] <input-image> <output-image>
package main

import (
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"voltransform/pkg/affine"
	"voltransform/pkg/config"
	"voltransform/pkg/interp"
	"voltransform/pkg/reslice"
	"voltransform/pkg/transform"
	"voltransform/pkg/visualization"
	"voltransform/pkg/volume"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("voltransform", flag.ContinueOnError)
	transformPath := fs.String("transform", "", "4x4 ASCII transform file to apply")
	replaceFlag := fs.Bool("replace", false, "replace the image transform rather than composing with it")
	inverseFlag := fs.Bool("inverse", false, "invert the supplied transform before use")
	reslicePath := fs.String("reslice", "", "reslice the input onto the geometry of this template image")
	referencePath := fs.String("reference", "", "the supplied transform maps onto this reference image rather than to scanner space (implies -replace)")
	flipxFlag := fs.Bool("flipx", false, "assume the transform uses a mirrored-x convention (only with -reference)")
	interpName := fs.String("interp", "", "interpolation method: nearest, linear or cubic (default: linear)")
	oversampleStr := fs.String("oversample", "", "per-axis oversampling factors, e.g. 2,2,1 (default: derived from voxel sizes)")
	datatypeName := fs.String("datatype", "", "output voxel datatype (default: same as input)")
	cores := fs.Int("cores", 0, "number of CPU cores to use when reslicing (default: all available)")
	configPath := fs.String("config", "", "YAML defaults file")
	exportSlices := fs.String("export-slices", "", "directory to save output slices as images for inspection")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: voltransform [options] <input-image> <output-image>\n\noptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("expected <input-image> and <output-image> arguments, got %d", fs.NArg())
	}
	inputPath, outputPath := fs.Arg(0), fs.Arg(1)

	// File defaults fill in whatever the flags left unset.
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *interpName == "" {
		*interpName = cfg.Processing.Interp
	}
	if *cores == 0 {
		*cores = cfg.Processing.Workers
	}
	if *datatypeName == "" {
		*datatypeName = cfg.Output.DataType
	}
	if cfg.Output.Verbose {
		*verbose = true
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	// All option validation happens here, before any voxel data is read.
	opts := transform.Options{
		Replace: *replaceFlag,
		Inverse: *inverseFlag,
		FlipX:   *flipxFlag,
		Workers: *cores,
	}
	if *transformPath != "" {
		m, err := affine.Load(*transformPath)
		if err != nil {
			return err
		}
		opts.Transform = &m
	}
	method, err := interp.ParseMethod(*interpName)
	if err != nil {
		return err
	}
	opts.Interp = method
	if *oversampleStr != "" {
		if opts.Oversample, err = transform.ParseOversample(*oversampleStr); err != nil {
			return err
		}
	}
	if *datatypeName != "" {
		if opts.DataType, err = volume.ParseDataType(*datatypeName); err != nil {
			return err
		}
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if *referencePath != "" && opts.Transform == nil {
		return &transform.ValidationError{Option: "-reference", Reason: "no transform provided (specify using '-transform' option)"}
	}
	if *replaceFlag && *referencePath == "" && opts.Transform == nil {
		return &transform.ValidationError{Option: "-replace", Reason: "no transform provided (specify using '-transform' option)"}
	}
	if *flipxFlag && *referencePath == "" {
		log.Warn("-flipx has no effect without -reference")
	}

	in, err := volume.Read(inputPath)
	if err != nil {
		return err
	}
	var ref *volume.Volume
	if *referencePath != "" {
		if ref, err = volume.Read(*referencePath); err != nil {
			return err
		}
	}

	T, replace, err := transform.Compose(opts, in, ref)
	if err != nil {
		return err
	}

	dtype := in.DType
	if opts.DataType != 0 {
		dtype = opts.DataType
	}

	var out *volume.Volume
	if *reslicePath != "" {
		tmpl, err := volume.Read(*reslicePath)
		if err != nil {
			return err
		}
		out = volume.NewFromGeometry(tmpl)
		out.Descrip = fmt.Sprintf("resliced to %s", *reslicePath)

		// With replace the net transform becomes the input's own mapping, so
		// no extra transform is composed during resampling.
		if replace && T != nil {
			moved := *in
			moved.Transform = *T
			in = &moved
			T = nil
		}

		oversample := reslice.DeriveOversample(out, in)
		if opts.Oversample != nil {
			oversample = *opts.Oversample
		}
		log.WithFields(log.Fields{
			"template":   *reslicePath,
			"interp":     opts.Interp,
			"oversample": oversample,
		}).Debug("reslicing")

		engine := reslice.Engine{
			Kernel:     interp.New(opts.Interp),
			Oversample: oversample,
			Workers:    opts.Workers,
			Progress:   progressPrinter("Reslicing"),
		}
		if err := engine.Reslice(out, in, T); err != nil {
			return err
		}
		fmt.Println()
	} else {
		out = volume.NewFromGeometry(in)
		out.Transform = transform.ApplyToHeader(T, replace, in.Transform)
		out.Descrip = in.Descrip
		if T != nil {
			out.Descrip = "transform modified"
		}
		if err := reslice.DirectCopy(out, in, progressPrinter("Copying")); err != nil {
			return err
		}
		fmt.Println()
	}

	if *verbose {
		logSummary(out)
	}
	if err := volume.Write(outputPath, out, dtype); err != nil {
		return err
	}
	log.WithField("image", outputPath).Info("output written")

	if *exportSlices != "" {
		viewer := visualization.NewViewer(out)
		for _, axis := range []string{"x", "y", "z"} {
			dir := fmt.Sprintf("%s/%s", *exportSlices, axis)
			if err := viewer.SaveSliceSequence(axis, dir); err != nil {
				log.WithError(err).Warnf("failed to save %s-axis slices", axis)
			}
		}
	}
	return nil
}

// progressPrinter returns a callback printing incremental percentages on a
// single line. Workers report concurrently, so only strictly increasing
// counts are printed.
func progressPrinter(stage string) reslice.ProgressFunc {
	var last atomic.Int64
	return func(done, total int) {
		for {
			prev := last.Load()
			if int64(done) <= prev {
				return
			}
			if last.CompareAndSwap(prev, int64(done)) {
				fmt.Printf("\r%s: %.1f%% complete", stage, float64(done)/float64(total)*100)
				return
			}
		}
	}
}

// logSummary reports the output intensity distribution, useful for sanity
// checking a reslice (for instance an all-zero output from a transform that
// maps outside the input).
func logSummary(v *volume.Volume) {
	if len(v.Data) == 0 {
		return
	}
	data := make([]float64, len(v.Data))
	for i, x := range v.Data {
		data[i] = float64(x)
	}
	log.WithFields(log.Fields{
		"mean":   stat.Mean(data, nil),
		"stddev": stat.StdDev(data, nil),
		"min":    floats.Min(data),
		"max":    floats.Max(data),
	}).Debug("output intensity summary")
}

// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/histeq/internal"
	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/equalize"
	"github.com/mlnoga/histeq/internal/ops"
	"github.com/mlnoga/histeq/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var platform = flag.Int("p", 0, "use platform with given id")
var dev = flag.Int("d", 0, "use device with given id on the platform, 0=parallel, 1=serial")
var list = flag.Bool("l", false, "list platforms and devices, then exit")

var file = flag.String("f", "test.pgm", "equalize image from `file` if no further file arguments are given")
var out = flag.String("out", "%auto", "save output to `file`. `%auto` inserts _eq before the suffix of the input file, %d expands to the image id")
var logFile = flag.String("log", "", "save log output to `file`")
var random = flag.String("random", "", "equalize a random 8-bit grayscale image of the given size, e.g. `640x480`")

var bins = flag.Int("b", equalize.DefaultBins, "number of histogram bins")
var scan = flag.String("scan", "blelloch", "cumulative histogram algorithm, one of simple, hillis_steele, blelloch")
var perChannel = flag.Bool("perChannel", false, "equalize each color channel with its own histogram")
var outMax = flag.Uint64("outMax", 0, "largest output sample value, 0=maximum of the sample type")
var maxIntensity = flag.Uint64("maxIntensity", 0, "largest input sample value for binning, 0=derive from the image")
var workers = flag.Int("workers", 0, "number of images to equalize concurrently, 0=number of CPUs")

var chart = flag.String("chart", "", "save histogram chart with given filename pattern, e.g. `chart%d.png`")
var jsonOut = flag.String("json", "", "save run report with given filename pattern, e.g. `run%d.json`")

var listen = flag.String("listen", ":8080", "serve on given `address`")
var chroot = flag.String("chroot", "", "serve from a chroot environment rooted at `dir` (requires root)")
var setuid = flag.Int("setuid", -1, "serve with this user id, -1=keep current user")

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Histeq Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (equalize|histogram|devices|serve|legal|version|help) (img0.pgm ... imgn.pgm)

Commands:
  equalize  Equalize input images (default)
  histogram Show histogram, cumulative and normalized tables of input images
  devices   List platforms and devices
  serve     Serve the REST API
  legal     Show license and attribution information
  version   Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *logFile != "" {
		if err := nl.LogAlsoToFile(*logFile); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *logFile)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	cmd := "equalize"
	if *list {
		cmd = "devices"
	} else if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "equalize":
		err = cmdEqualize(args, true, logWriter)

	case "histogram":
		err = cmdEqualize(args, false, logWriter)

	case "devices":
		cmdDevices(logWriter)

	case "serve":
		err = cmdServe(logWriter)

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", cmd)
		flag.Usage()
		return
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		var buildErr *device.BuildError
		if errors.As(err, &buildErr) {
			fmt.Fprintf(logWriter, "Build log:\n%s\n", buildErr.Log)
		}
		nl.LogSync()
		os.Exit(-1)
	}
	nl.LogSync()
}

// Returns the device selected with -p and -d
func selectDevice(logWriter io.Writer) (*device.Device, error) {
	d, err := device.GetDevice(*platform, *dev)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(logWriter, "Running on %s\n", d)
	return d, nil
}

func cmdDevices(logWriter io.Writer) {
	for _, d := range device.ListDevices() {
		fmt.Fprintf(logWriter, "%s\n", d)
		fmt.Fprintf(logWriter, "  Vendor %s, %d compute units, %d/%d physical/logical cores, AVX2 %v\n",
			d.Vendor, d.ComputeUnits, d.PhysicalCores, d.LogicalCores, d.AVX2)
		fmt.Fprintf(logWriter, "  Max work group size %d, local memory %d KiB, global memory %d MiB, cache line %d, L1D %d KiB\n",
			d.MaxWorkGroupSize, d.LocalMemBytes/1024, d.GlobalMemBytes/1024/1024, d.CacheLine, d.L1DBytes/1024)
	}
}

// Returns the equalizer configuration given by the flags
func configFromFlags() (equalize.Config, error) {
	s, err := equalize.ParseScanStrategy(*scan)
	if err != nil {
		return equalize.Config{}, err
	}
	if *outMax > math.MaxUint32 {
		return equalize.Config{}, fmt.Errorf("%w: -outMax %d exceeds %d", equalize.ErrInvalidOutputMax, *outMax, uint64(math.MaxUint32))
	}
	if *maxIntensity > math.MaxUint32 {
		return equalize.Config{}, fmt.Errorf("invalid -maxIntensity %d, exceeds %d", *maxIntensity, uint64(math.MaxUint32))
	}
	cfg := equalize.Config{
		Bins:         *bins,
		Scan:         s,
		PerChannel:   *perChannel,
		OutputMax:    uint32(*outMax),
		MaxIntensity: uint32(*maxIntensity),
	}
	return cfg, cfg.Validate()
}

// Equalizes all input files, or a random image, in parallel. Prints the tables,
// and saves the outputs if requested
func cmdEqualize(args []string, save bool, logWriter io.Writer) error {
	cfg, err := configFromFlags()
	if err != nil {
		return err
	}
	d, err := selectDevice(logWriter)
	if err != nil {
		return err
	}
	c := ops.NewContext(logWriter, d)
	c.Unrestricted = true
	if *workers > 0 {
		c.MaxThreads = *workers
	}

	opEqualize := ops.NewOpEqualize(cfg)
	opEqualize.PrintTables = true
	opEqualize.ChartPattern, opEqualize.JSONPattern = *chart, *jsonOut

	var seqs []*ops.OpSequence
	if *random != "" {
		var w, h int
		if _, err := fmt.Sscanf(*random, "%dx%d", &w, &h); err != nil {
			return fmt.Errorf("invalid random image size '%s': %w", *random, err)
		}
		seqs = append(seqs, ops.NewOpSequence(ops.NewOpRandom(0, w, h, 1, 8), opEqualize, ops.NewOpSave(outName("random.pgm", save))))
	} else {
		files, err := globFiles(args)
		if err != nil {
			return err
		}
		for i, f := range files {
			seqs = append(seqs, ops.NewOpSequence(ops.NewOpLoad(i, f), opEqualize, ops.NewOpSave(outName(f, save))))
		}
	}

	var promises []ops.Promise
	for _, seq := range seqs {
		p, err := seq.MakePromises(nil, c)
		if err != nil {
			return err
		}
		promises = append(promises, p...)
	}
	_, err = ops.MaterializeAll(promises, c.MaxThreads, true)
	nl.ClearPools()

	fmt.Fprintln(logWriter)
	if _, perr := c.Profile.WriteTo(logWriter); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Expands the file arguments, or the -f default if there are none. Patterns
// without matches are kept, so loading reports the missing file
func globFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{*file}
	}
	var files []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			matches = []string{pattern}
		}
		files = append(files, matches...)
	}
	return files, nil
}

// Returns the output file name for the given input, or blank if not saving
func outName(in string, save bool) string {
	if !save {
		return ""
	}
	if *out != "%auto" {
		return *out
	}
	base, comp := in, ""
	switch strings.ToLower(filepath.Ext(in)) {
	case ".gz", ".gzip", ".zst", ".zstd":
		comp = filepath.Ext(in)
		base = strings.TrimSuffix(in, comp)
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_eq" + ext + comp
}

func cmdServe(logWriter io.Writer) error {
	d, err := selectDevice(logWriter)
	if err != nil {
		return err
	}
	if err := rest.MakeSandbox(logWriter, *chroot, *setuid); err != nil {
		return err
	}
	return rest.Serve(*listen, d, logWriter)
}

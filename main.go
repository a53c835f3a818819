// Command cutout runs promptable segmentation and depth-based background
// removal on image files, and inspects the persisted editor canvas.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"cutout/internal/app"
	"cutout/internal/bgremove"
	"cutout/internal/config"
	"cutout/internal/cvmask"
	"cutout/internal/image"
	"cutout/internal/inference"
	"cutout/internal/logging"
	"cutout/internal/metrics"
	"cutout/internal/project"
	"cutout/internal/registry"
	"cutout/internal/segment"
	"cutout/internal/store"
	"cutout/internal/version"
	"cutout/pkg/geometry"

	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: cutout [-config file] [-version] <command> [flags]

Commands:
  segment  cut the prompted region out of an image
  rmbg     hide the background of an image by depth
  info     show the saved canvas and history
`)
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if _, statErr := os.Stat(*configPath); !errors.Is(statErr, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	if err := logging.InitLogger(cfg.Log.Mode); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	args := flag.Args()
	switch args[0] {
	case "segment":
		err = runSegment(ctx, cfg, args[1:])
	case "rmbg":
		err = runRemoveBackground(ctx, cfg, args[1:])
	case "info":
		err = runInfo(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logging.Logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logging.Logger.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Logger.Error("metrics server stopped", zap.Error(err))
	}
}

// newManager builds a session manager for the configured runtime.
func newManager(cfg *config.Config) *inference.Manager {
	local := &inference.ONNXOpener{LibraryPath: cfg.Runtime.LibraryPath, Threads: cfg.Runtime.Threads}
	opener := &inference.RoutingOpener{Local: local, Remote: inference.RemoteOpener{}}
	if cfg.Runtime.UseCUDA {
		return inference.NewManager(opener)
	}
	return inference.NewManager(opener, inference.ProviderCPU)
}

// pointList collects repeated "x,y" flags.
type pointList []geometry.Point2D

func (p *pointList) String() string {
	parts := make([]string, len(*p))
	for i, pt := range *p {
		parts[i] = fmt.Sprintf("%g,%g", pt.X, pt.Y)
	}
	return strings.Join(parts, " ")
}

func (p *pointList) Set(s string) error {
	v, err := parseFloats(s, 2)
	if err != nil {
		return err
	}
	*p = append(*p, geometry.Point2D{X: v[0], Y: v[1]})
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	fields := strings.Split(s, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func runSegment(ctx context.Context, cfg *config.Config, args []string) error {
	fset := flag.NewFlagSet("segment", flag.ExitOnError)
	imagePath := fset.String("image", "", "Input image (TIFF, PNG, or JPEG)")
	outPath := fset.String("out", "cutout.png", "Output PNG")
	box := fset.String("box", "", "Box prompt x0,y0,x1,y1 in image pixels")
	var fg, bg pointList
	fset.Var(&fg, "fg", "Foreground point x,y in image pixels (repeatable)")
	fset.Var(&bg, "bg", "Background point x,y in image pixels (repeatable)")
	save := fset.Bool("save", false, "Add the image and its cutout to the saved canvas")
	fset.Parse(args)

	if *imagePath == "" || (len(fg) == 0 && *box == "") {
		return errors.New("usage: cutout segment -image <path> (-fg x,y ... | -box x0,y0,x1,y1) [-bg x,y ...] [-out file]")
	}

	target, err := image.Load(*imagePath)
	if err != nil {
		return err
	}

	manager := newManager(cfg)
	defer manager.Close()
	encoder := cfg.Models.Encoder
	if cfg.Models.RemoteEncoder != "" {
		encoder = cfg.Models.RemoteEncoder
	}
	if err := manager.LoadAll(ctx, map[string]string{
		inference.ModelEncoder: encoder,
		inference.ModelDecoder: cfg.Models.Decoder,
	}); err != nil {
		return err
	}

	if *save {
		return segmentIntoCanvas(ctx, cfg, manager, target, fg, bg, *box, *outPath)
	}

	reg := registry.New()
	defer reg.Clear()
	rec := reg.Get(target)
	eng := segment.NewEngine(manager)
	viewport := geometry.Identity()

	for _, p := range fg {
		if err := eng.AddPoint(rec, p, viewport, registry.LabelPositive); err != nil {
			return err
		}
	}
	for _, p := range bg {
		if err := eng.AddPoint(rec, p, viewport, registry.LabelNegative); err != nil {
			return err
		}
	}
	if *box != "" {
		v, err := parseFloats(*box, 4)
		if err != nil {
			return err
		}
		if err := eng.AddBox(rec, geometry.Point2D{X: v[0], Y: v[1]}, geometry.Point2D{X: v[2], Y: v[3]}, viewport); err != nil {
			return err
		}
	}

	cut, err := eng.Run(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Printf("Cutout %dx%d at (%d,%d)\n", cut.Width, cut.Height, cut.CropX, cut.CropY)
	return writePNG(*outPath, cut)
}

// segmentIntoCanvas replays the prompts through an editor opened on the
// configured store, so the image, its cutout and the history are persisted.
func segmentIntoCanvas(ctx context.Context, cfg *config.Config, manager *inference.Manager,
	target *image.Object, fg, bg pointList, box, outPath string) error {
	st, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	editor := app.NewEditor(manager, st, app.Options{Resizer: cvmask.Resizer{}})
	if err := editor.Open(ctx); err != nil {
		return err
	}
	autosaver := app.NewAutosaver(editor, cfg.Editor.AutosaveInterval, cfg.Store.Timeout)
	if autosaver != nil {
		autosaver.Start()
	}

	cut, err := promptEditor(ctx, editor, target, fg, bg, box)
	if autosaver != nil {
		autosaver.Stop()
	}
	if closeErr := editor.Close(ctx); closeErr != nil {
		logging.Logger.Error("failed to close editor", zap.Error(closeErr))
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Canvas now holds %d objects\n", editor.Scene().Len())
	return writePNG(outPath, cut)
}

// promptEditor adds target at the canvas origin, where screen and image
// pixels coincide under the identity viewport, and segments it.
func promptEditor(ctx context.Context, editor *app.Editor, target *image.Object, fg, bg pointList, box string) (*image.Object, error) {
	editor.Add(target)

	if len(fg) > 0 {
		if err := editor.HandleKey(ctx, "p", false); err != nil {
			return nil, err
		}
		for _, p := range fg {
			if err := editor.PointerDown(p); err != nil {
				return nil, err
			}
		}
	}
	if len(bg) > 0 {
		if err := editor.HandleKey(ctx, "n", false); err != nil {
			return nil, err
		}
		for _, p := range bg {
			if err := editor.PointerDown(p); err != nil {
				return nil, err
			}
		}
	}
	if box != "" {
		v, err := parseFloats(box, 4)
		if err != nil {
			return nil, err
		}
		a, b := geometry.Point2D{X: v[0], Y: v[1]}, geometry.Point2D{X: v[2], Y: v[3]}
		if err := editor.HandleKey(ctx, "b", false); err != nil {
			return nil, err
		}
		if err := editor.PointerDown(a); err != nil {
			return nil, err
		}
		if _, err := editor.PointerUp(b); err != nil {
			return nil, err
		}
	}
	return editor.Segment(ctx)
}

func runRemoveBackground(ctx context.Context, cfg *config.Config, args []string) error {
	fset := flag.NewFlagSet("rmbg", flag.ExitOnError)
	imagePath := fset.String("image", "", "Input image (TIFF, PNG, or JPEG)")
	outPath := fset.String("out", "rmbg.png", "Output PNG")
	percent := fset.Float64("percent", 50, "Depth threshold percent (0-100)")
	fset.Parse(args)

	if *imagePath == "" {
		return errors.New("usage: cutout rmbg -image <path> [-percent 50] [-out file]")
	}

	target, err := image.Load(*imagePath)
	if err != nil {
		return err
	}

	manager := newManager(cfg)
	defer manager.Close()
	if _, err := manager.Load(ctx, inference.ModelDepth, cfg.Models.Depth); err != nil {
		return err
	}

	reg := registry.New()
	defer reg.Clear()
	eng := bgremove.NewEngine(manager, cvmask.Resizer{})
	if _, err := eng.ApplyThreshold(ctx, reg.Get(target), *percent); err != nil {
		return err
	}
	fmt.Printf("Hidden %d of %d pixels\n", target.Clip.Opaque(), target.Width*target.Height)
	return writePNG(*outPath, target)
}

func runInfo(ctx context.Context, cfg *config.Config) error {
	st, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.Store.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Store.Timeout)
		defer cancel()
	}

	editor := app.NewEditor(nil, st, app.Options{})
	if err := editor.Open(ctx); err != nil {
		return err
	}
	state, err := project.Load(ctx, st)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("No saved canvas")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Canvas: %d objects, %d bytes\n", editor.Scene().Len(), len(state.Scene))
	for _, o := range editor.Scene().Objects() {
		fmt.Printf("  %s %-6s %4dx%-4d at (%.1f,%.1f) angle %.1f\n",
			o.ID, o.Kind, o.Width, o.Height, o.Left, o.Top, o.Angle)
	}
	fmt.Printf("History: %d snapshots\n", editor.History().Len())
	return nil
}

func writePNG(path string, o *image.Object) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, image.Render(o)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return f.Close()
}

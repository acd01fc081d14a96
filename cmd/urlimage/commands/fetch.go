package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/urlimage/internal/cli/output"
	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/loader"
)

var (
	fetchDir         string
	fetchConcurrency int
	fetchOutput      string
	fetchTimeout     time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL...",
	Short: "Load images and optionally save them",
	Long: `Load one or more images through the shared fetch manager and cache.

Duplicate URLs are fetched once. Images already in the cache are not
downloaded again. A summary of every URL is printed when all loads have
finished; the command fails if any of them failed.

Examples:
  # Load two images and print a summary
  urlimage fetch https://example.com/a.png https://example.com/b.jpg

  # Save images into ./images, eight at a time
  urlimage fetch -d ./images -c 8 $(cat urls.txt)

  # JSON summary
  urlimage fetch --output json https://example.com/a.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchDir, "dir", "d", "", "Directory to save images into")
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "c", 4, "Maximum loads in flight")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "table", "Summary format (table|json|yaml)")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 0, "Per-image timeout (default: loader.timeout)")
}

// fetchResult is the outcome of loading one URL.
type fetchResult struct {
	URL        string  `json:"url" yaml:"url"`
	State      string  `json:"state" yaml:"state"`
	Format     string  `json:"format,omitempty" yaml:"format,omitempty"`
	Width      int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int     `json:"height,omitempty" yaml:"height,omitempty"`
	Bytes      int     `json:"bytes" yaml:"bytes"`
	File       string  `json:"file,omitempty" yaml:"file,omitempty"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type fetchResults []fetchResult

func (r fetchResults) Headers() []string {
	return []string{"URL", "State", "Format", "Size", "Bytes", "Time", "Detail"}
}

func (r fetchResults) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, res := range r {
		size := ""
		if res.Width > 0 {
			size = fmt.Sprintf("%dx%d", res.Width, res.Height)
		}
		detail := res.File
		if res.Error != "" {
			detail = res.Error
		}
		rows = append(rows, []string{
			res.URL,
			res.State,
			res.Format,
			size,
			strconv.Itoa(res.Bytes),
			(time.Duration(res.DurationMs * float64(time.Millisecond))).Round(time.Millisecond).String(),
			detail,
		})
	}
	return rows
}

func (r fetchResults) failed() int {
	n := 0
	for _, res := range r {
		if res.State != loader.StateLoaded.String() {
			n++
		}
	}
	return n
}

func runFetch(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(fetchOutput)
	if err != nil {
		return err
	}
	if fetchConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if fetchTimeout > 0 {
		cfg.Loader.Timeout = fetchTimeout
	}

	if fetchDir != "" {
		if err := os.MkdirAll(fetchDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Decoding runs in the delivery callback; let loads decode in parallel.
	rt, err := newRuntime(ctx, cfg, fetch.WithDispatcher(fetch.GoDispatcher))
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Shutdown error", logger.KeyError, err)
		}
	}()

	results := make(fetchResults, len(args))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, u := range args {
		g.Go(func() error {
			results[i] = fetchOne(ctx, rt, u, fetchDir)
			return nil
		})
	}
	_ = g.Wait()

	if err := output.Print(cmd.OutOrStdout(), format, results); err != nil {
		return err
	}
	if n := results.failed(); n > 0 {
		return fmt.Errorf("%d of %d images failed to load", n, len(results))
	}
	return nil
}

// fetchOne loads u and saves it into dir when dir is set.
func fetchOne(ctx context.Context, rt *imageRuntime, u, dir string) (res fetchResult) {
	start := time.Now()
	l := loader.New(rt.loader)
	l.SetURL(u)
	state := l.Wait(ctx)

	res = fetchResult{URL: u, State: state.String()}
	defer func() { res.DurationMs = logger.Duration(start) }()

	switch state {
	case loader.StateLoaded:
		img := l.Image()
		if img == nil {
			return res
		}
		res.Bytes = len(img.Data)
		res.Format = img.Format
		if img.Img != nil {
			b := img.Img.Bounds()
			res.Width, res.Height = b.Dx(), b.Dy()
		}
		if dir != "" {
			path := filepath.Join(dir, imageFileName(u, img.Data))
			if err := os.WriteFile(path, img.Data, 0644); err != nil {
				res.State = loader.StateFailed.String()
				res.Error = fmt.Sprintf("save: %v", err)
				return res
			}
			res.File = path
		}
	case loader.StateFailed:
		res.Error = l.Err().Error()
	default:
		l.Cancel()
		res.State = loader.StateFailed.String()
		res.Error = context.Cause(ctx).Error()
	}
	return res
}

// imageFileName names a saved image after the hash of its URL with the
// extension of its sniffed type.
func imageFileName(u string, data []byte) string {
	return cachestore.HashKey(u)[:16] + mimetype.Detect(data).Extension()
}

package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/loov/hrtime"
	"github.com/spf13/cobra"
	"github.com/xlab/closer"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure frame pacing on the software GPU",
	Long: `Bench drives the swapchain of a software GPU whose queue takes
--latency to execute every submission and prints a histogram of the
time each frame took on the host.

It also reports frames which read uniforms other than the ones written
for them, which would mean a frame slot was reused too early.`,
	RunE: runBench,
}

var benchArgs struct {
	frames      int
	resizeEvery int
}

func init() {
	flags := benchCmd.Flags()
	flags.IntVar(&benchArgs.frames, "frames", 1000, "number of frames to draw")
	flags.IntVar(&benchArgs.resizeEvery, "resize-every", 0, "resize the surface every N frames")
	flags.Duration("latency", 0, "time the simulated queue spends on each submission")
	flags.String("present-mode", "mailbox", "present mode: fifo, fifo_relaxed, mailbox or immediate")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchArgs.frames <= 0 {
		return errors.Newf("--frames must be positive, got %d", benchArgs.frames)
	}

	err := bindFlags(cmd, map[string]string{
		"driver.soft_latency":    "latency",
		"swapchain.present_mode": "present-mode",
	})
	if err != nil {
		return err
	}

	v.Set("driver.name", soft.Name)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Run.Frames = benchArgs.frames

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	closer.Bind(a.Stop)
	defer a.cleanup()

	rend := a.rend.(*softRenderer)
	res, err := a.bench(benchArgs.frames, benchArgs.resizeEvery)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Histogram(10))
	fmt.Fprintf(cmd.OutOrStdout(), "frames: %d presented, %d executed, %d stale\n",
		a.dev.CurrentFrame(), rend.Executed(), rend.Stale())

	stats, err := a.dev.StatsJSON()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", stats)

	if rend.Stale() > 0 {
		return errors.Newf("%d frames read stale uniforms", rend.Stale())
	}
	return nil
}

// bench draws frames on the soft surface and times each of them. Every
// resizeEvery frames the surface changes size, which goes through the out of
// date and recreate path.
func (a *app) bench(frames, resizeEvery int) (*hrtime.Benchmark, error) {
	width, height := a.softWindow.GetFramebufferSize()
	a.startTime = hrtime.Now()

	b := hrtime.NewBenchmark(frames)
	for i := 0; b.Next(); i++ {
		if resizeEvery > 0 && i > 0 && i%resizeEvery == 0 {
			width, height = height, width
			a.softWindow.Resize(width, height)
		}
		if err := a.drawFrame(); err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		if a.stop.Load() {
			break
		}
	}

	if err := a.sc.WaitIdle(); err != nil {
		return nil, err
	}
	return b, nil
}

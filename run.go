package main

import (
	"github.com/spf13/cobra"
	"github.com/xlab/closer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open a window and present frames",
	Long: `Run opens a window and presents frames on it until the window is closed
or the frame limit is reached. Resizing the window recreates the swapchain.

With --driver soft no window is opened; frames are presented to an
in-memory surface.`,
	RunE: runFrames,
}

func init() {
	flags := runCmd.Flags()
	flags.Int("frames", 0, "stop after this many frames, 0 runs until the window closes")
	flags.Int("width", 800, "window width")
	flags.Int("height", 600, "window height")
	flags.String("present-mode", "mailbox", "present mode: fifo, fifo_relaxed, mailbox or immediate")
	flags.Int("stats-every", 0, "log device statistics every N frames")

	rootCmd.AddCommand(runCmd)
}

func runFrames(cmd *cobra.Command, args []string) error {
	err := bindFlags(cmd, map[string]string{
		"run.frames":             "frames",
		"window.width":           "width",
		"window.height":          "height",
		"swapchain.present_mode": "present-mode",
		"run.stats_every":        "stats-every",
	})
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	closer.Bind(a.Stop)
	defer a.cleanup()

	return a.Run()
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
)

var (
	scheduleFormat string
	scheduleEvery  string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [project]",
	Short: "Generate a scheduler entry for a project",
	Long: `Generate a scheduler entry that runs the project periodically.

Formats:
  cron     a crontab line (default)
  systemd  a systemd timer + service unit pair
  launchd  a macOS launchd plist

The entry invokes this trident binary with 'project run <project>'. Pipe the output
into the scheduler of your choice; nothing is installed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScheduleCmd,
}

func init() {
	projectCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleFormat, "format", "cron", "Entry format: cron, systemd, or launchd")
	scheduleCmd.Flags().StringVar(&scheduleEvery, "every", "1h", "Run interval: 15m, 1h, or 1d")
}

func runScheduleCmd(cmd *cobra.Command, args []string) error {
	project, err := trident.LoadProject(projectDir(args))
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		exe = "trident"
	}
	root, err := filepath.Abs(project.Root)
	if err != nil {
		root = project.Root
	}

	switch scheduleFormat {
	case "cron":
		expr, err := cronExpr(scheduleEvery)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s project run %s --emit-signal\n", expr, exe, root)
	case "systemd":
		printSystemdUnits(project.Name, exe, root)
	case "launchd":
		printLaunchdPlist(project.Name, exe, root)
	default:
		return fmt.Errorf("unknown format %q: want cron, systemd, or launchd", scheduleFormat)
	}
	return nil
}

func cronExpr(every string) (string, error) {
	switch every {
	case "15m":
		return "*/15 * * * *", nil
	case "30m":
		return "*/30 * * * *", nil
	case "1h":
		return "0 * * * *", nil
	case "1d":
		return "0 0 * * *", nil
	}
	return "", fmt.Errorf("unsupported interval %q: want 15m, 30m, 1h, or 1d", every)
}

func printSystemdUnits(name, exe, root string) {
	unit := strings.ReplaceAll(name, " ", "-")
	fmt.Printf(`# %[1]s.service
[Unit]
Description=Run %[1]s workflow

[Service]
Type=oneshot
ExecStart=%[2]s project run %[3]s --emit-signal

# %[1]s.timer
[Unit]
Description=Schedule %[1]s workflow

[Timer]
OnUnitActiveSec=%[4]s
Persistent=true

[Install]
WantedBy=timers.target
`, unit, exe, root, scheduleEvery)
}

func printLaunchdPlist(name, exe, root string) {
	seconds := 3600
	switch scheduleEvery {
	case "15m":
		seconds = 900
	case "30m":
		seconds = 1800
	case "1d":
		seconds = 86400
	}
	fmt.Printf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>dev.trident.%s</string>
  <key>ProgramArguments</key>
  <array>
    <string>%s</string>
    <string>project</string>
    <string>run</string>
    <string>%s</string>
    <string>--emit-signal</string>
  </array>
  <key>StartInterval</key>
  <integer>%d</integer>
</dict>
</plist>
`, strings.ReplaceAll(name, " ", "-"), exe, root, seconds)
}

package arg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qrattendance/internal/app"
	"qrattendance/internal/attendance"
	"qrattendance/internal/scanner"
)

var kioskOpts struct {
	device  string
	section string
	verbose bool
}

var kioskCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Read scans from stdin (one per line) and record attendance",
	Long: `kiosk reads keyboard-wedge scanner output from stdin. Each line is a QR
payload, except for these commands:

  section <id>                  select the section to scan into
  logout <session-id> [secs]    end a session, optionally with a custom cooldown
  stats                         show today's totals for the current section
  quit                          exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := zap.NewNop()
		if kioskOpts.verbose {
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}
		ctx := cmd.Context()
		deps, err := app.Build(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer deps.Close()
		go func() { _ = deps.Consumer().Run(ctx) }()

		k := &kiosk{
			device:  deps.Registry().Device(ctx, kioskOpts.device),
			engine:  deps.Engine,
			reports: deps.Backend,
			now:     time.Now,
			out:     cmd.OutOrStdout(),
		}
		if kioskOpts.section != "" {
			if err := k.command(ctx, "section "+kioskOpts.section); err != nil {
				return err
			}
		}
		return k.run(ctx, cmd.InOrStdin())
	},
}

func init() {
	kioskCmd.Flags().StringVar(&kioskOpts.device, "device", "kiosk", "device id recorded in the scan log")
	kioskCmd.Flags().StringVar(&kioskOpts.section, "section", "", "section to select on start")
	kioskCmd.Flags().BoolVarP(&kioskOpts.verbose, "verbose", "v", false, "log engine activity to stderr")
	rootCmd.AddCommand(kioskCmd)
}

var errQuit = errors.New("quit")

type kiosk struct {
	device  *scanner.Device
	engine  *attendance.Engine
	reports attendance.Reports
	now     func() time.Time
	out     io.Writer
}

func (k *kiosk) run(ctx context.Context, in io.Reader) error {
	lines := bufio.NewScanner(in)
	for lines.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}
		err := k.command(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(k.out, "error: %v\n", err)
		}
	}
	return lines.Err()
}

func (k *kiosk) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return errQuit
	case "section":
		if len(fields) != 2 {
			return errors.New("usage: section <id>")
		}
		sec, err := k.device.SelectSection(ctx, fields[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(k.out, "section: %s (%s)\n", sec.Name, sec.ID)
		return nil
	case "logout":
		if len(fields) < 2 || len(fields) > 3 {
			return errors.New("usage: logout <session-id> [cooldown-seconds]")
		}
		var custom time.Duration
		if len(fields) == 3 {
			secs, err := strconv.Atoi(fields[2])
			if err != nil || secs < 0 {
				return errors.New("cooldown must be a non-negative number of seconds")
			}
			custom = time.Duration(secs) * time.Second
		}
		res, err := k.device.Logout(ctx, fields[1], k.now(), custom)
		if err != nil {
			return err
		}
		if res.Outcome == attendance.LogoutTooEarly {
			fmt.Fprintf(k.out, "too early: wait %ds before logging out\n", res.RemainingSeconds)
			return nil
		}
		fmt.Fprintf(k.out, "logged out %s, cooldown until %s\n", res.Session.StudentID, res.Session.CooldownUntil.Local().Format(time.Kitchen))
		return nil
	case "stats":
		sec, ok := k.device.CurrentSection()
		if !ok {
			return errors.New("select a section first")
		}
		st, err := k.reports.AttendanceStats(ctx, k.engine.DateOf(k.now()), sec.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(k.out, "%s: %d checked in today, %d present now\n", sec.Name, st.TotalToday, st.PresentNow)
		return nil
	}

	d, err := k.device.Scan(ctx, line, k.now())
	if err != nil {
		return err
	}
	if d.Session != nil && (d.Kind == attendance.CheckIn || d.Kind == attendance.AlreadyActive) {
		fmt.Fprintf(k.out, "%s: %s [session %s]\n", d.StudentID, d.Message(), d.Session.ID)
		return nil
	}
	fmt.Fprintf(k.out, "%s: %s\n", d.StudentID, d.Message())
	return nil
}

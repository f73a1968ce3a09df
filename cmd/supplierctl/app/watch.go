package app

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

func (a *App) installWatch() {
	var interval = expiry.DefaultInterval
	cmd := &cobra.Command{
		Use:   "watch ID",
		Short: "Keep a supplier's day counts fresh until interrupted",
		Long: `Load a supplier and recompute its remaining days hourly and at local midnight.
Press Enter to recompute immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				out := cmd.OutOrStdout()
				var mu sync.Mutex
				ed := compliance.NewEditor(s.svc, append(a.formOptions(), expiry.WithOnChange(func(f expiry.Fields) {
					mu.Lock()
					defer mu.Unlock()
					printDays(out, a.clock.Now().Format("2006-01-02 15:04"), f)
				}))...)
				if err := ed.Load(a.ctx, compliance.ID(args[0])); err != nil {
					return err
				}

				visibility := expiry.NewManualVisibility()
				go forwardLines(cmd.InOrStdin(), visibility)

				return ignoreCanceled(ed.Watch(a.ctx,
					expiry.WithInterval(interval),
					expiry.WithSchedulerClock(a.clock),
					expiry.WithVisibility(visibility),
					expiry.WithSchedulerLogger(slog.Default()),
				))
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", expiry.DefaultInterval, "recompute interval")
	a.rootCmd.AddCommand(cmd)
}

// forwardLines turns each input line into a visibility transition
func forwardLines(r io.Reader, v *expiry.ManualVisibility) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		v.Show()
	}
}

// printDays prints every dated document's remaining days
func printDays(w io.Writer, at string, f expiry.Fields) {
	fmt.Fprintf(w, "[%s]\n", at)
	for _, p := range compliance.DocumentPairs() {
		if f[p.Validity] == "" {
			continue
		}
		fmt.Fprintf(w, "  %s\t%s\t%s days\n", p.Validity, f[p.Validity], f[p.Days])
	}
}

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	compliance "github.com/iam-ankon/TADREACT-sub005"
	"github.com/iam-ankon/TADREACT-sub005/client"
	"github.com/iam-ankon/TADREACT-sub005/expiry"
)

func (a *App) installSuppliers() {
	cmd := &cobra.Command{
		Use:     "suppliers COMMAND",
		Aliases: []string{"supplier", "s"},
		Short:   "Manage supplier records",
		Args:    cobra.NoArgs,
		RunE:    func(cmd *cobra.Command, args []string) error { return cmd.Usage() },
	}

	cmd.AddCommand(
		a.suppliersList(),
		a.suppliersGet(),
		a.suppliersEdit("create", "Create a supplier", cobra.NoArgs),
		a.suppliersEdit("update ID", "Edit a supplier, recomputing its day counts", cobra.ExactArgs(1)),
		a.suppliersDelete(),
		a.suppliersAttach(),
		a.suppliersAttachments(),
		a.suppliersAgreement(),
		a.suppliersRemind(),
		a.suppliersStats(),
		a.suppliersExpiring(),
	)
	a.rootCmd.AddCommand(cmd)
}

// withSession runs fn with an open session bound to cmd
func (a *App) withSession(cmd *cobra.Command, fn func(s *session) error) error {
	s, err := a.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func (a *App) suppliersList() *cobra.Command {
	var f compliance.Filter
	var page, perPage int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers, filtered and paginated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				all, err := s.svc.List(a.ctx, f)
				if err != nil {
					return err
				}
				// Backends that ignore the query parameters still get filtered
				p := compliance.Paginate(f.Apply(all), page, perPage)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tCOMPLIANCE\tAGREEMENT")
				for _, sup := range p.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sup.ID, sup.Name, dash(sup.Category), dash(sup.ComplianceStatus), dash(sup.AgreementStatus))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d suppliers)\n", p.Number, max(p.TotalPages, 1), p.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Search, "search", "", "match name, contact person, email or phone")
	cmd.Flags().StringVar(&f.Category, "category", "", "only this category")
	cmd.Flags().StringVar(&f.ComplianceStatus, "status", "", "only this compliance status")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 10, "suppliers per page")
	return cmd
}

func (a *App) suppliersGet() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a supplier and the live status of its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				sup, err := s.svc.Get(a.ctx, compliance.ID(args[0]))
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), sup); err != nil {
					return err
				}
				return printDocuments(cmd.OutOrStdout(), sup.DocumentStatuses(a.clock.Now()), false)
			})
		},
	}
}

// suppliersEdit builds create and update, which both go through an Editor
// so day counts are recomputed before submitting.
func (a *App) suppliersEdit(use, short string, args cobra.PositionalArgs) *cobra.Command {
	var sets, files []string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			attachments, closeFiles, err := openFiles(files)
			if err != nil {
				return err
			}
			defer closeFiles()

			return a.withSession(cmd, func(s *session) error {
				ed := compliance.NewEditor(s.svc, a.formOptions()...)
				if len(args) == 1 {
					if err := ed.Load(a.ctx, compliance.ID(args[0])); err != nil {
						return err
					}
				}
				for _, kv := range values {
					if err := ed.Set(kv[0], kv[1]); err != nil {
						return err
					}
				}
				ed.Attach(attachments...)

				sup, err := ed.Submit(a.ctx)
				if err != nil {
					var apiErr *client.APIError
					if errors.As(err, &apiErr) && len(apiErr.FieldErrors) > 0 {
						printFieldErrors(cmd.ErrOrStderr(), apiErr.FieldErrors)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved supplier %s (%s)\n", sup.ID, sup.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to set, repeatable (e.g. fire_license_validity=2026-06-30)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file to upload with the record, repeatable")
	return cmd
}

func (a *App) suppliersDelete() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a supplier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				if err := s.svc.Delete(a.ctx, compliance.ID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted supplier %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *App) suppliersAttach() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "attach ID FILE",
		Short: "Upload a file for a supplier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, closeFiles, err := openFiles(args[1:])
			if err != nil {
				return err
			}
			defer closeFiles()

			return a.withSession(cmd, func(s *session) error {
				att, err := s.svc.CreateAttachment(a.ctx, compliance.ID(args[0]), description, files[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded attachment %s\n", att.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "attachment description")
	return cmd
}

func (a *App) suppliersAttachments() *cobra.Command {
	return &cobra.Command{
		Use:   "attachments ID",
		Short: "List the files uploaded for a supplier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				atts, err := s.svc.ListAttachments(a.ctx, compliance.ID(args[0]))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tFILE\tDESCRIPTION\tUPLOADED")
				for _, att := range atts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", att.ID, att.File, dash(att.Description), dash(att.UploadedAt))
				}
				return w.Flush()
			})
		},
	}
}

func (a *App) suppliersAgreement() *cobra.Command {
	return &cobra.Command{
		Use:   "agreement ID STATUS",
		Short: "Set a supplier's agreement status",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) != 1 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return []string{
				compliance.AgreementPending, compliance.AgreementSent, compliance.AgreementSigned,
				compliance.AgreementExpired, compliance.AgreementRejected,
			}, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				sup, err := s.svc.UpdateAgreementStatus(a.ctx, compliance.ID(args[0]), args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Supplier %s agreement is now %s\n", sup.ID, sup.AgreementStatus)
				return nil
			})
		},
	}
}

func (a *App) suppliersRemind() *cobra.Command {
	return &cobra.Command{
		Use:   "remind [ID...]",
		Short: "Send expiry reminders; without ids, to every supplier with expiring documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]compliance.ID, 0, len(args))
			for _, arg := range args {
				ids = append(ids, compliance.ID(arg))
			}
			return a.withSession(cmd, func(s *session) error {
				res, err := s.svc.SendBulkReminders(a.ctx, ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %d reminders\n", res.Sent)
				return nil
			})
		},
	}
}

func (a *App) suppliersStats() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				var stats *compliance.Stats
				if local {
					all, err := s.svc.List(a.ctx, compliance.Filter{})
					if err != nil {
						return err
					}
					computed := compliance.ComputeStats(all, a.clock.Now())
					stats = &computed
				} else {
					var err error
					if stats, err = s.svc.DashboardStats(a.ctx); err != nil {
						return err
					}
				}
				return printStats(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "compute from the supplier list instead of asking the backend")
	return cmd
}

func (a *App) suppliersExpiring() *cobra.Command {
	var within int
	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List documents that expired or expire soon, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				all, err := s.svc.List(a.ctx, compliance.Filter{})
				if err != nil {
					return err
				}
				return printDocuments(cmd.OutOrStdout(), compliance.ExpiringDocuments(all, a.clock.Now(), within), true)
			})
		},
	}
	cmd.Flags().IntVar(&within, "within", compliance.ExpiringWindow, "days ahead to look")
	return cmd
}

// parseAssignments splits field=value pairs, resolving document labels to
// their validity field.
func parseAssignments(sets []string) ([][2]string, error) {
	out := make([][2]string, 0, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want field=value", s)
		}
		if d, found := compliance.LookupDocument(k); found {
			k = d.Key + expiry.ValiditySuffix
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

// openFiles opens paths as multipart attachments under the "file" field
func openFiles(paths []string) ([]client.File, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	files := make([]client.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		opened = append(opened, f)
		files = append(files, client.File{
			Field:       "file",
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Reader:      f,
		})
	}
	return files, closeAll, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func printDocuments(w io.Writer, docs []compliance.DocumentStatus, withSupplier bool) error {
	if len(docs) == 0 {
		_, err := fmt.Fprintln(w, "No dated documents")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if withSupplier {
		fmt.Fprint(tw, "SUPPLIER\t")
	}
	fmt.Fprintln(tw, "DOCUMENT\tVALID UNTIL\tDAYS\tSTATE")
	for _, d := range docs {
		state := "valid"
		switch {
		case d.Expired():
			state = "expired"
		case d.DaysRemaining <= compliance.ExpiringWindow:
			state = "expiring"
		}
		if withSupplier {
			fmt.Fprintf(tw, "%s\t", d.Supplier)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Document.Label, d.Validity, d.DaysRemaining, state)
	}
	return tw.Flush()
}

func printStats(w io.Writer, s *compliance.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Suppliers\t%d\n", s.TotalSuppliers)
	fmt.Fprintf(tw, "Expired documents\t%d\n", s.ExpiredDocuments)
	fmt.Fprintf(tw, "Expiring within %d days\t%d\n", compliance.ExpiringWindow, s.ExpiringSoon)
	fmt.Fprintf(tw, "Suppliers with expired documents\t%d\n", s.SuppliersWithExpired)
	for _, group := range []struct {
		title  string
		counts map[string]int
	}{
		{"Compliance", s.ByComplianceStatus},
		{"Agreement", s.ByAgreementStatus},
		{"Category", s.ByCategory},
	} {
		keys := make([]string, 0, len(group.counts))
		for k := range group.counts {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s: %s\t%d\n", group.title, k, group.counts[k])
		}
	}
	return tw.Flush()
}

func printFieldErrors(w io.Writer, fields map[string][]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, strings.Join(fields[k], " "))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

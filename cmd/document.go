package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/doc"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/xmlutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "document commands",
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "version label commands",
}

var qtermCmd = &cobra.Command{
	Use:   "qterm",
	Short: "indexed path commands",
}

func init() {
	docCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	docCmd.AddCommand(showDocCmd())
	docCmd.AddCommand(saveDocCmd())
	docCmd.AddCommand(validateDocCmd())
	docCmd.AddCommand(checkOutDocCmd())
	docCmd.AddCommand(checkInDocCmd())
	docCmd.AddCommand(deleteDocCmd())
	docCmd.AddCommand(statusDocCmd())
	docCmd.AddCommand(titleDocCmd())
	docCmd.AddCommand(reindexDocCmd())
	docCmd.AddCommand(linksDocCmd())
	docCmd.AddCommand(filterDocCmd())

	docCmd.AddCommand(labelCmd)
	labelCmd.AddCommand(createLabelCmd())
	labelCmd.AddCommand(deleteLabelCmd())
	labelCmd.AddCommand(applyLabelCmd())
	labelCmd.AddCommand(removeLabelCmd())

	docCmd.AddCommand(qtermCmd)
	qtermCmd.AddCommand(addQueryTermDefCmd())
	qtermCmd.AddCommand(deleteQueryTermDefCmd())
}

func showDocCmd() *cobra.Command {
	var docID string
	var version string
	var denormalized bool

	command := &cobra.Command{
		Use:     "show",
		Short:   "show a document",
		Example: "cdr doc show -d CDR0000000042 -v lastp",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, version)
				if err != nil {
					return err
				}

				printField("ID", d.CdrID())
				printField("Type", d.DocTypeName())
				printField("Title", d.Title())
				printField("Version", strconv.Itoa(d.Version()))
				printField("Status", d.ActiveStatus())
				printField("Validation", d.ValStatus())
				if d.ValDate() != nil {
					printField("Validated", d.ValDate().Format("2006-01-02 15:04:05"))
				}
				if d.Version() > 0 {
					printField("Publishable", strconv.FormatBool(d.Publishable()))
				}
				if d.Comment() != "" {
					printField("Comment", d.Comment())
				}
				if lock, err := d.Lock(ctx); err != nil {
					return err
				} else if lock != nil {
					printField("Checked out", fmt.Sprintf("%s since %s", lock.Usr, lock.DtOut.Format("2006-01-02 15:04:05")))
				}

				xml := d.XML()
				if denormalized {
					xml = d.DenormalizedXML(ctx)
				}
				fmt.Println()
				fmt.Println(xml)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringVarP(&version, "version", "v", "", "version: a number, last, lastp or \"label NAME\"")
	command.Flags().BoolVar(&denormalized, "denormalized", false, "expand links with the doctype's denormalization filters")
	command.Flags().SortFlags = false

	return command
}

func saveDocCmd() *cobra.Command {
	var docID string
	var docType string
	var file string
	var blobFile string
	var title string
	var comment string
	var reason string
	var valTypes []string
	var locators bool
	var version bool
	var publishable bool
	var unlock bool
	var checkout bool
	var status string

	command := &cobra.Command{
		Use:   "save",
		Short: "add a document or replace its working copy",
		Example: `cdr doc save -t Summary -f summary.xml --validate schema,links --publishable
cdr doc save -d CDR42 -f summary.xml --checkout --unlock`,
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"file"}) {
				return
			}
			if docID == "" && docType == "" {
				cmd.PrintErrln("missing: --doc-id or --type")
				return
			}
			run(func(ctx context.Context, a *app) error {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}

				var d *doc.Doc
				if docID != "" {
					if d, err = a.open(ctx, docID, ""); err != nil {
						return err
					}
					if checkout {
						if err := d.CheckOut(ctx, doc.CheckOutOptions{Comment: comment}); err != nil {
							return err
						}
					}
					d.SetXML(string(data))
				} else {
					d = doc.New(a.sess, a.env, docType, string(data))
				}
				if title != "" {
					d.SetTitle(title)
				}
				if comment != "" {
					d.SetComment(comment)
				}
				if blobFile != "" {
					blob, err := os.ReadFile(blobFile)
					if err != nil {
						return err
					}
					d.SetBlob(blob)
				}

				err = d.Save(ctx, doc.SaveOptions{
					Version:      version,
					Publishable:  publishable,
					ValTypes:     valTypes,
					Locators:     locators,
					Unlock:       unlock,
					ActiveStatus: status,
					Reason:       reason,
					Comment:      comment,
				})
				printErrors(d.Errors)
				if err != nil {
					return err
				}
				logrus.Infof("saved %s (%s)", d.CdrID(), d.ValStatus())
				if n := d.SavedVersion(); n > 0 {
					logrus.Infof("created version %d", n)
				}
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document to replace")
	command.Flags().StringVarP(&docType, "type", "t", "", "doctype of a new document")
	command.Flags().StringVarP(&file, "file", "f", "", "xml file (required)")
	command.Flags().StringVar(&blobFile, "blob", "", "binary content to attach")
	command.Flags().StringVar(&title, "title", "", "title, when the doctype has no title filter")
	command.Flags().StringVarP(&comment, "comment", "c", "", "comment")
	command.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	command.Flags().StringSliceVar(&valTypes, "validate", nil, "validations to run: schema, links")
	command.Flags().BoolVar(&locators, "locators", false, "locate validation errors")
	command.Flags().BoolVar(&version, "version", false, "create a version")
	command.Flags().BoolVar(&publishable, "publishable", false, "create a publishable version")
	command.Flags().BoolVar(&unlock, "unlock", false, "release the lock when done")
	command.Flags().BoolVar(&checkout, "checkout", false, "check the document out first")
	command.Flags().StringVar(&status, "status", "", "active status: A or I")
	command.Flags().SortFlags = false

	return command
}

func validateDocCmd() *cobra.Command {
	var docID string
	var types []string
	var locators bool
	var level int
	var storePolicy string
	var asXML bool

	command := &cobra.Command{
		Use:     "validate",
		Short:   "validate a document",
		Example: "cdr doc validate -d CDR42 --types schema --store valid",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				policy := doc.StorePolicy(storePolicy)
				switch policy {
				case doc.StoreNever, doc.StoreIfValid, doc.StoreAlways:
				default:
					return fmt.Errorf("unknown store policy %q", storePolicy)
				}
				err = d.Validate(ctx, doc.ValidateOptions{Types: types, Locators: locators, Level: level, Store: policy})
				if err != nil {
					return err
				}
				if asXML {
					out, err := doc.ErrorsXML(d.Errors)
					if err != nil {
						return err
					}
					fmt.Println(out)
				} else {
					printErrors(d.Errors)
				}
				logrus.Infof("%s: %s", d.CdrID(), d.ValStatus())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringSliceVar(&types, "types", nil, "validations to run (default schema,links)")
	command.Flags().BoolVar(&locators, "locators", false, "locate errors")
	command.Flags().IntVar(&level, "level", 0, "revision markup level")
	command.Flags().StringVar(&storePolicy, "store", "", "persist the outcome: valid or always")
	command.Flags().BoolVar(&asXML, "xml", false, "print the errors as xml")
	command.Flags().SortFlags = false

	return command
}

func checkOutDocCmd() *cobra.Command {
	var docID string
	var force bool
	var comment string

	command := &cobra.Command{
		Use:   "checkout",
		Short: "lock a document for editing",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				if err := d.CheckOut(ctx, doc.CheckOutOptions{Force: force, Comment: comment}); err != nil {
					return err
				}
				logrus.Infof("%s checked out by %s", d.CdrID(), User)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().BoolVar(&force, "force", false, "take the lock from another user")
	command.Flags().StringVarP(&comment, "comment", "c", "", "comment")

	return command
}

func checkInDocCmd() *cobra.Command {
	var docID string
	var force bool
	var abandon bool
	var comment string

	command := &cobra.Command{
		Use:   "checkin",
		Short: "release the lock on a document",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				if err := d.CheckIn(ctx, doc.CheckInOptions{Force: force, Abandon: abandon, Comment: comment}); err != nil {
					return err
				}
				logrus.Infof("%s checked in", d.CdrID())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().BoolVar(&force, "force", false, "release a lock held by another user")
	command.Flags().BoolVar(&abandon, "abandon", false, "do not create a version")
	command.Flags().StringVarP(&comment, "comment", "c", "", "comment")

	return command
}

func deleteDocCmd() *cobra.Command {
	var docID string
	var skipLinkCheck bool
	var reason string

	command := &cobra.Command{
		Use:   "delete",
		Short: "mark a document deleted",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				err = d.Delete(ctx, doc.DeleteOptions{SkipLinkCheck: skipLinkCheck, Reason: reason})
				printErrors(d.Errors)
				if err != nil {
					return err
				}
				logrus.Infof("%s deleted", d.CdrID())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().BoolVar(&skipLinkCheck, "skip-link-check", false, "drop links from other documents")
	command.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")

	return command
}

func statusDocCmd() *cobra.Command {
	var docID string
	var block bool
	var unblock bool
	var comment string

	command := &cobra.Command{
		Use:     "status",
		Short:   "block or unblock a document",
		Example: "cdr doc status -d CDR42 --block -c \"superseded\"",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			if block == unblock {
				cmd.PrintErrln("pass exactly one of --block, --unblock")
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				if unblock {
					err = d.Unblock(ctx, comment)
				} else {
					err = d.SetStatus(ctx, model.ActiveStatusInactive, comment)
				}
				if err != nil {
					return err
				}
				logrus.Infof("%s is %s", d.CdrID(), d.ActiveStatus())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().BoolVar(&block, "block", false, "block the document")
	command.Flags().BoolVar(&unblock, "unblock", false, "unblock the document")
	command.Flags().StringVarP(&comment, "comment", "c", "", "comment")

	return command
}

func titleDocCmd() *cobra.Command {
	var docID string

	command := &cobra.Command{
		Use:   "title",
		Short: "regenerate the title of a document",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				changed, err := d.UpdateTitle(ctx)
				if err != nil {
					return err
				}
				if !changed {
					logrus.Infof("%s title unchanged", d.CdrID())
				}
				printField("Title", d.Title())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func reindexDocCmd() *cobra.Command {
	var docID string

	command := &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the index rows of a document",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				if err := d.Reindex(ctx); err != nil {
					return err
				}
				logrus.Infof("%s reindexed", d.CdrID())
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func linksDocCmd() *cobra.Command {
	var docID string

	command := &cobra.Command{
		Use:   "links",
		Short: "list the links into a document",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				links, err := d.LinksTo(ctx)
				if err != nil {
					return err
				}
				w := newTable()
				fmt.Fprintln(w, "SOURCE\tELEMENT\tTARGET")
				for _, l := range links {
					fmt.Fprintf(w, "%s\t%s\t%s\n", cdrid.Format(l.SourceDoc), l.SourceElem, l.URL)
				}
				return w.Flush()
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func filterDocCmd() *cobra.Command {
	var docID string
	var version string
	var specs []string
	var filterVersion string
	var params []string

	command := &cobra.Command{
		Use:     "filter",
		Short:   "run filters over a document",
		Example: `cdr doc filter -d CDR42 -s "name:Summary Title" -s "set:Denormalization Summary" -p lang=en`,
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id", "spec"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, version)
				if err != nil {
					return err
				}
				req := filter.Request{Specs: specs, Version: filterVersion, Params: map[string]string{}}
				for _, p := range params {
					k, v, ok := strings.Cut(p, "=")
					if !ok {
						return fmt.Errorf("parameter %q is not name=value", p)
					}
					req.Params[k] = v
				}
				res, err := d.Filter(ctx, req)
				if err != nil {
					return err
				}
				for _, m := range res.Messages {
					logrus.Warn(m.Text)
				}
				out, err := xmlutil.Serialize(res.Doc)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringVarP(&version, "version", "v", "", "document version")
	command.Flags().StringArrayVarP(&specs, "spec", "s", nil, "filter: id, name:TITLE or set:NAME (required)")
	command.Flags().StringVar(&filterVersion, "filter-version", "", "filter versions: last, lastp or a number")
	command.Flags().StringArrayVarP(&params, "param", "p", nil, "name=value parameter")
	command.Flags().SortFlags = false

	return command
}

func createLabelCmd() *cobra.Command {
	var comment string

	command := &cobra.Command{
		Use:   "create NAME",
		Short: "create a version label",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return doc.CreateLabel(ctx, a.sess, args[0], comment)
			})
		},
	}

	command.Flags().StringVarP(&comment, "comment", "c", "", "comment")

	return command
}

func deleteLabelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "delete a version label",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return doc.DeleteLabel(ctx, a.sess, args[0])
			})
		},
	}
}

func applyLabelCmd() *cobra.Command {
	var docID string
	var version string

	command := &cobra.Command{
		Use:   "apply NAME",
		Short: "label a version of a document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id", "version"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, version)
				if err != nil {
					return err
				}
				return d.Label(ctx, args[0])
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringVarP(&version, "version", "v", "", "version to label (required)")

	return command
}

func removeLabelCmd() *cobra.Command {
	var docID string

	command := &cobra.Command{
		Use:   "remove NAME",
		Short: "remove a label from a document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, []string{"doc-id"}) {
				return
			}
			run(func(ctx context.Context, a *app) error {
				d, err := a.open(ctx, docID, "")
				if err != nil {
					return err
				}
				return d.Unlabel(ctx, args[0])
			})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func addQueryTermDefCmd() *cobra.Command {
	var rule string

	command := &cobra.Command{
		Use:     "add PATH",
		Short:   "index a path",
		Example: "cdr doc qterm add /Term/TermType",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return doc.AddQueryTermDef(ctx, a.sess, args[0], rule)
			})
		},
	}

	command.Flags().StringVar(&rule, "rule", "", "term rule")

	return command
}

func deleteQueryTermDefCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PATH",
		Short: "stop indexing a path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, a *app) error {
				return doc.DeleteQueryTermDef(ctx, a.sess, args[0])
			})
		},
	}
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	xmldb "github.com/i5heu/ouroboros-xmldb"
	"github.com/i5heu/ouroboros-xmldb/internal/batchfile"
	"github.com/spf13/cobra"
)

func importCommand(a *app) *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "import <name> <file>",
		Short: "parse a file and store it as a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			format := xmldb.FormatXML
			if html {
				format = xmldb.FormatHTML
			}
			return a.db.Import(cmd.Context(), args[0], f, format)
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "parse the file as HTML")
	return cmd
}

func applyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <batch.yaml>",
		Short: "apply an update batch to the document it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			b, err := batchfile.Parse(f)
			if err != nil {
				return err
			}
			stats, err := a.db.ApplyBatch(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d applied, %d discarded, %+d nodes, %d distances repaired\n",
				b.Document, stats.Applied, stats.Discarded, stats.Shift, stats.Repaired)
			return nil
		},
	}
}

func showCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "print a document as XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.db.Serialize(cmd.Context(), args[0], cmd.OutOrStdout()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func listCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.db.Names(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func infoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "print size and age of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.db.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "name\t%s\n", info.Name)
			fmt.Fprintf(w, "nodes\t%s\n", humanize.Comma(int64(info.Nodes)))
			fmt.Fprintf(w, "stored\t%s\n", humanize.Bytes(uint64(info.Bytes)))
			fmt.Fprintf(w, "updated\t%s (%s)\n", info.UpdatedAt.Format(time.RFC3339), humanize.Time(info.UpdatedAt))
			return w.Flush()
		},
	}
}

func dropCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <name>",
		Short: "delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.db.Drop(cmd.Context(), args[0])
		},
	}
}

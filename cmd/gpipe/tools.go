package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/gpipe/internal/vcf"
	"github.com/3cpo-dev/gpipe/internal/yamlpath"
	"github.com/3cpo-dev/gpipe/internal/zones"
)

// Expand zone patterns
func newZonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zones [PATTERN...]",
		Short: "Expand zone patterns against the reference zone list",
		Long:  "Expand zone patterns such as us-* against the reference zone list. Without patterns every reference zone is printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := offlineEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			patterns := args
			if len(patterns) == 0 {
				patterns = []string{zones.Wildcard}
			}
			expanded, err := e.expandZones(cmd, patterns)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				return printResult(cmd, expanded)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Zone", "Region"})
			table.SetBorder(false)
			for _, z := range expanded {
				table.Append([]string{z, region(z)})
			}
			table.Render()
			return nil
		},
	}
}

// region strips the zone letter: us-central1-a -> us-central1.
func region(zone string) string {
	if i := strings.LastIndexByte(zone, '-'); i > 0 {
		return zone[:i]
	}
	return zone
}

// Local helpers used around the samples
func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Local helpers for sample inputs and outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newYAMLValueCmd())
	cmd.AddCommand(newSetVCFSampleIDCmd())
	cmd.AddCommand(newDiffCmd())
	return cmd
}

func newYAMLValueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "yaml-value DOC FIELD",
		Short: "Print the value at a dotted FIELD path of a YAML document",
		Long:  "Print the value at a dotted FIELD path of a YAML document. DOC is - for stdin, the path of an existing file, or the YAML text itself.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			v, err := yamlpath.Lookup(doc, args[1])
			if errors.Is(err, yamlpath.ErrNotFound) {
				return &exitError{code: 1, err: fmt.Errorf("%s: %w", args[1], err)}
			}
			if err != nil {
				return err
			}
			s, err := yamlpath.Format(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newSetVCFSampleIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-vcf-sample-id ORIGINAL_ID NEW_ID",
		Short: "Rewrite the sample id of a VCF header from stdin to stdout",
		Long:  "Rewrite the sample id of a VCF header. ORIGINAL_ID may be empty to skip the check.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("input")
			out, _ := cmd.Flags().GetString("output")

			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var w io.Writer = cmd.OutOrStdout()
			var outFile *os.File
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				outFile = f
				w = f
			}
			st, err := vcf.SetSampleID(r, w, args[0], args[1])
			if outFile != nil {
				if cerr := outFile.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("close %s: %w", out, cerr)
				}
			}
			if err != nil {
				return err
			}
			log.Debug().Int("lines", st.Lines).Int("changed", st.Changed).Msg("Rewrote VCF header")
			return nil
		},
	}
	cmd.Flags().String("input", "-", "input VCF (- for stdin)")
	cmd.Flags().String("output", "-", "output VCF (- for stdout)")
	return cmd
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff LEFT RIGHT",
		Short: "Count the lines that differ between two files; exits 1 when any do",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer left.Close()
			right, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer right.Close()
			n, err := vcf.CountDifferences(left, right)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			if n > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d differing lines", n)}
			}
			return nil
		},
	}
}

// readDocument reads stdin for "-", the file when arg names one, and
// otherwise takes arg as the document text.
func readDocument(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	if fi, err := os.Stat(arg); err == nil && fi.Mode().IsRegular() {
		return os.ReadFile(arg)
	}
	return []byte(arg), nil
}

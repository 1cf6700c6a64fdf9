package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/pkg/edid"
	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

func (c *cli) edidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edid",
		Short: "Read, parse and rewrite monitor EDIDs",
	}

	cmd.AddCommand(c.edidReadCmd())
	cmd.AddCommand(c.edidParseCmd())
	cmd.AddCommand(c.edidExportCmd())
	cmd.AddCommand(c.edidValidateCmd())
	cmd.AddCommand(c.edidOverrideCmd())

	return cmd
}

func (c *cli) edidReadCmd() *cobra.Command {
	var displayIndex int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read and decode the EDID of a connected display",
		Long: `Read the EDID of a display through the bound display backend and print
its summary.

Examples:
  gpuctl edid read --display 0
  gpuctl edid read --display 1 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			raw, err := app.dispatcher.ReadEDID(cmd.Context(), displayIndex)
			if err != nil {
				return fmt.Errorf("failed to read EDID: %w", err)
			}
			info, err := parser.Parse(raw)
			if err != nil {
				return err
			}
			return c.printEDID(cmd.OutOrStdout(), info)
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")

	return cmd
}

func (c *cli) edidParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Decode an EDID file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := edid.ImportFromFile(args[0])
			if err != nil {
				return err
			}
			return c.printEDID(cmd.OutOrStdout(), info)
		},
	}

	return cmd
}

func (c *cli) edidExportCmd() *cobra.Command {
	var (
		displayIndex int
		output       string
		sample       bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save a display EDID to a file",
		Long: `Save the raw EDID bytes of a display to a file, unchanged.

Examples:
  gpuctl edid export --display 0 --output monitor.bin
  gpuctl edid export --sample --output sample.bin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var raw []byte
			if sample {
				raw = edid.Sample()
			} else {
				app, err := c.open(cmd.Context())
				if err != nil {
					return err
				}
				defer app.Close()

				raw, err = app.dispatcher.ReadEDID(cmd.Context(), displayIndex)
				if err != nil {
					return fmt.Errorf("failed to read EDID: %w", err)
				}
			}

			info, err := parser.Parse(raw)
			if err != nil {
				return err
			}
			if err := edid.ExportToFile(info, output); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(info.Raw), output)
			if !info.Valid {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning: base block checksum is invalid")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")
	cmd.Flags().StringVarP(&output, "output", "o", "edid.bin", "Output file")
	cmd.Flags().BoolVar(&sample, "sample", false, "Export the built-in sample EDID instead of reading a display")

	return cmd
}

func (c *cli) edidValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check the checksum of an EDID file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := edid.ValidateFile(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: checksum mismatch", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}

	return cmd
}

func (c *cli) edidOverrideCmd() *cobra.Command {
	var (
		input        string
		output       string
		forced       string
		supplemental []string
		cfg          edid.OverrideConfig
	)

	cmd := &cobra.Command{
		Use:   "override",
		Short: "Build an EDID override with a forced or extra resolutions",
		Long: `Rewrite an EDID so the display advertises a forced preferred mode and
extra standard timings. Without --input the EDID is read from the display.

Examples:
  gpuctl edid override --display 1 --forced 2560x1440@144 --output override.bin
  gpuctl edid override --input monitor.bin --add 1600x900@60 --add 1280x1024@75`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if forced != "" {
				r, err := (&resolutionFlags{}).build(forced)
				if err != nil {
					return err
				}
				cfg.Forced = &r
			}
			for _, mode := range supplemental {
				r, err := (&resolutionFlags{}).build(mode)
				if err != nil {
					return err
				}
				cfg.Resolutions = append(cfg.Resolutions, r)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			info, source, err := c.overrideSource(cmd, input, cfg.DisplayIndex)
			if err != nil {
				return err
			}

			override, err := edid.BuildOverride(info, cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, override.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write override: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote override of %s to %s\n", source, output)
			for _, r := range override.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipped %s: no free standard timing slot\n", r)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "EDID file to rewrite instead of reading the display")
	cmd.Flags().IntVarP(&cfg.DisplayIndex, "display", "d", 0, "Display whose EDID is rewritten")
	cmd.Flags().StringVarP(&output, "output", "o", "override.bin", "Output file")
	cmd.Flags().StringVar(&forced, "forced", "", "Preferred mode, WIDTHxHEIGHT[@REFRESH]")
	cmd.Flags().StringArrayVar(&supplemental, "add", nil, "Extra mode to advertise, repeatable")
	cmd.MarkFlagsMutuallyExclusive("input", "display")

	return cmd
}

// overrideSource loads the EDID an override starts from: the input file
// when one is given, the display's own EDID otherwise.
func (c *cli) overrideSource(cmd *cobra.Command, input string, display int) (*parser.Info, string, error) {
	if input != "" {
		info, err := edid.ImportFromFile(input)
		return info, input, err
	}

	app, err := c.open(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	defer app.Close()

	raw, err := app.dispatcher.ReadEDID(cmd.Context(), display)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read EDID: %w", err)
	}
	info, err := parser.Parse(raw)
	if err != nil {
		return nil, "", err
	}
	return info, fmt.Sprintf("display %d", display), nil
}

func (c *cli) printEDID(w io.Writer, info *parser.Info) error {
	summary := edid.Summarize(info)
	if c.jsonOutput {
		return printJSON(w, struct {
			Summary edid.Summary `json:"summary"`
			Info    *parser.Info `json:"info"`
		}{summary, info})
	}

	modes := make([]string, 0, len(info.Modes()))
	for _, m := range info.Modes() {
		modes = append(modes, m.String())
	}

	renderKV(w, [][2]string{
		{"Manufacturer", summary.Manufacturer},
		{"Product", summary.ProductCode},
		{"Serial", summary.SerialNumber},
		{"Monitor", summary.MonitorName},
		{"Manufactured", summary.ManufactureDate},
		{"EDID version", summary.Version},
		{"Preferred", summary.PreferredResolution},
		{"Maximum", summary.MaxResolution},
		{"Color depth", summary.ColorDepth},
		{"Interface", summary.Interface},
		{"Screen size", summary.ScreenSize},
		{"DPMS", strings.Join(summary.DPMS, ", ")},
		{"Audio", fmt.Sprint(summary.Audio)},
		{"HDR", fmt.Sprint(summary.HDR)},
		{"Extensions", fmt.Sprint(summary.Extensions)},
		{"Checksum", status(summary.Valid)},
		{"Modes", truncate(strings.Join(modes, " "), 80)},
	})
	return nil
}

// modeName formats a resolution the way the CLI accepts it
func modeName(r resolution.CustomResolution) string {
	return fmt.Sprintf("%dx%d@%d", r.Width, r.Height, r.RefreshRate)
}

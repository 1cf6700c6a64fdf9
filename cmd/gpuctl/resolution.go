package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

func (c *cli) resolutionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resolution",
		Aliases: []string{"res"},
		Short:   "Manage custom display resolutions",
		Long:    "List, add, apply and remove custom resolutions through the bound display backend",
	}

	cmd.AddCommand(c.resolutionListCmd())
	cmd.AddCommand(c.resolutionAddCmd())
	cmd.AddCommand(c.resolutionApplyCmd())
	cmd.AddCommand(c.resolutionRemoveCmd())
	cmd.AddCommand(c.resolutionTimingCmd())

	return cmd
}

func (c *cli) resolutionListCmd() *cobra.Command {
	var displayIndex int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the modes of a display",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			modes := app.dispatcher.ListResolutions(cmd.Context(), displayIndex)
			if c.jsonOutput {
				if modes == nil {
					modes = []display.Mode{}
				}
				return printJSON(cmd.OutOrStdout(), modes)
			}
			if len(modes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No resolutions found")
				return nil
			}

			rows := make([][]string, 0, len(modes))
			for _, m := range modes {
				flags := ""
				if m.Active {
					flags = "active"
				}
				if m.Preferred {
					if flags != "" {
						flags += ", "
					}
					flags += "preferred"
				}
				rows = append(rows, []string{
					m.Name,
					modeName(m.CustomResolution),
					m.AspectRatio(),
					fmt.Sprintf("%d-bit", m.ColorDepth),
					string(m.TimingStandard),
					string(m.Scaling),
					flags,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Display %d (%s backend)\n", displayIndex, app.dispatcher.Backend())
			renderTable(cmd.OutOrStdout(),
				[]string{"Name", "Mode", "Aspect", "Depth", "Timing", "Scaling", ""}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")

	return cmd
}

func addResolutionFlags(cmd *cobra.Command, f *resolutionFlags) {
	cmd.Flags().IntVarP(&f.refresh, "refresh", "r", 0, "Refresh rate in Hz (default 60)")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "Color depth: 8, 16, 24 or 32 (default 32)")
	cmd.Flags().StringVar(&f.timing, "timing", "", "Timing standard: Automatic, CVT, CVT-RB, GTF or Manual")
	cmd.Flags().StringVar(&f.scaling, "scaling", "", `Scaling: "No scaling", "Aspect ratio", "Full-screen" or "Center"`)
	cmd.Flags().StringVar(&f.name, "name", "", "Mode name (default WIDTHxHEIGHT@REFRESHHz)")
}

func (c *cli) resolutionAddCmd() *cobra.Command {
	var (
		displayIndex int
		flags        resolutionFlags
	)

	cmd := &cobra.Command{
		Use:   "add <WIDTHxHEIGHT[@REFRESH]>",
		Short: "Add a custom resolution",
		Long: `Add a custom resolution to a display. Adding a mode that is already
listed with the same attributes succeeds without changes.

Examples:
  gpuctl resolution add 2560x1080@75
  gpuctl resolution add 1920x1080 --refresh 144 --timing CVT-RB --display 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.build(args[0])
			if err != nil {
				return err
			}
			for _, w := range resolution.Validate(r).Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.dispatcher.AddResolution(cmd.Context(), r, displayIndex); err != nil {
				return fmt.Errorf("failed to add resolution: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s to display %d\n", r, displayIndex)
			return nil
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")
	addResolutionFlags(cmd, &flags)

	return cmd
}

func (c *cli) resolutionApplyCmd() *cobra.Command {
	var (
		displayIndex int
		flags        resolutionFlags
	)

	cmd := &cobra.Command{
		Use:   "apply <WIDTHxHEIGHT[@REFRESH]>",
		Short: "Switch a display to a resolution, adding it first if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.build(args[0])
			if err != nil {
				return err
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.dispatcher.ApplyResolution(cmd.Context(), r, displayIndex); err != nil {
				return fmt.Errorf("failed to apply resolution: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Display %d now running %s\n", displayIndex, r)
			return nil
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")
	addResolutionFlags(cmd, &flags)

	return cmd
}

func (c *cli) resolutionRemoveCmd() *cobra.Command {
	var displayIndex int

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a custom resolution by name",
		Long: `Remove a custom resolution. Removing the active mode switches the display
to the first remaining mode.

Examples:
  gpuctl resolution remove 2560x1080@75Hz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.dispatcher.RemoveResolution(cmd.Context(), args[0], displayIndex); err != nil {
				return fmt.Errorf("failed to remove resolution: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from display %d\n", args[0], displayIndex)
			return nil
		},
	}

	cmd.Flags().IntVarP(&displayIndex, "display", "d", 0, "Display index")

	return cmd
}

func (c *cli) resolutionTimingCmd() *cobra.Command {
	var flags resolutionFlags

	cmd := &cobra.Command{
		Use:   "timing <WIDTHxHEIGHT[@REFRESH]>",
		Short: "Show the generated timing and modeline of a resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.build(args[0])
			if err != nil {
				return err
			}
			t, err := resolution.GenerateTiming(r)
			if err != nil {
				return err
			}
			modeline, err := resolution.Modeline(r)
			if err != nil {
				return err
			}

			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), struct {
					Resolution resolution.CustomResolution `json:"resolution"`
					Timing     resolution.Timing           `json:"timing"`
					Modeline   string                      `json:"modeline"`
				}{r, t, modeline})
			}
			renderKV(cmd.OutOrStdout(), [][2]string{
				{"Standard", string(t.Standard)},
				{"Pixel clock", fmt.Sprintf("%.2f MHz", t.PixelClockMHz())},
				{"Horizontal", fmt.Sprintf("%d %d %d %d", t.HActive, t.HSyncStart, t.HSyncEnd, t.HTotal)},
				{"Vertical", fmt.Sprintf("%d %d %d %d", t.VActive, t.VSyncStart, t.VSyncEnd, t.VTotal)},
				{"Refresh", fmt.Sprintf("%.3f Hz", t.RefreshHz())},
				{"Line rate", fmt.Sprintf("%.3f kHz", t.HorizontalKHz())},
				{"Modeline", modeline},
			})
			return nil
		},
	}

	addResolutionFlags(cmd, &flags)

	return cmd
}

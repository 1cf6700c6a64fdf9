package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/pkg/gpu"
)

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change GPU settings",
	}

	cmd.AddCommand(c.settingsGetCmd())
	cmd.AddCommand(c.settingsSetCmd())
	cmd.AddCommand(c.settingsOptimizeCmd())

	return cmd
}

func (c *cli) settingsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show current GPU settings and telemetry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.facade.GetSettings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read settings: %w", err)
			}
			return c.printSettings(cmd.OutOrStdout(), s)
		},
	}

	return cmd
}

// patchFlags collects a settings patch from flags or a JSON file
type patchFlags struct {
	power   string
	texture string
	vsync   string
	file    string
}

func addPatchFlags(cmd *cobra.Command, f *patchFlags) {
	cmd.Flags().StringVar(&f.power, "power", "", `Power mode: "Optimal Power", "Balanced" or "Prefer Maximum Performance"`)
	cmd.Flags().StringVar(&f.texture, "texture", "", `Texture filtering: "Quality", "Balanced", "Performance" or "High Quality"`)
	cmd.Flags().StringVar(&f.vsync, "vsync", "", `Vertical sync: "Off", "On", "Adaptive" or "Fast"`)
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the patch from a JSON file")
}

func (f *patchFlags) build(cmd *cobra.Command) (gpu.Patch, error) {
	var p gpu.Patch
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return gpu.Patch{}, fmt.Errorf("failed to read patch file: %w", err)
		}
		p, err = gpu.ParsePatch(data)
		if err != nil {
			return gpu.Patch{}, err
		}
	}

	if cmd.Flags().Changed("power") {
		v := gpu.PowerMode(f.power)
		p.PowerMode = &v
	}
	if cmd.Flags().Changed("texture") {
		v := gpu.TextureFiltering(f.texture)
		p.TextureFiltering = &v
	}
	if cmd.Flags().Changed("vsync") {
		v := gpu.VerticalSync(f.vsync)
		p.VerticalSync = &v
	}

	if p.Empty() {
		return gpu.Patch{}, fmt.Errorf("nothing to change: pass --power, --texture, --vsync or --file")
	}
	if err := p.Validate(); err != nil {
		return gpu.Patch{}, err
	}
	return p, nil
}

func (c *cli) settingsSetCmd() *cobra.Command {
	var flags patchFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change GPU settings",
		Long: `Change one or more GPU settings. Every value is validated before any
setting is written.

Examples:
  gpuctl settings set --power "Prefer Maximum Performance"
  gpuctl settings set --texture Performance --vsync Off
  gpuctl settings set --file patch.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := flags.build(cmd)
			if err != nil {
				return err
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.facade.SetSettings(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("failed to change settings: %w", err)
			}
			return c.printSettings(cmd.OutOrStdout(), s)
		},
	}

	addPatchFlags(cmd, &flags)

	return cmd
}

func (c *cli) settingsOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Apply the AI workload preset",
		Long: `Apply maximum performance power management, performance texture
filtering and disable vertical sync.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.facade.OptimizeForAI(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to optimize settings: %w", err)
			}
			return c.printSettings(cmd.OutOrStdout(), s)
		},
	}

	return cmd
}

func (c *cli) printSettings(w io.Writer, s gpu.Settings) error {
	if c.jsonOutput {
		return printJSON(w, s)
	}
	renderKV(w, [][2]string{
		{"GPU", fmt.Sprintf("%d: %s", s.GPU, s.Name)},
		{"Driver", s.DriverVersion},
		{"Power mode", string(s.PowerMode)},
		{"Texture filtering", string(s.TextureFiltering)},
		{"Vertical sync", string(s.VerticalSync)},
		{"GPU clock", fmt.Sprintf("%d MHz", s.GraphicsClockMHz)},
		{"Memory clock", fmt.Sprintf("%d MHz", s.MemoryClockMHz)},
		{"Temperature", fmt.Sprintf("%d C", s.TemperatureC)},
		{"Utilization", fmt.Sprintf("%d%%", s.UtilizationPct)},
		{"Power draw", fmt.Sprintf("%.1f W", s.PowerDrawW)},
		{"Fan speed", fmt.Sprintf("%d%%", s.FanSpeedPct)},
		{"Source", s.Source},
	})
	return nil
}

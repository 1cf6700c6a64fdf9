package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/pkg/db"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
)

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved settings profiles",
	}

	cmd.AddCommand(c.profileCreateCmd())
	cmd.AddCommand(c.profileListCmd())
	cmd.AddCommand(c.profileShowCmd())
	cmd.AddCommand(c.profileApplyCmd())
	cmd.AddCommand(c.profileDeleteCmd())

	return cmd
}

func (c *cli) profileCreateCmd() *cobra.Command {
	var (
		description string
		tags        []string
		flags       patchFlags
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Save a settings profile",
		Long: `Save a named settings patch for later use.

Examples:
  gpuctl profile create training --power "Prefer Maximum Performance" --vsync Off --tag ml
  gpuctl profile create quiet --power "Optimal Power" --desc "Night time"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := flags.build(cmd)
			if err != nil {
				return err
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			p := &profile.Profile{
				Name:        args[0],
				Description: description,
				Tags:        tags,
				Settings:    patch,
			}
			if err := app.profiles.Create(cmd.Context(), p); err != nil {
				return fmt.Errorf("failed to create profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created profile '%s' (ID: %s)\n", p.Name, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "desc", "d", "", "Profile description")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Profile tags")
	addPatchFlags(cmd, &flags)

	return cmd
}

func (c *cli) profileListCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			profiles, err := app.profiles.List(cmd.Context(), tag)
			if err != nil {
				return fmt.Errorf("failed to list profiles: %w", err)
			}
			if c.jsonOutput {
				if profiles == nil {
					profiles = []*profile.Profile{}
				}
				return printJSON(cmd.OutOrStdout(), profiles)
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles found")
				return nil
			}

			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, []string{
					p.Name,
					describePatch(p.Settings),
					strings.Join(p.Tags, ","),
					truncate(p.Description, 30),
					p.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"Name", "Settings", "Tags", "Description", "Updated"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Only show profiles with this tag")

	return cmd
}

func (c *cli) profileShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a profile and its recent applications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			p, err := app.profiles.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			history, err := app.profiles.History(cmd.Context(), p.Name, limit)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}

			if c.jsonOutput {
				if history == nil {
					history = []*db.Application{}
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Profile *profile.Profile  `json:"profile"`
					History []*db.Application `json:"history"`
				}{p, history})
			}

			renderKV(cmd.OutOrStdout(), [][2]string{
				{"Name", p.Name},
				{"ID", p.ID},
				{"Description", p.Description},
				{"Tags", strings.Join(p.Tags, ", ")},
				{"Settings", describePatch(p.Settings)},
				{"Created", p.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				{"Updated", p.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
			})
			if len(history) > 0 {
				renderApplications(cmd.OutOrStdout(), history)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "history", 10, "Number of recent applications to show")

	return cmd
}

func (c *cli) profileApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <name>",
		Short: "Apply a profile to the GPU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.profiles.Apply(cmd.Context(), args[0], app.facade, profile.ApplyOptions{Source: db.SourceCLI})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied profile '%s'\n", args[0])
			return c.printSettings(cmd.OutOrStdout(), s)
		},
	}

	return cmd
}

func (c *cli) profileDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Long: `Delete a profile. Its application history is kept.

Examples:
  gpuctl profile delete training
  gpuctl profile delete training --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if !force {
				if _, err := app.profiles.Get(cmd.Context(), args[0]); err != nil {
					return err
				}
				if !confirm(cmd, fmt.Sprintf("Delete profile '%s'?", args[0])) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			if err := app.profiles.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, profile.ErrNotFound) {
					return err
				}
				return fmt.Errorf("failed to delete profile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile '%s'\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")

	return cmd
}

// describePatch renders the fields a patch sets
func describePatch(p gpu.Patch) string {
	var parts []string
	if p.PowerMode != nil {
		parts = append(parts, "power="+string(*p.PowerMode))
	}
	if p.TextureFiltering != nil {
		parts = append(parts, "texture="+string(*p.TextureFiltering))
	}
	if p.VerticalSync != nil {
		parts = append(parts, "vsync="+string(*p.VerticalSync))
	}
	return strings.Join(parts, " ")
}

// confirm asks a yes/no question on the command's input
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		// Treat any error as a "no" response
		return false
	}
	return strings.EqualFold(answer, "y")
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignatij/coachflow/internal/catalog"
	internal_http "github.com/ignatij/coachflow/internal/http"
	"github.com/ignatij/coachflow/internal/log"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./coachflow.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database DSN (overrides DB_DSN)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite or postgres (overrides DB_DRIVER)")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		packsCmd(),
		engagementsCmd(),
		seedCmd(),
		workflowsCmd(),
		restoreCmd(),
		assignCmd(),
		assignmentStatusCmd(),
		runCmd(),
		tickCmd(),
		serveCmd(),
	)
}

func packsCmd() *cobra.Command {
	packs := &cobra.Command{Use: "packs", Short: "Manage program packs"}

	install := &cobra.Command{
		Use:   "install",
		Short: "Install the built-in packs, or the packs given with --file",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			files, _ := cmd.Flags().GetStringSlice("file")
			var defs []catalog.PackDef
			if len(files) == 0 {
				builtin, err := catalog.Builtin()
				if err != nil {
					return err
				}
				defs = builtin
			}
			for _, f := range files {
				def, err := catalog.LoadFile(f)
				if err != nil {
					return err
				}
				defs = append(defs, def)
			}
			installed, err := catalog.Install(ctx, app.Store, log.GetLogger(), defs...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d of %d packs\n", len(installed), len(defs))
			return nil
		}),
	}
	install.Flags().StringSlice("file", nil, "Pack definition YAML file (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List installed packs",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			packs, err := app.Service.Packs.ListPacks(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(packs) == 0 {
				fmt.Fprintln(out, "No packs installed.")
				return nil
			}
			for _, p := range packs {
				fmt.Fprintf(out, "- %s: %s\n", p.Key, p.Name)
			}
			return nil
		}),
	}

	templates := &cobra.Command{
		Use:   "templates [pack-key]",
		Short: "List the active templates of a pack",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			templates, err := app.Service.Packs.ResolveActiveTemplates(ctx, args[0])
			if err != nil {
				return err
			}
			for _, t := range templates {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s %s (%s, %d steps)\n", t.ID, t.Name, t.WorkflowType, len(t.Steps))
			}
			return nil
		}),
	}

	packs.AddCommand(install, list, templates)
	return packs
}

func engagementsCmd() *cobra.Command {
	engagements := &cobra.Command{Use: "engagements", Short: "Register coaching engagements"}
	add := &cobra.Command{
		Use:   "add [id]",
		Short: "Register an engagement owned by the surrounding application",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			name, _ := cmd.Flags().GetString("name")
			company, _ := cmd.Flags().GetString("company")
			if org == "" {
				return errors.New("--org is required")
			}
			e := models.Engagement{ID: args[0], CoachingOrgID: org, Name: name}
			if company != "" {
				e.CompanyID = &company
			}
			if err := app.Store.SaveEngagement(ctx, e); err != nil {
				return errors.Wrapf(err, "failed to save engagement %s", e.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered engagement %s\n", e.ID)
			return nil
		}),
	}
	add.Flags().String("org", "", "Coaching org id")
	add.Flags().String("name", "", "Engagement name")
	add.Flags().String("company", "", "Linked company id")
	engagements.AddCommand(add)
	return engagements
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [org-id] [pack-key]",
		Short: "Provision the org workflows of a pack",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			result, err := app.Service.Provisioner.SeedFromPack(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pack '%s' for org %s: %s\n", result.PackKey, result.OrgID, result.Summary())
			for _, s := range result.Seeded {
				fmt.Fprintf(out, "- seeded %s %s (locked: %t, %d steps)\n", s.WorkflowID, s.Name, s.IsLocked, s.StepCount)
			}
			for _, f := range result.Failed {
				fmt.Fprintf(out, "- failed %s: %s\n", f.Name, f.Message)
			}
			return nil
		}),
	}
}

func workflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows [org-id]",
		Short: "List the workflows of an org",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			workflows, err := app.Service.Editor.ListWorkflows(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(workflows) == 0 {
				fmt.Fprintln(out, "No workflows found.")
				return nil
			}
			for _, wf := range workflows {
				fmt.Fprintf(out, "- %s %s (%s, active: %t, locked: %t)\n", wf.ID, wf.Name, wf.WorkflowType, wf.IsActive, wf.IsLocked)
			}
			return nil
		}),
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [workflow-id]",
		Short: "Reset a workflow to its source pack template",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			wf, err := app.Service.Editor.RestoreFromPack(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored workflow %s '%s' with %d steps\n", wf.ID, wf.Name, len(wf.Steps))
			return nil
		}),
	}
}

func assignCmd() *cobra.Command {
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Assign a pack template to an engagement",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			flags := cmd.Flags()
			engagement, _ := flags.GetString("engagement")
			template, _ := flags.GetString("template")
			cadence, _ := flags.GetString("cadence")
			startOn, _ := flags.GetString("start-on")
			timezone, _ := flags.GetString("timezone")
			name, _ := flags.GetString("name")
			createdBy, _ := flags.GetString("created-by")

			start, err := internal_http.ParseDate(startOn)
			if err != nil {
				return errors.Wrapf(err, "invalid --start-on %q", startOn)
			}
			a, err := app.Service.Assignments.CreateAssignment(ctx, service.AssignmentRequest{
				EngagementID:    engagement,
				TemplateID:      template,
				Cadence:         models.Cadence(cadence),
				StartOn:         start,
				NameOverride:    name,
				Timezone:        timezone,
				CreatedByUserID: createdBy,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s assignment %s\n", a.Cadence, a.ID)
			return nil
		}),
	}
	f := assign.Flags()
	f.String("engagement", "", "Coaching engagement id")
	f.String("template", "", "Pack template id")
	f.String("cadence", string(models.OneTimeCadence), "one_time, weekly, monthly, quarterly or annually")
	f.String("start-on", time.Now().UTC().Format(time.DateOnly), "First occurrence date")
	f.String("timezone", "", "IANA timezone (default DEFAULT_TIMEZONE)")
	f.String("name", "", "Name override")
	f.String("created-by", "", "Operator user id")
	return assign
}

func assignmentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assignment-status [assignment-id] [active|paused|archived]",
		Short: "Change an assignment's status",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			a, err := app.Service.Assignments.SetStatus(ctx, args[0], models.AssignmentStatus(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Assignment %s is %s\n", a.ID, a.Status)
			return nil
		}),
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [assignment-id]",
		Short: "Generate a run of an assignment now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			result, err := app.Service.Runs.GenerateRun(ctx, args[0])
			if err != nil {
				return err
			}
			printRun(cmd, result)
			return nil
		}),
	}
}

func printRun(cmd *cobra.Command, result service.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", result.Run.ID, result.Summary())
	for _, o := range result.Outcomes {
		switch o.Status {
		case service.CreatedStepOutcome:
			fmt.Fprintf(out, "- step %d %s: created %s %s\n", o.StepOrder, o.ItemType, o.Table, o.EntityID)
		default:
			fmt.Fprintf(out, "- step %d %s: %s (%s)\n", o.StepOrder, o.ItemType, o.Status, o.Reason)
		}
	}
}

func tickCmd() *cobra.Command {
	tick := &cobra.Command{
		Use:   "tick",
		Short: "Generate runs for every due assignment",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return errors.Wrapf(err, "invalid --at %q", at)
				}
				now = parsed
			}
			report, err := app.Service.Ticker.Tick(ctx, now)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Summary())
			for _, r := range report.Results {
				if r.Error != "" {
					fmt.Fprintf(out, "- %s: %s\n", r.AssignmentID, r.Error)
					continue
				}
				if r.Run == nil {
					fmt.Fprintf(out, "- %s: skipped\n", r.AssignmentID)
					continue
				}
				fmt.Fprintf(out, "- %s: %s\n", r.AssignmentID, r.Run.Summary())
			}
			return nil
		}),
	}
	tick.Flags().String("at", "", "Evaluate due assignments at this RFC 3339 time (default now)")
	return tick
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			e := internal_http.NewServer(app.Service, app.Recorder.Handler())
			return internal_http.StartServer(ctx, app.Config.HTTPAddr(), e)
		}),
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"craftline/internal/app"
	"craftline/internal/config"
	"craftline/internal/domain"
	"craftline/internal/engine"
	"craftline/internal/product"
	"craftline/internal/repo"
	"craftline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "craft",
	Short: "Craftline CLI",
	Long: `Craftline schedules small-batch production.
Recipes describe how an output is made: the materials and intermediates
consumed, the step list, and the yield per batch. Daily plans collect
recipe quantities, get approved, and are scheduled into coded work
orders. Recording steps on a work order drives it through its
lifecycle; the final step captures the real output quantity. Every
change lands in the event log ('craft log tail').`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CRAFTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(recipeCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(woCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func recipeCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "recipe",
		Short: "Manage recipes",
		Long:  "Recipes are the bill of materials plus the step list for one output. A line can point at a material or at another recipe's product, so requirements flatten recursively.",
	}
	rec.AddCommand(recipeCreateCmd())
	rec.AddCommand(recipeListCmd())
	rec.AddCommand(recipeShowCmd())
	rec.AddCommand(recipeUpdateCmd())
	return rec
}

func recipeCreateCmd() *cobra.Command {
	var code, name, outputKind, outputID, outputQty, workCenter string
	var steps, lines []string
	var leadTimeDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(outputQty)
			if err != nil {
				return fmt.Errorf("invalid --output-qty %q: %w", outputQty, err)
			}
			parsed, err := parseLineFlags(lines)
			if err != nil {
				return err
			}
			opts := engine.RecipeCreateOptions{
				Code:           code,
				Name:           name,
				Output:         domain.ItemRef{Kind: outputKind, ID: outputID},
				OutputQuantity: qty,
				Steps:          steps,
				LeadTimeDays:   leadTimeDays,
				WorkCenter:     workCenter,
				ActorID:        viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.Lines, err = resolveLines(ctx, e, parsed); err != nil {
					return err
				}
				rec, err := e.CreateRecipe(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "recipe code")
	cmd.Flags().StringVar(&name, "name", "", "recipe name")
	cmd.Flags().StringVar(&outputKind, "output-kind", "product", "output kind (material or product)")
	cmd.Flags().StringVar(&outputID, "output-id", "", "output item id")
	cmd.Flags().StringVar(&outputQty, "output-qty", "1", "output quantity per batch")
	cmd.Flags().StringArrayVar(&steps, "step", []string{}, "production step in order (repeatable)")
	cmd.Flags().IntVar(&leadTimeDays, "lead-time-days", 0, "days of lead before the plan date")
	cmd.Flags().StringVar(&workCenter, "work-center", "", "default work center")
	cmd.Flags().StringArrayVar(&lines, "line", []string{}, "consumed line kind:id:qty[:unit[:location]] (repeatable)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("output-id")
	return cmd
}

func recipeListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRecipes(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Output", "Yield", "Steps", "Active"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.Code, rec.Name, rec.OutputID, rec.OutputQuantity.String(), len(rec.Steps), rec.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active recipes")
	return cmd
}

func recipeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := resolveRecipe(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func recipeUpdateCmd() *cobra.Command {
	var name, outputQty, workCenter string
	var steps, lines []string
	var leadTimeDays int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id-or-code>",
		Short: "Update a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := resolveRecipe(ctx, e, args[0])
				if err != nil {
					return err
				}
				opts := engine.RecipeUpdateOptions{
					ID:      rec.ID,
					Name:    name,
					ActorID: viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("step") {
					opts.Steps = steps
				}
				if cmd.Flags().Changed("output-qty") {
					qty, err := decimal.NewFromString(outputQty)
					if err != nil {
						return fmt.Errorf("invalid --output-qty %q: %w", outputQty, err)
					}
					opts.OutputQuantity = &qty
				}
				if cmd.Flags().Changed("lead-time-days") {
					opts.LeadTimeDays = &leadTimeDays
				}
				if cmd.Flags().Changed("work-center") {
					opts.WorkCenter = &workCenter
				}
				if cmd.Flags().Changed("active") {
					opts.Active = &active
				}
				if cmd.Flags().Changed("line") {
					parsed, err := parseLineFlags(lines)
					if err != nil {
						return err
					}
					if opts.Lines, err = resolveLines(ctx, e, parsed); err != nil {
						return err
					}
				}
				updated, err := e.UpdateRecipe(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "recipe name")
	cmd.Flags().StringVar(&outputQty, "output-qty", "", "output quantity per batch")
	cmd.Flags().StringArrayVar(&steps, "step", []string{}, "replace the step list (repeatable)")
	cmd.Flags().IntVar(&leadTimeDays, "lead-time-days", 0, "days of lead before the plan date")
	cmd.Flags().StringVar(&workCenter, "work-center", "", "default work center")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	cmd.Flags().StringArrayVar(&lines, "line", []string{}, "replace lines kind:id:qty[:unit[:location]] (repeatable)")
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Manage daily plans",
		Long:  "Plans collect recipe quantities for one date. They move draft -> approved -> scheduled -> completed; only draft plans accept changes, and scheduling turns each line into a coded work order.",
	}
	plan.AddCommand(planAddCmd())
	plan.AddCommand(planListCmd())
	plan.AddCommand(planShowCmd())
	plan.AddCommand(planApproveCmd())
	plan.AddCommand(planScheduleCmd())
	plan.AddCommand(planCompleteCmd())
	plan.AddCommand(planIngredientsCmd())
	plan.AddCommand(planSuggestCmd())
	return plan
}

func planAddCmd() *cobra.Command {
	var recipeRef, qty, destination string
	var priority int
	cmd := &cobra.Command{
		Use:   "add <date>",
		Short: "Register a recipe quantity on the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("invalid --qty %q: %w", qty, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := resolveRecipe(ctx, e, recipeRef)
				if err != nil {
					return err
				}
				p, err := e.RegisterPlanItem(ctx, engine.PlanItemOptions{
					Date:        args[0],
					RecipeID:    rec.ID,
					Quantity:    quantity,
					Destination: destination,
					Priority:    priority,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&recipeRef, "recipe", "", "recipe id or code")
	cmd.Flags().StringVar(&qty, "qty", "", "planned quantity")
	cmd.Flags().StringVar(&destination, "destination", "", "destination outlet or store")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower schedules first)")
	_ = cmd.MarkFlagRequired("recipe")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func planListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPlans(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Status", "Items"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Date, p.Status, len(p.Items)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max plans")
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <date>",
		Short: "Show the plan for a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlanByDate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <date>",
		Short: "Approve the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ApprovePlan(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planScheduleCmd() *cobra.Command {
	var reserve bool
	cmd := &cobra.Command{
		Use:   "schedule <date>",
		Short: "Schedule the plan into work orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ScheduleOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("reserve") {
				opts.Reserve = &reserve
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Schedule(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if !res.Success {
					fmt.Println(res.Message)
					for _, s := range res.Shortages {
						fmt.Printf("  short %s/%s: need %s, have %s\n", s.Item.Kind, s.Item.ID, s.Required, s.Available)
					}
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Recipe", "Qty", "Start"})
				for _, wo := range res.WorkOrders {
					start := ""
					if wo.ScheduledStart != nil {
						start = *wo.ScheduledStart
					}
					tw.AppendRow(table.Row{wo.Code, wo.RecipeID, wo.PlannedQuantity.String(), start})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reserve, "reserve", false, "reserve input stock (overrides config)")
	return cmd
}

func planCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <date>",
		Short: "Complete the plan once all orders finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CompletePlan(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func planIngredientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingredients <date>",
		Short: "Flattened material requirements for the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqs, err := e.IngredientsForDate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reqs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Item", "Quantity", "Unit", "Location"})
				for _, req := range reqs {
					tw.AppendRow(table.Row{req.Item.Kind, req.Item.ID, req.Quantity.String(), req.Unit, req.Location})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func planSuggestCmd() *cobra.Command {
	var recipeRef string
	cmd := &cobra.Command{
		Use:   "suggest <date>",
		Short: "Suggest a quantity from production history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := resolveRecipe(ctx, e, recipeRef)
				if err != nil {
					return err
				}
				qty, err := e.SuggestedQuantity(ctx, rec.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"recipe_id": rec.ID,
					"date":      args[0],
					"quantity":  qty.String(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&recipeRef, "recipe", "", "recipe id or code")
	_ = cmd.MarkFlagRequired("recipe")
	return cmd
}

func woCmd() *cobra.Command {
	wo := &cobra.Command{
		Use:   "wo",
		Short: "Manage work orders",
		Long:  "Work orders carry one production run from pending through completion. Recording steps in recipe order is the usual driver: the first step starts the order and the last one completes it.",
	}
	wo.AddCommand(woCreateCmd())
	wo.AddCommand(woListCmd())
	wo.AddCommand(woShowCmd())
	wo.AddCommand(woStartCmd())
	wo.AddCommand(woStepCmd())
	wo.AddCommand(woPauseCmd())
	wo.AddCommand(woResumeCmd())
	wo.AddCommand(woCancelCmd())
	wo.AddCommand(woCompleteCmd())
	return wo
}

func woCreateCmd() *cobra.Command {
	var recipeRef, qty, destination, location, scheduledStart string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a standalone work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("invalid --qty %q: %w", qty, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := resolveRecipe(ctx, e, recipeRef)
				if err != nil {
					return err
				}
				wo, err := e.CreateWorkOrder(ctx, engine.WorkOrderCreateOptions{
					RecipeID:       rec.ID,
					Quantity:       quantity,
					Destination:    destination,
					Location:       location,
					ScheduledStart: scheduledStart,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	cmd.Flags().StringVar(&recipeRef, "recipe", "", "recipe id or code")
	cmd.Flags().StringVar(&qty, "qty", "", "planned quantity")
	cmd.Flags().StringVar(&destination, "destination", "", "destination outlet or store")
	cmd.Flags().StringVar(&location, "location", "", "production location")
	cmd.Flags().StringVar(&scheduledStart, "scheduled-start", "", "scheduled start (RFC 3339)")
	_ = cmd.MarkFlagRequired("recipe")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func woListCmd() *cobra.Command {
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Recipe", "Planned", "Actual", "Status"})
				for _, wo := range items {
					actual := ""
					if wo.ActualQuantity != nil {
						actual = wo.ActualQuantity.String()
					}
					tw.AppendRow(table.Row{wo.Code, wo.RecipeID, wo.PlannedQuantity.String(), actual, wo.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.RecipeID, "recipe", "", "recipe id filter")
	cmd.Flags().StringVar(&f.PlanID, "plan", "", "plan id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max orders")
	return cmd
}

func woShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wo, err := resolveWorkOrder(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wo)
			})
		},
	}
	return cmd
}

func woStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id-or-code>",
		Short: "Start a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.Start(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func woStepCmd() *cobra.Command {
	var step, qty string
	cmd := &cobra.Command{
		Use:   "step <id-or-code>",
		Short: "Record a production step",
		Long:  "Records progress with the counted quantity. Omitting --step records the next step in recipe order; the last step completes the order with its quantity as the real output.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("invalid --qty %q: %w", qty, err)
			}
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.RecordStep(ctx, id, engine.StepOptions{
					Step:     step,
					Quantity: quantity,
					ActorID:  viper.GetString("actor-id"),
				})
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "step name (defaults to the next unrecorded step)")
	cmd.Flags().StringVar(&qty, "qty", "", "counted quantity")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func woPauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <id-or-code>",
		Short: "Pause a running work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.Pause(ctx, id, reason, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason")
	return cmd
}

func woResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <id-or-code>",
		Short: "Resume a paused work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.Resume(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func woCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id-or-code>",
		Short: "Cancel a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.Cancel(ctx, id, reason, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func woCompleteCmd() *cobra.Command {
	var qty string
	cmd := &cobra.Command{
		Use:   "complete <id-or-code>",
		Short: "Complete a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var actual *decimal.Decimal
			if cmd.Flags().Changed("qty") {
				quantity, err := decimal.NewFromString(qty)
				if err != nil {
					return fmt.Errorf("invalid --qty %q: %w", qty, err)
				}
				actual = &quantity
			}
			return woAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.WorkOrder, error) {
				return e.Complete(ctx, id, actual, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&qty, "qty", "", "actual output quantity (defaults to last step count, then planned)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "craftline.yml holds code formats, recursion depth, the process-count step offset, scheduling and suggestion knobs, and webhook endpoints. Missing file means defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default craftline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: recipe edits, plan transitions, work order progress, completed production.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += "/" + evt.EntityID
					}
					tw.AppendRow(table.Row{strconv.FormatInt(evt.ID, 10), evt.TS, evt.Type, entity, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Open(viper.GetString("workspace"), nil)
			if err != nil {
				return err
			}
			defer c.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CRAFTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: true,
				EnableDevLogin:         devLogin,
				Logger:                 c.Log,
			}
			if authCfg.JWTSecret == "" {
				fmt.Println("warning: CRAFTLINE_JWT_SECRET not set, serving without auth")
			}
			handler, err := server.New(server.Config{Engine: c.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Craftline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	c, err := app.Open(viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c.Engine)
}

func woAction(ctx context.Context, ref string, fn func(context.Context, engine.Engine, string) (domain.WorkOrder, error)) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		wo, err := resolveWorkOrder(ctx, e, ref)
		if err != nil {
			return err
		}
		updated, err := fn(ctx, e, wo.ID)
		if err != nil {
			return err
		}
		return printJSONOrTable(updated)
	})
}

func resolveRecipe(ctx context.Context, e engine.Engine, ref string) (domain.Recipe, error) {
	rec, err := e.Repo.GetRecipe(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetRecipeByCode(ctx, ref)
	}
	return rec, err
}

func resolveWorkOrder(ctx context.Context, e engine.Engine, ref string) (domain.WorkOrder, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetWorkOrderByCode(ctx, ref)
	}
	return wo, err
}

// parseLineFlags parses repeated --line values of the form
// kind:id:qty[:unit[:location]]. Kind may be "sku", which defers to
// resolveLines once a store handle is open.
func parseLineFlags(values []string) ([]engine.RecipeLine, error) {
	lines := make([]engine.RecipeLine, 0, len(values))
	for _, raw := range values {
		parts := strings.SplitN(raw, ":", 5)
		if len(parts) < 3 {
			return nil, fmt.Errorf("invalid --line %q: want kind:id:qty[:unit[:location]]", raw)
		}
		qty, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid --line %q: bad quantity: %w", raw, err)
		}
		line := engine.RecipeLine{
			Item:     domain.ItemRef{Kind: parts[0], ID: parts[1]},
			Quantity: qty,
		}
		if len(parts) > 3 {
			line.Unit = parts[3]
		}
		if len(parts) > 4 {
			line.Location = parts[4]
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// resolveLines maps sku-kind line items to the output of the recipe
// carrying that code.
func resolveLines(ctx context.Context, e engine.Engine, lines []engine.RecipeLine) ([]engine.RecipeLine, error) {
	codes := product.Codes{Recipes: e.Repo}
	for i, ln := range lines {
		if ln.Item.Kind != "sku" {
			continue
		}
		item, err := codes.Resolve(ctx, ln.Item.ID)
		if err != nil {
			return nil, err
		}
		lines[i].Item = item
	}
	return lines, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

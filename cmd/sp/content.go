package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stillpoint/internal/app"
	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/importer"
	"stillpoint/internal/kinds"
	"stillpoint/internal/repo"
)

func contentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "content",
		Short: "Manage content",
		Long:  "Kinds: " + strings.Join(kinds.Names(), ", ") + ".",
	}
	c.AddCommand(contentCreateCmd())
	c.AddCommand(contentEditCmd())
	c.AddCommand(contentGetCmd())
	c.AddCommand(contentListCmd())
	c.AddCommand(contentDeleteCmd())
	c.AddCommand(contentApproveCmd())
	c.AddCommand(contentPendingCmd())
	c.AddCommand(contentImportCmd())
	return c
}

// readPayload takes the payload from --payload JSON or from --file ("-" is stdin).
func readPayload(raw, file string) (map[string]any, error) {
	data := []byte(raw)
	if file != "" {
		var err error
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("--payload or --file required")
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func contentCreateCmd() *cobra.Command {
	var kind, payload, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create content",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				c, err := rt.Engine.Create(ctx, kind, body, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringVar(&file, "file", "", "read the payload from a JSON file (- for stdin)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func contentEditCmd() *cobra.Command {
	var kind, id, payload, file, lifecycle, asserted, comment string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit content",
		Long:  "Pass --asserted-status approved when revising published content; a contributor's revision is then staged as a shadow draft for review.",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Edit(ctx, engine.EditOptions{
					Kind:           kind,
					ID:             id,
					Payload:        body,
					Lifecycle:      domain.LifecycleStatus(lifecycle),
					AssertedStatus: domain.ApprovalStatus(asserted),
					Comment:        optionalString(comment),
					Actor:          actor,
				})
				if err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeNotFound {
					return fmt.Errorf("%s %s not found", kind, id)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&id, "id", "", "content id")
	cmd.Flags().StringVar(&payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringVar(&file, "file", "", "read the payload from a JSON file (- for stdin)")
	cmd.Flags().StringVar(&lifecycle, "lifecycle", "", "active or inactive")
	cmd.Flags().StringVar(&asserted, "asserted-status", "", "status you believe the content has (draft or approved)")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment (reviewers only)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func contentGetCmd() *cobra.Command {
	var kind, id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show content with its approval record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				view, err := rt.Engine.Get(ctx, kind, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&id, "id", "", "content id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func contentListCmd() *cobra.Command {
	var kind, lifecycle, status string
	var f repo.ContentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List published content",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Lifecycle = domain.LifecycleStatus(lifecycle)
			f.Status = domain.ApprovalStatus(status)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				page, err := rt.Engine.List(ctx, kind, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": page.Items, "total": page.Total})
				}
				renderContent(page.Items)
				fmt.Printf("%d of %d\n", len(page.Items), page.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&f.Search, "q", "", "search text")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&f.ApprovedBy, "approved-by", "", "approver filter")
	cmd.Flags().StringVar(&f.FocusID, "focus-id", "", "focus tag filter")
	cmd.Flags().StringVar(&lifecycle, "lifecycle", "", "active or inactive")
	cmd.Flags().StringVar(&status, "status", "", "draft or approved (default: everything published)")
	cmd.Flags().StringVar(&f.Sort, "sort", "", "created_on, updated_on or display_name")
	cmd.Flags().StringVar(&f.Order, "order", "", "asc or desc")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func contentDeleteCmd() *cobra.Command {
	var kind, id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete content",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Delete(ctx, kind, id, actor)
				if err != nil {
					return err
				}
				if res.Outcome == engine.OutcomeNotFound {
					return fmt.Errorf("%s %s not found", kind, id)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&id, "id", "", "content id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func contentApproveCmd() *cobra.Command {
	var kind, id, comment string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a draft or promote a shadow draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Approve(ctx, kind, id, actor, optionalString(comment))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&id, "id", "", "draft or shadow id")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func contentPendingCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the review queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListPending(ctx, kind, actor, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderContent(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func contentImportCmd() *cobra.Command {
	var kind, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create content from a CSV file",
		Long:  "The header row names payload fields. List fields such as focus_ids and steps take ';'-separated values.",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				sum, err := importer.Import(ctx, rt.Engine, kind, f, actor)
				if viper.GetBool("json") {
					if perr := printJSON(sum); perr != nil {
						return perr
					}
					return err
				}
				fmt.Printf("created %d, failed %d\n", len(sum.Created), len(sum.Failed))
				if len(sum.Failed) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Line", "Error"})
					for _, row := range sum.Failed {
						tw.AppendRow(table.Row{row.Line, row.Error})
					}
					tw.Render()
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "content kind")
	cmd.Flags().StringVar(&file, "file", "", "CSV file")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func renderContent(items []domain.Content) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Draft", "Lifecycle", "Shadow Of", "Created By", "Updated"})
	for _, c := range items {
		parent := ""
		if c.ParentRef != nil {
			parent = *c.ParentRef
		}
		tw.AppendRow(table.Row{c.ID, c.DisplayName, c.IsDraft, c.LifecycleStatus, parent, c.CreatedBy, c.UpdatedOn})
	}
	tw.Render()
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	interests := &cobra.Command{Use: "interests", Short: "Focus tags a user follows"}
	interests.AddCommand(interestsSetCmd())
	interests.AddCommand(interestsGetCmd())
	u.AddCommand(interests)
	return u
}

func interestsSetCmd() *cobra.Command {
	var userID string
	var focusIDs []string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace a user's interests",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Engine.SetUserInterests(ctx, userID, focusIDs, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringSliceVar(&focusIDs, "focus", nil, "focus ids (repeat or comma-separate)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func interestsGetCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a user's interests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				out, err := rt.Engine.UserInterests(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

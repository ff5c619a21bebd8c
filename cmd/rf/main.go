package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rfpflow/internal/app"
	"rfpflow/internal/config"
	"rfpflow/internal/coordinator"
	"rfpflow/internal/db"
	"rfpflow/internal/domain"
	"rfpflow/internal/knowledge"
	"rfpflow/internal/lifecycle"
	"rfpflow/internal/mail"
	"rfpflow/internal/repo"
	"rfpflow/internal/server"
	"rfpflow/internal/validation"
)

var rootCmd = &cobra.Command{
	Use:   "rf",
	Short: "Rfpflow CLI",
	Long: `Rfpflow coordinates RFP responses from first email to submitted proposal.
- Workspace: the .rfpflow directory holding the database; config lives in rfpflow.yml.
- Project: one RFP, moving brief_writing -> brief_complete -> proposal_writing ->
  proposal_complete -> drafting -> submitted -> won/lost (abandoned is always reachable).
- Validations: questions emailed to a human; one pending per (project, resource),
  resolved by a response or a timeout sweep.
- Tracking: 'rf track run' nudges quiet projects, escalates stalls, and flags deadlines.
- Event log: diary of changes, view with 'rf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("RFPFLOW")
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
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(validationCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(capabilityCmd())
	rootCmd.AddCommand(trackCmd())
	rootCmd.AddCommand(knowledgeCmd())
	rootCmd.AddCommand(emailsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage RFP projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectSetStatusCmd())
	prj.AddCommand(projectDecisionCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var client, salesRep, lead, deadline, rfpFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in := lifecycleCreateInput(client, salesRep, lead, deadline)
				if rfpFile != "" {
					data, err := os.ReadFile(rfpFile)
					if err != nil {
						return err
					}
					in.RFPContent = string(data)
				}
				p, err := a.Lifecycle.Create(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&salesRep, "sales-rep", "", "sales rep email")
	cmd.Flags().StringVar(&lead, "lead", "", "project lead email")
	cmd.Flags().StringVar(&deadline, "deadline", "", "client deadline (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&rfpFile, "rfp-file", "", "path to the raw RFP text")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("sales-rep")
	return cmd
}

func projectListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects (active by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Project
				var err error
				if all {
					items, err = a.Lifecycle.List(ctx)
				} else {
					items, err = a.Lifecycle.ListActive(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Status", "Sales Rep", "Deadline", "Last Email"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ClientName, p.Status, p.SalesRepEmail, deref(p.Deadline), deref(p.LastEmailAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include submitted and terminal projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				snap, err := a.Lifecycle.Snapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(snap)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update project fields",
		Long:  "Set fields with repeated --set key=value. Known columns update in place; anything else merges into the project data.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseKeyValues(sets)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Lifecycle.Update(ctx, args[0], fields, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", []string{}, "field assignment key=value (repeatable)")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Project status summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Lifecycle.Get(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := a.Repo.CountValidationsByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":        p.ID,
					"client_name":       p.ClientName,
					"status":            p.Status,
					"validation_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s) for %s\n", p.ID, p.Status, p.ClientName)
				fmt.Println("Validations:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func projectSetStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Set project status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Lifecycle.SetStatus(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectDecisionCmd() *cobra.Command {
	var won, lost bool
	cmd := &cobra.Command{
		Use:   "decision <id>",
		Short: "Record win/loss for a submitted project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if won == lost {
				return fmt.Errorf("exactly one of --won or --lost is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Coordinator.RecordDecision(ctx, args[0], won)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&won, "won", false, "the client accepted")
	cmd.Flags().BoolVar(&lost, "lost", false, "the client declined")
	return cmd
}

func validationCmd() *cobra.Command {
	val := &cobra.Command{Use: "validation", Short: "Manage validation requests"}
	val.AddCommand(validationRequestCmd())
	val.AddCommand(validationRespondCmd())
	val.AddCommand(validationListCmd())
	val.AddCommand(validationShowCmd())
	return val
}

func validationRequestCmd() *cobra.Command {
	var resource, question, to string
	var timeoutHours int
	cmd := &cobra.Command{
		Use:   "request <project-id>",
		Short: "Email a validation question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Validations.Request(ctx, validation.RequestInput{
					ProjectID:    args[0],
					Resource:     resource,
					Question:     question,
					To:           to,
					TimeoutHours: timeoutHours,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "contact being asked, e.g. jane@example.com")
	cmd.Flags().StringVar(&question, "question", "", "question to ask")
	cmd.Flags().StringVar(&to, "to", "", "recipient override (defaults to the resource)")
	cmd.Flags().IntVar(&timeoutHours, "timeout-hours", 0, "per-request timeout (defaults to config)")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func validationRespondCmd() *cobra.Command {
	var resource, response string
	cmd := &cobra.Command{
		Use:   "respond <project-id>",
		Short: "Record a validation response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				err := a.Validations.Record(ctx, args[0], resource, response, nil, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Println("recorded")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource being validated")
	cmd.Flags().StringVar(&response, "response", "", "response text")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func validationListCmd() *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List validation requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.ValidationRequest
				var err error
				if pending {
					items, err = a.Validations.ListPending(ctx, args[0])
				} else {
					items, err = a.Validations.List(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Resource", "Status", "Sent", "Timeout"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.ResourceIdentifier, v.Status, v.SentAt, v.TimeoutAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "pending only, oldest first")
	return cmd
}

func validationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a validation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Validations.CheckStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func inboxCmd() *cobra.Command {
	inbox := &cobra.Command{Use: "inbox", Short: "Inbound email handling"}
	inbox.AddCommand(inboxRouteCmd())
	return inbox
}

func inboxRouteCmd() *cobra.Command {
	var from, subject, body, thread string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route one inbound email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Coordinator.Route(ctx, mail.Message{
					ID:       uuid.NewString(),
					ThreadID: thread,
					From:     from,
					Subject:  subject,
					Body:     body,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringVar(&thread, "thread", "", "thread id, if replying")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func capabilityCmd() *cobra.Command {
	capability := &cobra.Command{Use: "capability", Short: "Capability completion reporting"}
	capability.AddCommand(capabilityDoneCmd())
	return capability
}

func capabilityDoneCmd() *cobra.Command {
	var projectID, detail string
	var failed bool
	cmd := &cobra.Command{
		Use:   "done <brief|proposal|drafting>",
		Short: "Report a capability result and advance the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Coordinator.OnCapabilityDone(ctx, projectID, coordinator.Capability(args[0]), !failed, detail)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&detail, "detail", "", "free-form result detail")
	cmd.Flags().BoolVar(&failed, "failed", false, "report failure (abandons the project)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func trackCmd() *cobra.Command {
	track := &cobra.Command{Use: "track", Short: "Staleness tracking"}
	track.AddCommand(trackRunCmd())
	track.AddCommand(trackStateCmd())
	return track
}

func trackRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one tracking sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Coordinator.Tick(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	return cmd
}

func trackStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the last tracking run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entry, err := a.Repo.GetSystemState(ctx, coordinator.StateKeyLastRun)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func knowledgeCmd() *cobra.Command {
	kn := &cobra.Command{Use: "knowledge", Short: "Knowledge corpus"}
	kn.AddCommand(knowledgeAddCmd())
	kn.AddCommand(knowledgeSearchCmd())
	kn.AddCommand(knowledgeShowCmd())
	kn.AddCommand(knowledgeSeedCmd())
	return kn
}

func knowledgeAddCmd() *cobra.Command {
	var id, knType, content string
	var meta []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a knowledge item",
		RunE: func(cmd *cobra.Command, args []string) error {
			var metadata map[string]any
			if len(meta) > 0 {
				var err error
				metadata, err = parseKeyValues(meta)
				if err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				item, err := a.Knowledge.Add(ctx, domain.KnowledgeItem{
					ID:       id,
					Type:     knType,
					Content:  content,
					Metadata: metadata,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "item id (optional)")
	cmd.Flags().StringVar(&knType, "type", "", "knowledge type")
	cmd.Flags().StringVar(&content, "content", "", "content text")
	cmd.Flags().StringArrayVar(&meta, "meta", []string{}, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func knowledgeSearchCmd() *cobra.Command {
	var knType string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Knowledge.Search(ctx, knowledge.Query{
					Text:  args[0],
					Type:  knType,
					Limit: limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&knType, "type", "", "type filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func knowledgeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a knowledge item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				item, err := a.Knowledge.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	return cmd
}

func knowledgeSeedCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the corpus from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := knowledge.SeedFromFile(ctx, a.Knowledge, filePath)
				if err != nil {
					return err
				}
				fmt.Printf("seeded %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML seed file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func emailsCmd() *cobra.Command {
	var projectID string
	var limit int
	cmd := &cobra.Command{
		Use:   "emails",
		Short: "List tracked emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListTrackedEmails(ctx, projectID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Dir", "From", "To", "Subject", "Sent"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.EmailID, m.Direction, m.FromEmail, m.ToEmail, m.Subject, m.SentAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Event log"}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name, keyValue string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				k := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(keyValue),
				}
				if err := a.Repo.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": k.ID, "actor_id": k.ActorID})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&keyValue, "key", "", "key secret (stored hashed)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var managerEmail string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default rfpflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(managerEmail)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&managerEmail, "manager-email", "manager@localhost", "manager address for escalations")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.New(app.Options{Workspace: workspace})
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("RFPFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("RFPFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving rfpflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func lifecycleCreateInput(client, salesRep, lead, deadline string) lifecycle.CreateInput {
	return lifecycle.CreateInput{
		ClientName:       client,
		SalesRepEmail:    salesRep,
		ProjectLeadEmail: lead,
		Deadline:         deadline,
		ActorID:          viper.GetString("actor-id"),
	}
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

func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one key=value is required")
	}
	res := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", pair)
		}
		res[key] = value
	}
	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

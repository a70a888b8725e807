package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"hourline/internal/app"
	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/engine/authz"
	"hourline/internal/identity"
	"hourline/internal/repo"
	"hourline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Hourline CLI",
	Long: `Hourline coordinates the lifecycle of purchased hour packages.
Core concepts:
- Workspace: the .hourline directory holding the database; hourline.yml holds the tier catalog and auth settings.
- Solicitation: a client's purchase of a package of hours; it moves pendiente -> aprobado -> en_progreso -> pre_confirmado -> completado (cancelado/rechazado/expirado are exits).
- Assignment: a slice of a solicitation's hours staffed to one member; the slices never exceed the purchased budget.
- Progress: an append-only log of avances per assignment, written by the member or the client.
- Projects and bids: clients open projects, members bid, the client accepts, and the member confirms exactly once.
- Event log: every committed change, view with 'hl log tail'.`,
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
	viper.SetEnvPrefix("HOURLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("as-role", "admin", "act as role (admin, client, member)")
	rootCmd.PersistentFlags().String("as-client", "", "act as this client id (implies --as-role client)")
	rootCmd.PersistentFlags().String("as-member", "", "act as this member id (implies --as-role member)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("as-role", rootCmd.PersistentFlags().Lookup("as-role"))
	_ = viper.BindPFlag("as-client", rootCmd.PersistentFlags().Lookup("as-client"))
	_ = viper.BindPFlag("as-member", rootCmd.PersistentFlags().Lookup("as-member"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(tierCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(purchaseCmd())
	rootCmd.AddCommand(solCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(bidCmd())
	rootCmd.AddCommand(billingCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// localPrincipal builds the principal for direct CLI operation from flags.
// The CLI talks to the engine in-process, so there is no credential to
// resolve; the flags are the identity.
func localPrincipal() authz.Principal {
	p := authz.Principal{
		ActorID: viper.GetString("actor-id"),
		Role:    viper.GetString("as-role"),
		Source:  "cli",
	}
	if c := strings.TrimSpace(viper.GetString("as-client")); c != "" {
		p.Role = domain.RoleClient
		p.ClientID = c
	}
	if m := strings.TrimSpace(viper.GetString("as-member")); m != "" {
		p.Role = domain.RoleMember
		p.MemberID = m
	}
	return p
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage hourline.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var platformID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default hourline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(platformID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&platformID, "platform-id", "hourline", "platform identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientAddCmd())
	c.AddCommand(clientListCmd())
	return c
}

func clientAddCmd() *cobra.Command {
	var id, name, email string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if id == "" {
				id = uuid.New().String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := domain.Client{ID: id, Name: name, Email: email, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
				if err := e.Repo.InsertClient(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "client id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Email, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var id, name, email string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			if id == "" {
				id = uuid.New().String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m := domain.Member{ID: id, Name: name, Email: email, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
				if err := e.Repo.InsertMember(ctx, m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "member id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "member name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Created"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, m.Email, m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tierCmd() *cobra.Command {
	t := &cobra.Command{Use: "tier", Short: "Package tier catalog"}
	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List package tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTiers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Hours", "Cost/h", "Discount"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Hours, t.CostPerHour, t.Discount})
				}
				tw.Render()
				return nil
			})
		},
	})
	return t
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyIssueCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyIssueCmd() *cobra.Command {
	var role, clientID, memberID, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key (the key is printed once and stored hashed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.ValidRole(role) {
				return fmt.Errorf("--role must be admin, client, or member")
			}
			if role == domain.RoleClient && clientID == "" {
				return fmt.Errorf("--client required for client keys")
			}
			if role == domain.RoleMember && memberID == "" {
				return fmt.Errorf("--member required for member keys")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "hk_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.New().String(),
				Role:      role,
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			if clientID != "" {
				key.ClientID = &clientID
			}
			if memberID != "" {
				key.MemberID = &memberID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "role": key.Role, "key": secret}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key %s (%s)\n%s\n", key.ID, key.Role, secret)
				fmt.Println("Store it now; only the hash is kept.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role (admin, client, member)")
	cmd.Flags().StringVar(&clientID, "client", "", "client id the key acts for")
	cmd.Flags().StringVar(&memberID, "member", "", "member id the key acts for")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Role", "Client", "Member", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Role, strOrDash(k.ClientID), strOrDash(k.MemberID), k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var role, clientID, memberID, actorID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := e.Config.Auth.JWTSecret
				if env := os.Getenv("HOURLINE_JWT_SECRET"); env != "" {
					secret = env
				}
				token, err := identity.IssueToken(secret, authz.Principal{
					ActorID:  actorID,
					Role:     role,
					ClientID: clientID,
					MemberID: memberID,
				}, ttl, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "local-admin", "subject claim")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	cmd.Flags().StringVar(&clientID, "client", "", "client_id claim")
	cmd.Flags().StringVar(&memberID, "member", "", "member_id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func purchaseCmd() *cobra.Command {
	var opts engine.PurchaseOptions
	cmd := &cobra.Command{
		Use:   "purchase",
		Short: "Purchase a package of hours (creates a solicitation in pendiente)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreatePurchase(ctx, localPrincipal(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id (admins acting on behalf)")
	cmd.Flags().StringVar(&opts.TierID, "tier", "", "package tier id (snapshots its terms)")
	cmd.Flags().Float64Var(&opts.Hours, "hours", 0, "hours purchased (ignored with --tier)")
	cmd.Flags().Float64Var(&opts.CostPerHour, "cost-per-hour", 0, "cost per hour")
	cmd.Flags().Float64Var(&opts.Discount, "discount", 0, "discount fraction [0,1]")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	return cmd
}

func solCmd() *cobra.Command {
	sol := &cobra.Command{Use: "sol", Short: "Manage solicitations"}
	sol.AddCommand(solListCmd())
	sol.AddCommand(solShowCmd())
	sol.AddCommand(solTransitionCmd())
	return sol
}

func solListCmd() *cobra.Command {
	var f repo.SolicitationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List solicitations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSolicitations(ctx, localPrincipal(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Client", "Tier", "Hours", "State", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.ClientID, strOrDash(s.TierID), s.HoursTotal, s.State, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func solShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a solicitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSolicitation(ctx, localPrincipal(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func solTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <id> <state>",
		Short: "Transition a solicitation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.TransitionSolicitation(ctx, localPrincipal(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func assignCmd() *cobra.Command {
	a := &cobra.Command{Use: "assign", Short: "Manage assignments"}
	a.AddCommand(assignCreateCmd())
	a.AddCommand(assignListCmd())
	a.AddCommand(assignStateCmd())
	return a
}

func assignCreateCmd() *cobra.Command {
	var solicitationID, memberID string
	var hours float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Assign a member to an approved solicitation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAssignment(ctx, localPrincipal(), solicitationID, memberID, hours)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&solicitationID, "sol", "", "solicitation id")
	cmd.Flags().StringVar(&memberID, "member", "", "member id")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours to allocate")
	_ = cmd.MarkFlagRequired("sol")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func assignListCmd() *cobra.Command {
	var solicitationID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a solicitation's assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAssignments(ctx, localPrincipal(), solicitationID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Member", "Hours", "State", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.MemberID, a.HoursAllocated, a.State, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&solicitationID, "sol", "", "solicitation id")
	_ = cmd.MarkFlagRequired("sol")
	return cmd
}

func assignStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <id> <state>",
		Short: "Transition an assignment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAssignmentState(ctx, localPrincipal(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func progressCmd() *cobra.Command {
	p := &cobra.Command{Use: "progress", Short: "Progress log (avances)"}
	p.AddCommand(progressAddCmd())
	p.AddCommand(progressListCmd())
	return p
}

func progressAddCmd() *cobra.Command {
	var assignmentID, content string
	var hours float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a progress entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.AppendProgress(ctx, localPrincipal(), assignmentID, content, hours)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&content, "content", "", "entry text")
	cmd.Flags().Float64Var(&hours, "hours", 0, "reported hours (members only)")
	_ = cmd.MarkFlagRequired("assignment")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func progressListCmd() *cobra.Command {
	var assignmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List progress entries in narrative order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProgress(ctx, localPrincipal(), assignmentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Author", "Hours", "Content", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, fmt.Sprintf("%s:%s", p.AuthorType, p.AuthorID), p.HoursReported, p.Content, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage bid projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var clientID, title, visibility string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a project for bidding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prj, err := e.CreateProject(ctx, localPrincipal(), clientID, title, visibility)
				if err != nil {
					return err
				}
				return printJSONOrTable(prj)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id (admins acting on behalf)")
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&visibility, "visibility", "abierto", "abierto or privado")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, localPrincipal(), clientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Client", "Title", "Visibility", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ClientID, p.Title, p.Visibility, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client filter")
	return cmd
}

func bidCmd() *cobra.Command {
	b := &cobra.Command{Use: "bid", Short: "Manage project bids"}
	b.AddCommand(bidPlaceCmd())
	b.AddCommand(bidListCmd())
	b.AddCommand(bidActionCmd("accept", "Accept a pending bid", func(e engine.Engine, ctx context.Context, id string) (domain.ProjectBid, error) {
		return e.AcceptBid(ctx, localPrincipal(), id)
	}))
	b.AddCommand(bidActionCmd("confirm", "Confirm an accepted bid", func(e engine.Engine, ctx context.Context, id string) (domain.ProjectBid, error) {
		return e.ConfirmBid(ctx, localPrincipal(), id)
	}))
	b.AddCommand(bidActionCmd("cancel", "Cancel an accepted bid", func(e engine.Engine, ctx context.Context, id string) (domain.ProjectBid, error) {
		return e.CancelBid(ctx, localPrincipal(), id)
	}))
	return b
}

func bidPlaceCmd() *cobra.Command {
	var projectID, message string
	var amount float64
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a bid on a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.PlaceBid(ctx, localPrincipal(), projectID, amount, message)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "bid amount")
	cmd.Flags().StringVar(&message, "message", "", "message to the client")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func bidListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBids(ctx, localPrincipal(), projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Member", "Amount", "State", "Confirmed", "Created"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.MemberID, b.Amount, b.State, b.ConfirmedByMember, b.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func bidActionCmd(name, short string, action func(engine.Engine, context.Context, string) (domain.ProjectBid, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <bid-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := action(e, ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func billingCmd() *cobra.Command {
	b := &cobra.Command{Use: "billing", Short: "Billing views"}
	b.AddCommand(billingSummaryCmd())
	b.AddCommand(billingRequestCmd())
	return b
}

func billingSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <solicitation-id>",
		Short: "Allocated vs reported hours per assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lines, err := e.BillingSummary(ctx, localPrincipal(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(lines)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Assignment", "Member", "State", "Allocated", "Reported"})
				for _, l := range lines {
					tw.AppendRow(table.Row{l.AssignmentID, l.MemberID, l.State, l.HoursAllocated, l.HoursReported})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func billingRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <solicitation-id>",
		Short: "Emit a billing.requested event for a completed solicitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lines, err := e.RequestInvoice(ctx, localPrincipal(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(lines)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
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
				return printJSONOrTable(events)
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
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			e, conn, err := app.Bootstrap(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret: e.Config.Auth.JWTSecret,
				DevLogin:  e.Config.Auth.DevLogin,
			}
			if env := os.Getenv("HOURLINE_JWT_SECRET"); env != "" {
				authCfg.JWTSecret = env
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("jwt secret required; set auth.jwt_secret in hourline.yml or HOURLINE_JWT_SECRET")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Hourline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	e, conn, err := app.Bootstrap(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
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

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/creastat/chatsync/auth"
	"github.com/creastat/chatsync/config"
	"github.com/creastat/chatsync/hybrid"
)

type rootFlags struct {
	configFile string
	envFile    string
	token      string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Local-first chat history with optional cloud sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default ./chatsync.yaml)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to preload")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "identity token of the signed-in user")

	cmd.AddCommand(
		newSendCmd(flags),
		newReplyCmd(flags),
		newHistoryCmd(flags),
		newDatesCmd(flags),
		newDeleteCmd(flags),
		newDeleteDayCmd(flags),
		newMigrateCmd(flags),
		newStatusCmd(flags),
		newQuotaCmd(flags),
		newTokenCmd(flags),
	)
	return cmd
}

// withApp runs fn against a started synchronizer and closes it afterwards.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(*app) error) (err error) {
	cfg, err := config.Load(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, flags.token, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func newSendCmd(flags *rootFlags) *cobra.Command {
	var newSession bool
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Record a user message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				if newSession {
					a.sync.StartNewSession()
				}
				msg, err := a.sync.SendMessage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.ID, msg.Timestamp.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&newSession, "new", false, "start a new session first")
	return cmd
}

func newReplyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <text>",
		Short: "Record an assistant reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				msg, err := a.sync.AddAssistantMessage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
				return nil
			})
		},
	}
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "history [date]",
		Short: "Print the messages of a day",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				date := a.sync.CurrentDate()
				if len(args) == 1 {
					date = args[0]
				}
				out := cmd.OutOrStdout()
				if !all {
					h, err := a.sync.History(cmd.Context(), date)
					if err != nil {
						return err
					}
					for _, m := range h.Messages {
						fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.Sender, m.Text)
					}
					return nil
				}
				sessions, err := a.sync.SessionsForDate(cmd.Context(), date)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					fmt.Fprintf(out, "# session %s (%d messages)\n", s.ID, len(s.Messages))
					for _, m := range s.Messages {
						fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.Sender, m.Text)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every session of the day")
	return cmd
}

func newDatesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List days with stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				dates, err := a.sync.Dates(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range dates {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			})
		},
	}
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				return a.sync.DeleteSession(cmd.Context(), args[0])
			})
		},
	}
}

func newDeleteDayCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-day <date>",
		Short: "Delete every session of a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app) error {
				n, err := a.sync.DeleteDay(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
				return nil
			})
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Convert legacy day histories into sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				// Start already migrated; a second run reports what is left.
				n, err := a.sync.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %d sessions\n", n)
				return nil
			})
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cloud sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				user := "guest"
				if u := a.auth.CurrentUser(); u != nil {
					user = u.ID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nstate: %s\nuser: %s\n",
					a.sync.Status(), a.sync.State(), user)
				return nil
			})
		},
	}
}

func newQuotaCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the remaining guest messages for today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(a *app) error {
				n, err := a.sync.RemainingGuestMessages(cmd.Context())
				if err != nil {
					return err
				}
				if n == hybrid.Unlimited {
					fmt.Fprintln(cmd.OutOrStdout(), "unlimited")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d left today\n", n, a.cfg.QuotaMax)
				return nil
			})
		},
	}
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var user auth.User
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token signed with auth_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
			if err != nil {
				return err
			}
			p, err := auth.NewTokenProvider([]byte(cfg.AuthSecret), cfg.AuthIssuer)
			if err != nil {
				return err
			}
			token, err := p.Issue(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.ID, "user", "", "user ID (subject)")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Email, "email", "", "email address")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

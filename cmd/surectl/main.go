// Command surectl runs maintenance tasks against the SURE database: migrations,
// staff accounts, demo data, background jobs and lab result imports.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services"
	"sure_app_go/services/jobs"
	"sure_app_go/services/queue"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "surectl",
		Short:         "SURE management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createUserCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(labResultCmd())
	rootCmd.AddCommand(unblockCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setup loads the configuration and opens the migrated database
func setup() (*config.Config, error) {
	cfg := config.Load()
	logger.Init(cfg.Environment)

	if err := db.Initialize(cfg); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and default guard endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			defer db.Close()
			return services.EnsureDefaultProtectedEndpoints(db.DB)
		},
	}
}

func createUserCmd() *cobra.Command {
	var input services.StaffUserInput
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a staff account; the password is read from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			defer db.Close()

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			input.Password = password

			user, err := services.CreateStaffUser(db.DB, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "display name")
	cmd.Flags().StringVar(&input.Email, "email", "", "login email")
	cmd.Flags().StringVar(&input.Role, "role", models.RoleConsultant, "superuser, admin or consultant")
	cmd.Flags().StringVar(&input.TenantID, "tenant", "", "tenant id (admin and consultant)")
	cmd.Flags().StringSliceVar(&input.LocationIDs, "location", nil, "location id (consultant, repeatable)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line otherwise
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func seedCmd() *cobra.Command {
	var demo bool
	var demoPassword string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the superuser from SUPERUSER_EMAIL/SUPERUSER_PASSWORD and optionally demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			defer db.Close()

			if err := services.SeedSuperuserFromEnv(db.DB); err != nil {
				return err
			}
			if !demo {
				return nil
			}
			data, err := services.SeedDemoData(db.DB, demoPassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Demo tenant %s: %s / %s\n", data.Tenant.Name, data.Consultant.Email, data.Admin.Email)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "create the demo tenant")
	cmd.Flags().StringVar(&demoPassword, "demo-password", "DemoPassword123!", "password of the demo users")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Move unseen results to missed and close seen visits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer db.Close()
			return jobs.RunSweeps(db.DB, cfg.ResultsRetentionDays, time.Now())
		},
	}
}

func remindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reminders",
		Short: "Send due test reminders by SMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer db.Close()

			sender, err := services.NewSMSSender(cfg)
			if err != nil {
				return err
			}
			sent, total, err := jobs.SendReminders(cmd.Context(), db.DB, cfg, sender, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d of %d reminders\n", sent, total)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions and guard hits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			defer db.Close()
			return jobs.Cleanup(db.DB, time.Now())
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume background tasks from SQS until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer db.Close()
			if cfg.QueueBackend != "sqs" {
				return fmt.Errorf("worker needs QUEUE_BACKEND=sqs, got %q", cfg.QueueBackend)
			}
			services.InitializeStorage(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSQueueName)
			if err != nil {
				return err
			}
			return q.Consume(ctx, jobs.NewRegistry(db.DB, services.Storage, cfg))
		},
	}
}

func labResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lab-result <file>",
		Short: "Import an HL7 lab result message from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer db.Close()
			services.InitializeStorage(cfg)

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			result, err := services.ProcessLabResult(ctx, db.DB, services.Storage, string(content))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored lab result %s for order %s\n", result.ID, result.OrderID)
			return nil
		},
	}
}

func unblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <identifier>",
		Short: "Lift a guard block, e.g. ip:203.0.113.7 or user:<id>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(); err != nil {
				return err
			}
			defer db.Close()
			return services.Unblock(db.DB, args[0])
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// withApp runs fn against a bootstrapped app and shuts it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer a.shutdown()
	return fn(cmd.Context(), a)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetRowLine(false)
	table.SetColumnSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// --- migrate / cleanup ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and seed default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date")
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old auth events and expired login attempts now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			result, err := a.cleanup.RunOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result == nil {
				fmt.Fprintln(out, "Cleanup already ran this hour on another instance")
				return nil
			}
			fmt.Fprintf(out, "Purged %d auth events and %d expired login attempts\n",
				result.EventsPurged, result.AttemptsPurged)
			return nil
		})
	},
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local user",
	Long: `Create an activated local user. Omit --password for accounts that only
sign in through LDAP or the remote user header.`,
	Args: cobra.NoArgs,
	RunE: runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

var userResetTwoFactorCmd = &cobra.Command{
	Use:   "reset-2fa <username>",
	Short: "Clear a user's two-factor secret so they enroll again",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResetTwoFactor,
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	username, _ := flags.GetString("username")
	password, _ := flags.GetString("password")
	email, _ := flags.GetString("email")
	firstName, _ := flags.GetString("first-name")
	lastName, _ := flags.GetString("last-name")
	optin, _ := flags.GetBool("two-factor-optin")

	if username == "" {
		return errors.New("--username is required")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		user, err := a.users.Create(ctx, &services.CreateUserRequest{
			Username:  username,
			Password:  password,
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
			Optin:     optin,
		})
		if errors.Is(err, services.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d)\n", user.Username, user.ID)
		return nil
	})
}

func runUserList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		users, err := a.users.List(ctx)
		if err != nil {
			return err
		}
		printUsers(cmd.OutOrStdout(), users)
		return nil
	})
}

func printUsers(w io.Writer, users []models.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users")
		return
	}
	table := newTable(w, "ID", "Username", "Name", "Email", "Active", "LDAP", "2FA", "Last Login")
	for _, u := range users {
		lastLogin := "-"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Local().Format("2006-01-02 15:04")
		}
		twoFactor := "-"
		switch {
		case u.HasTwoFactorDevice():
			twoFactor = "enrolled"
		case u.TwoFactorSecret != "":
			twoFactor = "pending"
		case u.TwoFactorOptin:
			twoFactor = "opted in"
		}
		table.Append([]string{
			strconv.FormatUint(uint64(u.ID), 10),
			u.Username,
			u.FullName(),
			u.Email,
			yesNo(u.CanAuthenticate()),
			yesNo(u.LDAPImport),
			twoFactor,
			lastLogin,
		})
	}
	table.Render()
}

func runUserResetTwoFactor(cmd *cobra.Command, args []string) error {
	username := args[0]
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.users.ResetTwoFactor(ctx, username); err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return fmt.Errorf("user %q not found", username)
			}
			return err
		}
		a.events.Record(ctx, &models.AuthEvent{
			Level:    services.LevelInfo,
			Event:    services.EventTwoFactorReset,
			Username: username,
			Message:  "two-factor secret cleared by administrator",
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Two-factor reset for %s; they will enroll on next login\n", username)
		return nil
	})
}

// --- throttle ---

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Login throttle commands",
}

var throttleClearCmd = &cobra.Command{
	Use:   "clear <username>",
	Short: "Lift a login lockout",
	Long: `Lift the lockout for a username from one client address. Lockouts are
counted per username and address pair, so --ip must match the address the
failures came from. Requires the redis or database throttle store; the
memory store is private to the server process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, _ := cmd.Flags().GetString("ip")
		if ip == "" {
			return errors.New("--ip is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			// also covers redis that fell back to memory
			if _, ok := a.attempts.(*services.MemoryAttemptStore); ok {
				return errors.New("lockouts live in the server process with the memory throttle store; " +
					"use throttle.store redis or database, or wait for the lockout to expire")
			}
			if err := a.auth.ClearThrottle(ctx, args[0], ip); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared login lockout for %s from %s\n", args[0], ip)
			return nil
		})
	},
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Auth event commands",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent auth events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		username, _ := flags.GetString("user")
		event, _ := flags.GetString("event")
		limit, _ := flags.GetInt("limit")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			resp, err := a.events.List(ctx, &services.AuthEventListRequest{
				Page:     1,
				PageSize: limit,
				Username: username,
				Event:    event,
			})
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), resp)
			return nil
		})
	},
}

func printEvents(w io.Writer, resp *services.AuthEventListResponse) {
	if len(resp.Items) == 0 {
		fmt.Fprintln(w, "No events")
		return
	}
	table := newTable(w, "Time", "Level", "Event", "User", "Source", "IP", "Message")
	for _, e := range resp.Items {
		table.Append([]string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Level,
			e.Event,
			e.Username,
			e.Source,
			e.IP,
			e.Message,
		})
	}
	table.Render()
	fmt.Fprintf(w, "\nShowing %d of %d\n", len(resp.Items), resp.Total)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change sign-in settings",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rows, err := a.settings.List(ctx)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Key", "Value", "Group", "Description")
			for _, row := range rows {
				table.Append([]string{row.Key, displayValue(row.Key, row.Value), row.Group, row.Label})
			}
			table.Render()
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting. Unknown keys are rejected unless --force is given.
Boolean settings take 1 or 0; two_factor_enabled takes 0 (off), 1 (optional) or 2 (required).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		force, _ := cmd.Flags().GetBool("force")
		if err := validateSetting(key, value, force); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.settings.Set(ctx, key, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, displayValue(key, value))
			return nil
		})
	},
}

func knownSetting(key string) (models.SystemConfig, bool) {
	for _, s := range models.DefaultSettings {
		if s.Key == key {
			return s, true
		}
	}
	return models.SystemConfig{}, false
}

func validateSetting(key, value string, force bool) error {
	def, ok := knownSetting(key)
	if !ok {
		if force {
			return nil
		}
		return fmt.Errorf("unknown setting %q (use --force to set it anyway)", key)
	}

	if key == "ldap_user_filter" {
		if _, err := services.UserSearchFilter(value, "user"); err != nil {
			return err
		}
		return nil
	}

	switch def.Type {
	case "bool":
		if value != "0" && value != "1" {
			return fmt.Errorf("%s takes 1 or 0", key)
		}
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s takes a number", key)
		}
		if key == "two_factor_enabled" && (n < 0 || n > 2) {
			return fmt.Errorf("%s takes 0, 1 or 2", key)
		}
	}
	return nil
}

func displayValue(key, value string) string {
	if strings.Contains(key, "password") && value != "" {
		return "********"
	}
	return value
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		defaults := config.DefaultConfig()
		secret, err := config.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		defaults.Session.Secret = secret
		if err := defaults.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().String("username", "", "username (required)")
	userCreateCmd.Flags().String("password", "", "password; empty for directory-only accounts")
	userCreateCmd.Flags().String("email", "", "email address")
	userCreateCmd.Flags().String("first-name", "", "first name")
	userCreateCmd.Flags().String("last-name", "", "last name")
	userCreateCmd.Flags().Bool("two-factor-optin", false, "opt in to two-factor when it is optional")
	userCmd.AddCommand(userCreateCmd, userListCmd, userResetTwoFactorCmd)

	throttleClearCmd.Flags().String("ip", "", "client address the failures came from (required)")
	throttleCmd.AddCommand(throttleClearCmd)

	eventsListCmd.Flags().String("user", "", "only events for this username")
	eventsListCmd.Flags().String("event", "", "only this event type, e.g. login_failed")
	eventsListCmd.Flags().Int("limit", 50, "maximum number of events")
	eventsCmd.AddCommand(eventsListCmd)

	settingsSetCmd.Flags().Bool("force", false, "allow keys that are not known settings")
	settingsCmd.AddCommand(settingsListCmd, settingsSetCmd)

	configInitCmd.Flags().String("output", "config.yaml", "where to write the file")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

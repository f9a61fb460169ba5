package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dorch-network/dorch/pkg/dorch/auth"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// Flags for user commands
var userTenant string

// ============================================================
// user
// ============================================================

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API users",
	Long: `Manage the users allowed to call the northbound API. Users live in
the orchestrator database; changes take effect without a restart.`,
}

func init() {
	userAddCmd.Flags().StringVar(&userTenant, "tenant", "", "Tenant the user belongs to")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRemoveCmd)
	rootCmd.AddCommand(userCmd)
}

// ============================================================
// user add
// ============================================================

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an API user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		existing, err := st.UserByName(cmd.Context(), username)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("user %q already exists", username)
		}

		password, err := promptPassword()
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}

		if err := st.CreateUser(cmd.Context(), username, hash, userTenant); err != nil {
			return err
		}
		fmt.Printf("User %q created\n", username)
		return nil
	},
}

// ============================================================
// user list
// ============================================================

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		users, err := st.Users(cmd.Context())
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users defined")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tTENANT\tLAST LOGIN")
		for _, u := range users {
			lastLogin := "never"
			if u.TokenTimestamp.Valid {
				lastLogin = u.TokenTimestamp.Time.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", u.Username, u.Tenant, lastLogin)
		}
		return w.Flush()
	},
}

// ============================================================
// user remove
// ============================================================

var userRemoveCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Delete an API user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteUser(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, util.ErrNotFound) {
				return fmt.Errorf("user %q does not exist", args[0])
			}
			return err
		}
		fmt.Printf("User %q removed\n", args[0])
		return nil
	},
}

// ============================================================
// Helpers
// ============================================================

func openStore() (*store.Store, error) {
	return store.Open(cfg.Database.Connection, store.Options{
		GreBridgeID: cfg.PhysicalPorts.GreBridgeID,
	})
}

// promptPassword reads the password twice from the terminal without
// echoing it.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

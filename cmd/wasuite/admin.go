package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/sysutil"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

var adminFlags struct {
	name     string
	email    string
	password string
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create a platform administrator",
	Long: `Creates an account with the admin role. The password may also be passed
through the WA_ADMIN_PASSWORD environment variable.

Example:
  wasuite create-admin --email ops@example.com --name "Ops Team"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		password := sysutil.FirstNonEmpty(adminFlags.password, envAdminPassword())
		in := validate.RegisterInput{Name: adminFlags.name, Email: adminFlags.email, Password: password}
		if err := validate.Struct(in); err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB(db)

		auth := services.NewAuthService(db, cfg.Auth)
		a, err := auth.CreateAccount(cmd.Context(), services.NewAccount{
			Name:     in.Name,
			Email:    in.Email,
			Password: in.Password,
			Role:     domain.RoleAdmin,
		})
		if errors.Is(err, services.ErrEmailTaken) {
			return fmt.Errorf("an account with email %s already exists", in.Email)
		}
		if err != nil {
			return err
		}
		log.Info().Str("account_id", a.ID).Str("email", a.Email).Msg("admin created")
		fmt.Fprintln(cmd.OutOrStdout(), a.ID)
		return nil
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminFlags.name, "name", "Administrator", "display name")
	f.StringVar(&adminFlags.email, "email", "", "login email")
	f.StringVar(&adminFlags.password, "password", "", "login password (min 8 chars)")
	_ = createAdminCmd.MarkFlagRequired("email")
}

func envAdminPassword() string { return os.Getenv("WA_ADMIN_PASSWORD") }

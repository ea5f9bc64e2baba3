package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackcap/blackcap/scheduler/auth"
	"github.com/blackcap/blackcap/scheduler/domain"
)

type registerCmd struct {
	name         string
	organisation string
	password     string
}

func (c *registerCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register email",
		Short: "Register a user",
	}
	cmd.Flags().StringVar(&c.name, "name", "", "display name")
	cmd.Flags().StringVar(&c.organisation, "organisation", "", "organisation")
	cmd.Flags().StringVar(&c.password, "password", "", "password")
	return cmd
}

func (c *registerCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("an email must be provided")
	}
	if c.password == "" {
		return errors.New("a password must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}

	users, errs := cl.auther.Register(ctx, []auth.UserCreate{{
		User: domain.User{
			Email:        args[0],
			Name:         c.name,
			Organisation: c.organisation,
		},
		Password: c.password,
	}})
	if errs[0] != nil {
		return errs[0]
	}
	fmt.Println("Registered:", users[0].Email)
	return nil
}

type loginCmd struct {
	password string
}

func (c *loginCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login email",
		Short: "Log in and print a session cookie",
	}
	cmd.Flags().StringVar(&c.password, "password", "", "password")
	return cmd
}

func (c *loginCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("an email must be provided")
	}
	ctx := context.Background()
	if err := cl.realize(ctx); err != nil {
		return err
	}

	user, cookie, err := cl.auther.Login(ctx, auth.Credentials{Email: args[0], Password: c.password})
	if err != nil {
		return err
	}
	fmt.Println("Logged in:", user.Email)
	fmt.Println("Cookie:", cookie)
	return nil
}

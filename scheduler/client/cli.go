// Package client implements the blackcap command-line console.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/blackcap/blackcap/cloud/cluster"
	"github.com/blackcap/blackcap/cloud/cluster/local"
	clustermemory "github.com/blackcap/blackcap/cloud/cluster/memory"
	"github.com/blackcap/blackcap/cloud/cluster/remote"
	"github.com/blackcap/blackcap/common/stats"
	"github.com/blackcap/blackcap/config"
	"github.com/blackcap/blackcap/scheduler/auth"
	"github.com/blackcap/blackcap/scheduler/domain"
	"github.com/blackcap/blackcap/scheduler/server"
	"github.com/blackcap/blackcap/scheduler/store"
)

// CLIClient is the blackcap console, including CLI handling.
type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd *cobra.Command

	configPath string
	cookie     string

	// Built lazily by realize() so `blackcap help` needs no config.
	cfg        *config.Config
	store      store.ScheduleStore
	users      store.UserStore
	auther     auth.Auther
	clusters   []cluster.Cluster
	service    *server.ScheduleService
	reconciler *server.Reconciler
	stat       stats.StatsReceiver
}

func NewCLIClient() (CLIClient, error) {
	c := &simpleCLIClient{}

	c.rootCmd = &cobra.Command{
		Use:   "blackcap",
		Short: "blackcap is a command-line console for the Blackcap job scheduler",
		Run:   func(*cobra.Command, []string) {},
	}

	c.addCmd(&serveCmd{})
	c.addCmd(&registerCmd{})
	c.addCmd(&loginCmd{})
	c.addCmd(&submitJobCmd{})
	c.addCmd(&createScheduleCmd{})
	c.addCmd(&getScheduleCmd{})
	c.addCmd(&updateScheduleCmd{})
	c.addCmd(&deleteScheduleCmd{})
	c.addCmd(&withdrawCmd{})

	return c, nil
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.Flags().StringVar(&c.configPath, "config", "", "path to the blackcap config file")
	cobraCmd.Flags().StringVar(&c.cookie, "cookie", "", "session cookie from a previous login")
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(c *simpleCLIClient, cmd *cobra.Command, args []string) error
}

// realize builds the store, auther, clusters and service from config.
func (c *simpleCLIClient) realize(ctx context.Context) error {
	if c.service != nil {
		return nil
	}

	cfg, err := config.ParseFile(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.stat = stats.DefaultStatsReceiver()

	switch cfg.Store.Type {
	case "memory":
		st := store.MakeInMemoryStore()
		c.store, c.users = st, st
	case "postgres":
		db, err := store.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			return err
		}
		st := store.MakeSQLStore(db)
		if err := st.InitSchema(ctx); err != nil {
			return err
		}
		c.store, c.users = st, st
	}

	secret := cfg.Auther.Secret
	if secret == "" {
		// Ephemeral secret; cookies won't survive the process.
		s, err := domain.NewScheduleID()
		if err != nil {
			return err
		}
		secret = s
	}
	c.auther = auth.MakeCookieAuther(c.users, []byte(secret),
		time.Duration(cfg.Auther.TTLMinutes)*time.Minute)

	registry := cluster.NewRegistry()
	factories := []struct {
		name    string
		factory cluster.Factory
	}{
		{"memory", clustermemory.Factory},
		{"local", local.Factory},
		{"remote", remote.Factory},
	}
	for _, f := range factories {
		if err := registry.Register(f.name, f.factory); err != nil {
			return err
		}
	}
	for _, cc := range cfg.Clusters {
		cl, err := registry.Create(cc.Type, cc.ID, cc.Params)
		if err != nil {
			return err
		}
		c.clusters = append(c.clusters, cl)
	}

	scheduler := server.NewScheduler(c.clusters, c.store, c.stat)
	c.service = server.NewScheduleService(scheduler, c.store, c.auther, c.stat)
	c.reconciler = server.NewReconciler(c.clusters, c.store, server.ReconcilerConfig{
		PollInterval: cfg.Reconciler.PollInterval(),
		PollTimeout:  cfg.Reconciler.PollTimeout(),
		RetryTimeout: cfg.Reconciler.RetryTimeout(),
		MaxParallel:  cfg.Reconciler.MaxParallel,
		QueryRate:    rate.Limit(cfg.Reconciler.QueryRate),
	}, c.stat)
	return nil
}

// user resolves the --cookie flag to a caller, for commands that require
// authorization.
func (c *simpleCLIClient) user(ctx context.Context) (*domain.User, error) {
	user, err := c.auther.ExtractUser(ctx, c.cookie)
	if err != nil {
		return nil, fmt.Errorf("cannot establish caller identity: %v", err)
	}
	return user, nil
}

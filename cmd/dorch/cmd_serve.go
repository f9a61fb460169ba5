package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/dorch-network/dorch/pkg/dorch/api"
	"github.com/dorch-network/dorch/pkg/dorch/auth"
	"github.com/dorch-network/dorch/pkg/dorch/config"
	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/dorch/controller/odl"
	"github.com/dorch-network/dorch/pkg/dorch/controller/onos"
	"github.com/dorch-network/dorch/pkg/dorch/domain"
	"github.com/dorch-network/dorch/pkg/dorch/locking"
	"github.com/dorch-network/dorch/pkg/dorch/orchestrator"
	"github.com/dorch-network/dorch/pkg/dorch/realizer"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/dorch/topology"
	"github.com/dorch-network/dorch/pkg/util"
)

const shutdownTimeout = 10 * time.Second

// ============================================================
// serve
// ============================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	Long: `Serve starts the northbound REST API and keeps the data plane in
sync with the deployed forwarding graphs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// The daemon cannot advertise the domain without a description
	// template; the maintenance commands run fine without one.
	if cfg.DomainDescription.File == "" {
		return errors.New("domain_description.file must be set to serve")
	}

	st, err := store.Open(cfg.Database.Connection, store.Options{
		GreBridgeID: cfg.PhysicalPorts.GreBridgeID,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return err
	}

	client, err := controllerClient(cfg)
	if err != nil {
		return err
	}

	topo := topology.New(client, cfg.OtherOptions.UseInterfacesNames)
	if err := topo.Refresh(ctx); err != nil {
		// Retried on every realisation; the controller may still be
		// coming up when we are.
		util.Warnf("initial topology refresh failed: %v", err)
	}

	locks, closeLocks, err := lockBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocks()

	desc, err := domain.Load(cfg.DomainDescription.File,
		cfg.DomainDescription.DynamicFile, cfg.AllowedVlans())
	if err != nil {
		return err
	}
	if cfg.DomainDescription.DiscoverCapabilities {
		discoverCapabilities(ctx, client, desc, cfg.DomainDescription.CapabilitiesAppName)
	}
	if cfg.OVSDB.Support {
		attachPhysicalPorts(ctx, client, cfg.PhysicalPorts.Ports)
	}

	r := realizer.New(st, client, topo, desc, cfg.AllowedVlans(), realizer.Options{
		DetachedMode:         cfg.Orchestrator.DetachedMode,
		Jolnet:               cfg.OtherOptions.Jolnet,
		InitialConfiguration: cfg.NFConfiguration.InitialConfiguration,
		GreBridge:            cfg.PhysicalPorts.GreBridge,
	})

	notifier := domain.NewNotifier(desc, &domain.LogPublisher{Topic: cfg.DomainDescription.Topic})
	notifyCtx, cancelNotify := context.WithCancel(ctx)
	defer cancelNotify()
	go notifier.Run(notifyCtx)

	// Export the boot-time description so consumers see the domain
	// before the first graph arrives.
	if err := desc.Save(); err != nil {
		util.Warnf("saving domain description: %v", err)
	}
	notifier.Notify()

	coord := orchestrator.New(st, r, topo, desc, notifier, locks)
	tokens := auth.New(st, time.Duration(cfg.Authentication.TokenExpiration)*time.Second)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: api.New(coord, tokens, topo).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		util.WithField("addr", srv.Addr).Info("northbound API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		util.Infof("received %s, shutting down", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupLogging redirects the log to the configured file. The level is
// already set for every command; only the daemon owns the log file.
func setupLogging(c *config.Config) (*os.File, error) {
	var f *os.File
	if c.Log.File != "" {
		var err error
		f, err = util.SetLogFile(c.Log.File, c.Log.AppendLog)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		if c.OtherOptions.ConsolePrint {
			util.SetLogOutput(io.MultiWriter(f, os.Stdout))
		}
	}
	if c.Log.JSON {
		util.SetJSONFormat()
	}
	return f, nil
}

// controllerClient builds the client for the configured controller
// dialect. The OVSDB node is only passed along when bridge plumbing is
// enabled, so misconfigured deployments fail on the explicit flag rather
// than on a stray tunnel call.
func controllerClient(c *config.Config) (controller.Client, error) {
	endpoint, username, password, version := c.ControllerConfig()
	ovsdbIP := ""
	if c.OVSDB.Support {
		ovsdbIP = c.OVSDB.NodeIP
	}

	if c.NetworkController.Name == config.ControllerOpenDaylight {
		return odl.New(odl.Options{
			Endpoint:      endpoint,
			Username:      username,
			Password:      password,
			Version:       version,
			OvsdbNodeIP:   ovsdbIP,
			OvsdbNodePort: c.OVSDB.NodePort,
		})
	}
	return onos.New(onos.Options{
		Endpoint:      endpoint,
		Username:      username,
		Password:      password,
		OvsdbNodeIP:   ovsdbIP,
		OvsdbNodePort: c.OVSDB.NodePort,
	}), nil
}

// lockBackend builds the switch-lock manager. The redis backend is
// verified reachable at boot; a lock service that appears mid-flight
// would stall every realisation.
func lockBackend(ctx context.Context, c *config.Config) (locking.Locker, func(), error) {
	if c.Locking.Backend != config.LockingRedis {
		return locking.NewLocal(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: c.Locking.RedisAddress,
		DB:   c.Locking.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis lock backend %s: %w", c.Locking.RedisAddress, err)
	}
	return locking.NewRedis(rdb, c.Locking.RedisPrefix, locking.DefaultLockTTL),
		func() { rdb.Close() }, nil
}

// discoverCapabilities asks the controller which network function
// applications are installed and folds them into the description:
// declared capability types get their name and readiness refreshed,
// unknown ones are added.
func discoverCapabilities(ctx context.Context, client controller.Client, desc *domain.Description, appName string) {
	caps, err := client.Capabilities(ctx, appName)
	if err != nil {
		util.Warnf("capability discovery failed: %v", err)
		return
	}
	for _, c := range caps {
		desc.MergeCapability(c.Type, c.Name, c.Ready)
	}
	util.Infof("discovered %d capabilities from %s", len(caps), appName)
}

// attachPhysicalPorts adds the configured physical interfaces to their
// bridges through OVSDB. Ports that are already attached fail the call;
// a fresh boot on a provisioned switch should not die on that.
func attachPhysicalPorts(ctx context.Context, client controller.Client, ports map[string]string) {
	for iface, bridge := range ports {
		if err := client.AddPort(ctx, bridge, iface); err != nil {
			util.WithSwitch(bridge).Warnf("attaching port %s: %v", iface, err)
			continue
		}
		util.WithSwitch(bridge).Infof("attached physical port %s", iface)
	}
}

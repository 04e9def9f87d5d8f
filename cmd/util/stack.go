package util

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/freshness"
	"github.com/ValentinKolb/oKV/lib/queue"
	"github.com/ValentinKolb/oKV/lib/router"
	"github.com/ValentinKolb/oKV/lib/sqldb"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/ValentinKolb/oKV/lib/store/lstore"
	"github.com/ValentinKolb/oKV/lib/store/sqlstore"
	"github.com/ValentinKolb/oKV/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SetupStackFlags adds the flags of the on-device side (local store, queue, router, oracle)
func SetupStackFlags(cmd *cobra.Command) {
	key := "db"
	cmd.PersistentFlags().String(key, ".okv/okv.db", WrapString("sqlite file holding the local store, the mutation queue and the cache freshness"))

	key = "local"
	cmd.PersistentFlags().String(key, "sqlite", WrapString("Local store backend (sqlite, memory, none). With none, disk routes fail"))

	key = "cache-ttl"
	cmd.PersistentFlags().Duration(key, 5*time.Minute, WrapString("Window in which a persisted record is served from the local store, 0 disables it"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("Retries of a remote call that failed on connectivity while the link quality is at least moderate"))

	key = "retry-delay"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("Base of the linear retry backoff (retry n waits n times this delay)"))

	key = "queue-max-attempts"
	cmd.PersistentFlags().Int(key, 10, WrapString("Failed replays after which a queued write is dropped, 0 means unlimited"))

	key = "queue-max-age"
	cmd.PersistentFlags().Duration(key, 7*24*time.Hour, WrapString("Age after which an undelivered queued write is dropped, 0 means unlimited"))

	key = "probe"
	cmd.PersistentFlags().String(key, "ping", WrapString("How connectivity is detected: ping (the remote service), dns (resolve a name), online or offline (fixed)"))

	key = "probe-dns-server"
	cmd.PersistentFlags().String(key, "1.1.1.1:53", WrapString("DNS server queried by the dns probe"))

	key = "probe-dns-name"
	cmd.PersistentFlags().String(key, "example.com", WrapString("Name resolved by the dns probe"))

	key = "probe-timeout"
	cmd.PersistentFlags().Duration(key, 2*time.Second, WrapString("Timeout of a single probe"))

	key = "wifi"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether the device is on wifi (checked by wifi-only transfers)"))

	key = "charging"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether the device is charging (checked by while-charging transfers)"))

	key = "drain"
	cmd.PersistentFlags().Bool(key, true, WrapString("Deliver queued writes before running the command when online"))
}

// Stack is the assembled data layer used by the data and queue commands
type Stack struct {
	Router *router.Router
	Queue  *queue.Queue
	Local  store.ILocalStore // nil with --local=none
	Remote store.IRemoteStore
	Oracle connectivity.IOracle

	probe *connectivity.ProbeOracle // nil for fixed oracles
	db    *sql.DB
}

// BuildStack opens the database and wires local store, queue, remote store, oracle and router.
// Probing oracles are checked once before BuildStack returns and keep probing until ctx is done.
func BuildStack(ctx context.Context) (*Stack, error) {
	s := &Stack{}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	db, err := sqldb.Open(viper.GetString("db"))
	if err != nil {
		return nil, err
	}
	s.db = db

	switch viper.GetString("local") {
	case "sqlite":
		tracker, err := freshness.NewSQLTracker(db, nil)
		if err != nil {
			return nil, err
		}
		if s.Local, err = sqlstore.NewLocalStore(db, tracker); err != nil {
			return nil, err
		}
	case "memory":
		s.Local = lstore.NewLocalStore(freshness.NewTracker(nil))
	case "none":
	default:
		return nil, fmt.Errorf("invalid local store %s (expected sqlite, memory or none)", viper.GetString("local"))
	}

	policy := queue.DefaultPolicy()
	policy.MaxAttempts = viper.GetInt("queue-max-attempts")
	policy.MaxAge = viper.GetDuration("queue-max-age")
	if s.Queue, err = queue.Open(db, policy); err != nil {
		return nil, err
	}

	if s.Remote, err = newRemote(); err != nil {
		return nil, err
	}

	if s.Oracle, err = s.newOracle(ctx); err != nil {
		return nil, err
	}

	conf := router.DefaultConfig()
	conf.CacheTTL = viper.GetDuration("cache-ttl")
	conf.MaxRetries = viper.GetInt("max-retries")
	conf.RetryDelay = viper.GetDuration("retry-delay")
	Logger.Debugf(conf.String())

	s.Router = router.New(conf, s.Remote, s.Local, s.Oracle, s.Queue)

	ok = true
	return s, nil
}

// DrainPending delivers queued writes if the remote service is reachable and --drain is set
func (s *Stack) DrainPending(ctx context.Context) {
	if !viper.GetBool("drain") || !s.Oracle.IsOnline() {
		return
	}
	stats, err := s.Queue.Drain(ctx, s.Oracle, s.Router)
	if err != nil {
		Logger.Warningf("failed to drain queued writes: %v", err)
		return
	}
	if stats.Total() > 0 {
		Logger.Infof("delivered %d of %d queued writes", stats.Delivered, stats.Total())
	}
}

// Close releases everything BuildStack opened
func (s *Stack) Close() error {
	var errs []error
	if s.probe != nil {
		s.probe.Stop()
	}
	if s.Remote != nil {
		errs = append(errs, s.Remote.Close())
	}
	if s.Local != nil {
		errs = append(errs, s.Local.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// newRemote creates the rpc remote store from the client flags
func newRemote() (store.IRemoteStore, error) {
	ser, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	config := GetClientConfig()
	Logger.Debugf(config.String())
	return client.NewRPCStore(GetShardID(), *config, t, ser)
}

// newOracle creates the connectivity oracle selected by --probe
func (s *Stack) newOracle(ctx context.Context) (connectivity.IOracle, error) {
	conds := connectivity.Conditions{
		Wifi:     viper.GetBool("wifi"),
		Charging: viper.GetBool("charging"),
	}

	var probe connectivity.ProbeFunc
	switch mode := strings.ToLower(viper.GetString("probe")); mode {
	case "online", "offline":
		m := connectivity.NewManual(mode == "online")
		m.SetConditions(conds)
		return m, nil
	case "ping":
		remote := s.Remote
		probe = func(ctx context.Context) error { return remote.Ping(ctx) }
	case "dns":
		probe = connectivity.DNSProbe(viper.GetString("probe-dns-server"), viper.GetString("probe-dns-name"))
	default:
		return nil, fmt.Errorf("invalid probe %s (expected ping, dns, online or offline)", mode)
	}

	conf := connectivity.DefaultProbeConfig()
	conf.Timeout = viper.GetDuration("probe-timeout")
	// a single failed probe means offline for a short lived command
	conf.FailureThreshold = 1

	o := connectivity.NewProbeOracle(probe, conf)
	o.SetConditions(conds)
	o.Start(ctx)
	s.probe = o

	if o.IsOnline() {
		Logger.Debugf("remote reachable, link quality %s", o.Quality())
	} else {
		Logger.Infof("remote unreachable, working offline")
	}
	return o, nil
}

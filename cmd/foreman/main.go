package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/licenseforge/foreman/pkg/config"
	"github.com/licenseforge/foreman/pkg/iface"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/metrics"
	"github.com/licenseforge/foreman/pkg/proclock"
	"github.com/licenseforge/foreman/pkg/sched"
	"github.com/licenseforge/foreman/pkg/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

const processName = "foreman"

// daemonEnv marks the re-executed child so it does not daemonize again.
const daemonEnv = "FOREMAN_DAEMONIZED"

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagDaemon  bool
	flagDBInit  bool
	flagKill    bool
	flagLog     string
	flagPort    int
	flagReset   bool
	flagTest    bool
	flagVerbose int
	flagSetup   string
	flagLogJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - job scheduler for the LicenseForge analysis platform",
	Long: `Foreman pulls analysis jobs from the persistent queue, places them on
execution hosts, and supervises the agent processes that run them. One
instance runs per machine; operators drive it with signals and the TCP
control port.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Foreman version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().BoolVarP(&flagDaemon, "daemon", "d", false, "Run scheduler as daemon")
	rootCmd.Flags().BoolVarP(&flagDBInit, "db-init", "i", false, "Open the job database, verify it, and exit")
	rootCmd.Flags().BoolVarP(&flagKill, "kill", "k", false, "Gracefully stop the running scheduler and exit")
	rootCmd.Flags().StringVarP(&flagLog, "log", "L", "", "Write log output to this file instead of stdout")
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "Override the control interface port")
	rootCmd.Flags().BoolVarP(&flagReset, "reset", "R", false, "Reset the persistent job queue at startup")
	rootCmd.Flags().BoolVarP(&flagTest, "test", "t", false, "Run initializations then immediately begin shutdown")
	rootCmd.Flags().IntVarP(&flagVerbose, "verbose", "v", 0, "Set the diagnostic verbosity level")
	rootCmd.Flags().StringVarP(&flagSetup, "config", "c", "/etc/foreman", "Setup root holding foreman.yaml and agents.d")
	rootCmd.Flags().BoolVar(&flagLogJSON, "log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	cfg := log.Config{
		Level:      log.LevelFromVerbosity(flagVerbose),
		JSONOutput: flagLogJSON,
	}
	if flagLog != "" {
		f, err := os.OpenFile(flagLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot open log file %s: %v\n", flagLog, err)
			os.Exit(1)
		}
		cfg.Output = f
		cfg.JSONOutput = true
	}
	log.Init(cfg)
}

func run() error {
	lock := proclock.New(processName)

	if flagKill {
		pid, err := lock.KillRunning()
		if err != nil {
			return err
		}
		if pid == 0 {
			fmt.Println("no running scheduler found")
			return nil
		}
		fmt.Printf("stopping %s pid %d\n", processName, pid)
		return nil
	}

	cfg, err := config.Load(flagSetup)
	if err != nil {
		return err
	}
	if flagPort > 0 {
		cfg.Port = flagPort
	}

	if err := dropPrivileges(cfg.User, cfg.Group); err != nil {
		return fmt.Errorf("failed to drop privileges: %w", err)
	}

	if flagDaemon && os.Getenv(daemonEnv) == "" {
		return daemonize()
	}

	if flagDBInit {
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		if _, err := store.ListJobs(); err != nil {
			return fmt.Errorf("database verification failed: %w", err)
		}
		fmt.Println("database ok")
		return nil
	}

	owned, ownerPID, err := lock.Acquire()
	if err != nil {
		return fmt.Errorf("scheduler lock error: %w", err)
	}
	if !owned {
		return fmt.Errorf("another scheduler is already running with pid %d", ownerPID)
	}
	defer lock.Release()

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if flagReset {
		n, err := store.ResetQueue()
		if err != nil {
			return fmt.Errorf("failed to reset job queue: %w", err)
		}
		log.Logger.Info().Int("jobs", n).Msg("Reset stranded jobs to pending")
	}

	scheduler := sched.New(flagSetup, cfg, store)
	if err := scheduler.Init(); err != nil {
		return err
	}

	control := iface.NewServer(scheduler)
	if err := control.Start(cfg.Port); err != nil {
		return err
	}
	defer control.Stop()

	metrics.RegisterComponent("storage", true)
	metrics.RegisterComponent("iface", true)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	if flagTest {
		scheduler.Close()
	}

	log.Logger.Info().
		Str("version", Version).
		Int("port", cfg.Port).
		Str("setup", flagSetup).
		Msg("Scheduler starting")

	scheduler.Run()
	return nil
}

// dropPrivileges switches to the configured unprivileged user and group.
// A failure here is fatal: agents inherit these credentials and must be
// able to reach the platform database. Empty config skips the drop, as
// does already running as the target user.
func dropPrivileges(userName, groupName string) error {
	if userName == "" {
		return nil
	}

	pwd, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("user %q not found: %w", userName, err)
	}
	uid, err := strconv.Atoi(pwd.Uid)
	if err != nil {
		return err
	}
	if os.Getuid() == uid {
		return nil
	}

	gid, err := strconv.Atoi(pwd.Gid)
	if err != nil {
		return err
	}
	if groupName != "" {
		grp, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("group %q not found: %w", groupName, err)
		}
		if gid, err = strconv.Atoi(grp.Gid); err != nil {
			return err
		}
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return err
	}
	if err := unix.Setgid(gid); err != nil {
		return err
	}
	if err := unix.Setuid(uid); err != nil {
		return err
	}
	return nil
}

// daemonize re-executes the binary in a new session with the marker env set
// and lets the parent exit.
func daemonize() error {
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	if flagLog == "" {
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to daemonize: %w", err)
	}
	fmt.Printf("%s running as pid %d\n", processName, cmd.Process.Pid)
	return nil
}

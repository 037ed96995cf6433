package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"security-rule-reconciler/internal/device"
	"security-rule-reconciler/internal/helper"
	"security-rule-reconciler/internal/metrics"
	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/params"
	"security-rule-reconciler/internal/reconciler"
)

var (
	taskFile     string
	provider     string
	dbConn       string
	checkMode    bool
	logLevel     string
	logFile      string
	metricsFile  string
	deviceType   string
	deviceGroups []string
	vsysNames    []string
	hostname     string
	scopeGroup   string
	scopeVsys    string
	rulebase     string
)

// store is a device that can also be initialised from scratch.
type store interface {
	device.Device
	Bootstrap(ctx context.Context, info *model.DeviceInfo) error
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "security-rule-reconciler",
		Short: "Reconcile a firewall security rule against a device",
		Long: `security-rule-reconciler reads a task describing one security rule and
	brings the device's rulebase to that state, optionally committing the result.`,
		RunE:          runApply,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&provider, "provider", "sqlite", "Device provider: 'sqlite', 'mariadb' or 'setfile'")
	rootCmd.PersistentFlags().StringVar(&dbConn, "db", "", "SQLite path, MariaDB DSN or set-config file (mariadb falls back to the task's provider block)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	addApplyFlags(rootCmd)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a rule task (default command)",
		RunE:  runApply,
	}
	addApplyFlags(applyCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create or re-register a device store",
		RunE:  runInit,
	}
	initCmd.Flags().StringVar(&deviceType, "device-type", string(model.DeviceFirewall), "Device type: 'firewall' or 'panorama'")
	initCmd.Flags().StringVar(&hostname, "hostname", "", "Device hostname")
	initCmd.Flags().StringSliceVar(&deviceGroups, "device-group", nil, "Panorama device groups")
	initCmd.Flags().StringSliceVar(&vsysNames, "vsys", []string{"vsys1"}, "Firewall vsys names")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the security rules of a rulebase",
		RunE:  runRules,
	}
	rulesCmd.Flags().StringVar(&scopeGroup, "device-group", "", "Panorama device group (default: shared)")
	rulesCmd.Flags().StringVar(&scopeVsys, "vsys", "", "Firewall vsys (default: vsys1)")
	rulesCmd.Flags().StringVar(&rulebase, "rulebase", "", "Rulebase to list")

	rootCmd.AddCommand(applyCmd, initCmd, rulesCmd)
	return rootCmd
}

func addApplyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&taskFile, "task", "", "Task file (.yaml, .yml or .hcl)")
	cmd.Flags().BoolVar(&checkMode, "check", false, "Report what would change without changing anything")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	slog.SetDefault(setupLogger(logLevel, logFile))
	out := cmd.OutOrStdout()

	if taskFile == "" {
		return fail(out, fmt.Errorf("%w: --task is required", params.ErrInvalidConfig))
	}
	p, err := params.LoadFile(taskFile)
	if err != nil {
		return fail(out, err)
	}

	// configuration errors are reported before any connection is made
	if _, err := p.Prepare(); err != nil {
		return fail(out, err)
	}
	dev, err := openDevice(provider, dbConn, p.Provider)
	if err != nil {
		return fail(out, err)
	}
	defer dev.Close()

	m := metrics.New()
	if metricsFile != "" {
		defer func() {
			if err := m.WriteTextfile(metricsFile); err != nil {
				slog.Error("Failed to write metrics", "path", metricsFile, "error", err)
			}
		}()
	}

	slog.Info("Applying rule task", "task", taskFile, "provider", provider, "check_mode", checkMode)
	start := time.Now()
	res, err := reconciler.New(helper.New(dev, checkMode, m), m).Run(cmd.Context(), p)
	if err != nil {
		slog.Error("Reconciliation failed", "error", err)
		return fail(out, err)
	}
	slog.Info("Finished", "changed", res.Changed, "duration", time.Since(start))
	return writeJSON(out, res)
}

func runInit(cmd *cobra.Command, args []string) error {
	slog.SetDefault(setupLogger(logLevel, logFile))
	out := cmd.OutOrStdout()

	info := &model.DeviceInfo{Type: model.DeviceType(deviceType), Hostname: hostname}
	switch info.Type {
	case model.DevicePanorama:
		info.DeviceGroups = deviceGroups
	case model.DeviceFirewall:
		info.Vsys = vsysNames
	default:
		return fail(out, fmt.Errorf("%w: unknown device type %q", params.ErrInvalidConfig, deviceType))
	}

	dev, err := openDevice(provider, dbConn, nil)
	if err != nil {
		return fail(out, err)
	}
	defer dev.Close()

	if err := dev.Bootstrap(cmd.Context(), info); err != nil {
		return fail(out, err)
	}
	slog.Info("Initialised device store", "provider", provider, "type", info.Type)
	return writeJSON(out, map[string]any{"changed": true, "msg": "Done"})
}

func runRules(cmd *cobra.Command, args []string) error {
	slog.SetDefault(setupLogger(logLevel, logFile))
	out := cmd.OutOrStdout()

	dev, err := openDevice(provider, dbConn, nil)
	if err != nil {
		return fail(out, err)
	}
	defer dev.Close()

	h := helper.New(dev, true, nil)
	scope, err := h.GetParent(cmd.Context(), &params.Params{DeviceGroup: scopeGroup, Vsys: scopeVsys, Rulebase: rulebase})
	if err != nil {
		return fail(out, err)
	}
	rules, err := h.RefreshAll(cmd.Context(), scope)
	if err != nil {
		return fail(out, err)
	}
	return writeJSON(out, map[string]any{"scope": scope.String(), "rules": rules})
}

// openDevice connects to the selected provider. For mariadb an empty conn
// is built from the task's provider block.
func openDevice(kind, conn string, pv *params.Provider) (store, error) {
	switch kind {
	case "sqlite":
		if conn == "" {
			return nil, fmt.Errorf("%w: --db must name a database file for the sqlite provider", params.ErrInvalidConfig)
		}
		s, err := device.Open("sqlite", conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mariadb":
		if conn == "" {
			if pv == nil {
				return nil, fmt.Errorf("%w: mariadb provider needs --db or a provider block", params.ErrInvalidConfig)
			}
			secret := pv.Password
			if pv.APIKey != "" {
				secret = pv.APIKey
			}
			conn = device.MariaDBDSN(pv.IPAddress, pv.Port, pv.Username, secret, pv.Database)
		}
		s, err := device.Open("mysql", conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "setfile":
		if conn == "" {
			return nil, fmt.Errorf("%w: --db must name a set-config file for the setfile provider", params.ErrInvalidConfig)
		}
		s, err := device.OpenSetFile(conn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider: %s", params.ErrInvalidConfig, kind)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(w io.Writer, err error) error {
	writeJSON(w, map[string]any{"failed": true, "msg": err.Error()})
	return err
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// falls back to stderr; there is no logger to report to yet
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}

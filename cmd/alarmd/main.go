package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/holiday"
	appLog "alarmd/internal/log"
	"alarmd/internal/recurrence"
	"alarmd/internal/registry"
	"alarmd/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("alarmd starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"start_of_day", conf.StartOfDay,
		"work_start", conf.WorkStart,
		"work_end", conf.WorkEnd,
		"feb29", conf.Feb29,
		"refresh", conf.RefreshCron,
		"alarm_count", len(conf.Alarms),
		"once", flags.once,
	)

	loc := resolveLocation(conf.Timezone)
	sched, err := buildScheduling(conf)
	if err != nil {
		appLog.Error("failed to build scheduling configuration", err)
		os.Exit(1)
	}

	reg := registry.New(sched, loc)
	reg.LoadAlarms(conf.Alarms)

	if flags.once {
		runOnce(reg, loc)
		return
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	c := cron.New()
	_, err = c.AddFunc(conf.RefreshCron, func() {
		live := reg.AdvancePastNow(time.Now().In(loc))
		appLog.Debug("refresh tick", "live_alarms", live)
	})
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	go func() {
		if err := web.StartServer(ctx, conf, reg, loc); err != nil {
			appLog.Error("HTTP server stopped", err)
			cancel()
		}
	}()

	<-ctx.Done()

	time.Sleep(100 * time.Millisecond)
	appLog.Info("alarmd exiting")
}

// runOnce evaluates every alarm against the current instant and logs the
// four trigger flavors, then exits. Useful for checking a config file.
func runOnce(reg *registry.Registry, loc *time.Location) {
	live := reg.AdvancePastNow(time.Now().In(loc))
	for _, snap := range reg.Snapshots() {
		appLog.Info("alarm",
			"id", snap.ID.String(),
			"message", snap.Message,
			"valid", snap.Valid,
			"next_all", snap.NextAll.String(),
			"next_main", snap.NextMain.String(),
			"next_all_work", snap.NextAllWork.String(),
			"next_main_work", snap.NextMainWork.String(),
		)
	}
	appLog.Info("single-shot evaluation done", "live_alarms", live)
}

// buildScheduling translates the file-level settings into the engine's
// scheduling configuration.
func buildScheduling(conf *config.Config) (*alarm.SchedulingConfig, error) {
	sched := alarm.NewSchedulingConfig()

	sod, err := config.ParseClock(conf.StartOfDay)
	if err != nil {
		return nil, err
	}
	sched.SetStartOfDay(sod)

	days, err := config.ParseWeekdays(conf.WorkDays)
	if err != nil {
		return nil, err
	}
	sched.SetWorkDays(days...)

	workStart, err := config.ParseClock(conf.WorkStart)
	if err != nil {
		return nil, err
	}
	workEnd, err := config.ParseClock(conf.WorkEnd)
	if err != nil {
		return nil, err
	}
	sched.SetWorkHours(workStart, workEnd)

	switch conf.Feb29 {
	case "feb28":
		sched.SetDefaultFeb29(recurrence.Feb29Feb28)
	case "mar1":
		sched.SetDefaultFeb29(recurrence.Feb29Mar1)
	default:
		sched.SetDefaultFeb29(recurrence.Feb29None)
	}

	if conf.HolidayFile != "" {
		region, err := holiday.LoadRegion(conf.HolidayFile)
		if err != nil {
			return nil, err
		}
		sched.SetHolidays(region)
		appLog.Info("holiday region loaded", "name", region.Name, "days", region.Len())
	}

	return sched, nil
}

func resolveLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/alarmd/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Evaluate all alarms once, print triggers and exit")

	flag.Parse()

	return cfg
}

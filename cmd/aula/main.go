// Package main is the aula command line client. It logs a guardian into
// the Aula school portal through the national identity federation, keeps
// the resulting credentials fresh on disk, and prints the portal data
// the bundled subcommands ask for.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	log "github.com/sirupsen/logrus"

	"github.com/nickknissen/aula-sub000/internal/auth"
	"github.com/nickknissen/aula-sub000/internal/auth/federation"
	"github.com/nickknissen/aula-sub000/internal/auth/mitid"
	"github.com/nickknissen/aula-sub000/internal/buildinfo"
	"github.com/nickknissen/aula-sub000/internal/config"
	"github.com/nickknissen/aula-sub000/internal/logging"
	"github.com/nickknissen/aula-sub000/internal/tokenstore"
	"github.com/nickknissen/aula-sub000/sdk/aula"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		configPath   string
		showVersion  bool
		forceLogin   bool
		showProfile  bool
		showMessages bool
		calendarDays int
		overview     bool
		watch        bool
		messageLimit int
	)

	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.BoolVar(&forceLogin, "login", false, "Force a full interactive login, ignoring cached credentials")
	flag.BoolVar(&showProfile, "profile", false, "Print the guardian profile and children")
	flag.BoolVar(&showMessages, "messages", false, "Print the latest inbox threads and messages")
	flag.IntVar(&calendarDays, "calendar", 0, "Print calendar events for the next N days")
	flag.BoolVar(&overview, "overview", false, "Print today's presence overview per child")
	flag.BoolVar(&watch, "watch", false, "Keep running and reload credentials when the token file changes on disk")
	flag.IntVar(&messageLimit, "message-limit", 3, "Messages fetched per thread with -messages")
	flag.Parse()

	if showVersion {
		fmt.Println(versionString())
		return
	}

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		logging.ConfigureLogOutput(cfg.LogFile)
	}
	if cfg.Username == "" {
		log.Fatal("no username configured; set AULA_USERNAME or the username key in the config file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("status", versionString()).Debug("starting")

	manager := newManager(cfg)
	if err = run(ctx, manager, cfg, options{
		forceLogin:   forceLogin,
		showProfile:  showProfile,
		showMessages: showMessages,
		calendarDays: calendarDays,
		overview:     overview,
		watch:        watch,
		messageLimit: messageLimit,
	}); err != nil {
		log.Fatalf("%v", err)
	}
}

func versionString() string {
	return fmt.Sprintf("aula %s (commit %s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
}

type options struct {
	forceLogin   bool
	showProfile  bool
	showMessages bool
	calendarDays int
	overview     bool
	watch        bool
	messageLimit int
}

func newManager(cfg *config.Config) *auth.Manager {
	store := tokenstore.NewFileStore(cfg.TokenFile)
	factory := func() (auth.Orchestrator, error) {
		client, err := federation.NewClient(federation.Options{
			Username: cfg.Username,
			ProxyURL: cfg.ProxyURL,
			Timeout:  cfg.RequestTimeout(),
			Hooks: mitid.Hooks{
				OnOTPCode: printOTPCode,
				OnQRCodes: printQRCodes,
			},
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	manager := auth.NewManager(cfg.Username, store, factory)
	manager.OnLoginRequired(func() {
		fmt.Println("Open your MitID app and approve the login request.")
	})
	return manager
}

func run(ctx context.Context, manager *auth.Manager, cfg *config.Config, opts options) error {
	rec, err := manager.Credentials(ctx, opts.forceLogin)
	if err != nil {
		return fmt.Errorf("obtain credentials: %w", err)
	}
	fmt.Printf("Logged in as %s.\n", cfg.Username)

	if !opts.showProfile && !opts.showMessages && opts.calendarDays <= 0 && !opts.overview {
		return watchIfRequested(ctx, manager, opts)
	}

	client, err := aula.NewClient(aula.Options{
		AccessToken: rec.AccessToken(),
		Cookies:     rec.Cookies,
	})
	if err != nil {
		return fmt.Errorf("create portal client: %w", err)
	}
	if err = client.Init(ctx); err != nil {
		return fmt.Errorf("initialize portal session: %w", err)
	}

	profile, err := client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	if opts.showProfile {
		printProfile(profile)
	}
	if opts.showMessages {
		if err = printMessages(ctx, client, opts.messageLimit); err != nil {
			return err
		}
	}
	if opts.calendarDays > 0 {
		if err = printCalendar(ctx, client, profile, opts.calendarDays); err != nil {
			return err
		}
	}
	if opts.overview {
		printOverviews(ctx, client, profile)
	}
	return watchIfRequested(ctx, manager, opts)
}

// watchIfRequested blocks until interrupted, reporting credential reloads
// whenever another process rewrites the token file.
func watchIfRequested(ctx context.Context, manager *auth.Manager, opts options) error {
	if !opts.watch {
		return nil
	}
	fmt.Println("Watching the token file; press Ctrl-C to stop.")
	err := manager.Watch(ctx, func(rec *tokenstore.Record) {
		log.WithField("status", "reloaded").Info("token file changed on disk")
		fmt.Printf("Credentials reloaded (created %s).\n", rec.CreatedAt)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch token file: %w", err)
	}
	return nil
}

func printOTPCode(code string) {
	fmt.Printf("Enter this one-time code in your MitID app: %s\n", code)
}

func printQRCodes(first, second string) {
	fmt.Println("Scan both QR codes with your MitID app:")
	qrterminal.GenerateHalfBlock(first, qrterminal.L, os.Stdout)
	fmt.Println()
	qrterminal.GenerateHalfBlock(second, qrterminal.L, os.Stdout)
}

func printProfile(profile *aula.Profile) {
	fmt.Printf("\n%s (profile %d)\n", profile.DisplayName, profile.ProfileID)
	for _, child := range profile.Children {
		fmt.Printf("  %s - %s (profile %d)\n", child.Name, child.InstitutionName, child.ProfileID)
	}
}

func printMessages(ctx context.Context, client *aula.Client, limit int) error {
	threads, err := client.MessageThreads(ctx)
	if err != nil {
		return fmt.Errorf("fetch message threads: %w", err)
	}
	for _, thread := range threads {
		marker := " "
		if thread.Unread {
			marker = "*"
		}
		fmt.Printf("\n%s %s\n", marker, thread.Subject)
		messages, errMsgs := client.MessagesForThread(ctx, thread.ID, limit)
		if errMsgs != nil {
			log.WithError(errMsgs).WithField("thread", thread.ID).Warn("could not fetch messages")
			continue
		}
		for _, msg := range messages {
			fmt.Printf("    [%s] %s: %s\n", msg.SendTime, msg.SenderName, msg.ContentHTML)
		}
	}
	return nil
}

func printCalendar(ctx context.Context, client *aula.Client, profile *aula.Profile, days int) error {
	start := time.Now()
	events, err := client.CalendarEvents(ctx, profile.InstitutionProfileIDs, start, start.AddDate(0, 0, days))
	if err != nil {
		return fmt.Errorf("fetch calendar events: %w", err)
	}
	fmt.Println()
	for _, ev := range events {
		line := fmt.Sprintf("%s  %s", ev.Start.Format("Mon 02 Jan 15:04"), ev.Title)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		if ev.HasSubstitute && ev.SubstituteName != "" {
			line += fmt.Sprintf(" (substitute: %s)", ev.SubstituteName)
		} else if ev.TeacherName != "" {
			line += " (" + ev.TeacherName + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func printOverviews(ctx context.Context, client *aula.Client, profile *aula.Profile) {
	fmt.Println()
	for _, child := range profile.Children {
		ov, err := client.DailyOverview(ctx, child.ID)
		if err != nil {
			log.WithError(err).WithField("child", child.Name).Warn("could not fetch daily overview")
			continue
		}
		line := fmt.Sprintf("%s: status %d", child.Name, ov.Status)
		if ov.Location != "" {
			line += " at " + ov.Location
		}
		if ov.CheckInTime != "" {
			line += ", checked in " + ov.CheckInTime
		}
		if ov.CheckOutTime != "" {
			line += ", checked out " + ov.CheckOutTime
		}
		fmt.Println(line)
	}
}

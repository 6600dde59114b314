// Command wpclient keeps a learner's work-points record on this machine and
// pushes finished days to a vocabnest server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/vocabnest/vocabnest/workpoints"
)

const clientName = "vocabnest-wpclient/1"

// Context carries what every subcommand needs.
type Context struct {
	Session *workpoints.Session
	Client  *workpoints.HTTPClient
	Store   *workpoints.LocalStore
}

var CLI struct {
	Server string `help:"API base URL." env:"VOCABNEST_SERVER" default:"http://localhost:8080"`
	Token  string `help:"Bearer token from /api/auth/login." env:"VOCABNEST_TOKEN"`
	User   string `help:"User id the local record belongs to." env:"VOCABNEST_USER" required:""`
	Store  string `help:"Local SQLite store path." type:"path" env:"VOCABNEST_STORE" default:"~/.config/vocabnest/workpoints.db"`
	Now    string `help:"Pretend the current time is this RFC 3339 timestamp."`
	Debug  bool   `help:"Verbose logging."`

	Status      StatusCmd      `cmd:"" help:"Show the local record." default:"1"`
	Record      RecordCmd      `cmd:"" help:"Add active study time."`
	Reconcile   ReconcileCmd   `cmd:"" help:"Run the day boundary check and sync a finished day."`
	Fingerprint FingerprintCmd `cmd:"" help:"Print this device's fingerprint."`
	Flush       FlushCmd       `cmd:"" help:"Retry queued syncs."`
	Reset       ResetCmd       `cmd:"" help:"Wipe the local record and queue."`
	Calendar    CalendarCmd    `cmd:"" help:"Show the server calendar for a month."`
}

type StatusCmd struct{}

func (c *StatusCmd) Run(app *Context) error {
	st := app.Session.Snapshot()
	return printJSON(map[string]any{
		"state":       st,
		"todayPoints": st.TodayPoints(workpoints.DefaultSettings()),
		"pending":     app.Store.Pending(context.Background(), CLI.User),
		"lastOutcome": app.Session.LastOutcome(),
	})
}

type RecordCmd struct {
	Duration time.Duration `help:"Active time to add, e.g. 90s or 5m." required:""`
}

func (c *RecordCmd) Run(app *Context) error {
	ctx := context.Background()
	credited := app.Session.Record(ctx, c.Duration)
	app.Session.Flush(ctx)
	return printJSON(map[string]any{"credited": credited, "state": app.Session.Snapshot()})
}

type ReconcileCmd struct{}

func (c *ReconcileCmd) Run(app *Context) error {
	return printJSON(app.Session.Reconcile(context.Background()))
}

type FingerprintCmd struct{}

func (c *FingerprintCmd) Run(app *Context) error {
	fmt.Println(app.Session.DeviceFingerprint())
	return nil
}

type FlushCmd struct{}

func (c *FlushCmd) Run(app *Context) error {
	ctx := context.Background()
	sent := app.Session.FlushPending(ctx)
	if sent == 0 && len(app.Store.Pending(ctx, CLI.User)) > 0 && CLI.Token == "" {
		return fmt.Errorf("no --token given, queued days cannot be sent")
	}
	return printJSON(map[string]any{"sent": sent, "pending": app.Store.Pending(ctx, CLI.User)})
}

type ResetCmd struct {
	Yes bool `help:"Confirm the wipe."`
}

func (c *ResetCmd) Run(app *Context) error {
	if !c.Yes {
		return fmt.Errorf("refusing to reset without --yes")
	}
	app.Session.Reset(context.Background())
	fmt.Println("local record cleared")
	return nil
}

type CalendarCmd struct {
	Month string `help:"Month as YYYY-MM." default:""`
	TZ    string `help:"IANA timezone for day classification." name:"tz"`
}

func (c *CalendarCmd) Run(app *Context) error {
	month := c.Month
	if month == "" {
		month = time.Now().Format("2006-01")
	}
	tz := c.TZ
	if tz == "" && time.Local.String() != "Local" {
		tz = time.Local.String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	data, err := app.Client.Calendar(ctx, month, tz)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Encoding = "console"
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("wpclient"),
		kong.Description("Local work-points tracker for vocabnest"),
		kong.UsageOnError(),
	)

	log := newLogger(CLI.Debug)
	defer log.Sync() //nolint:errcheck

	clock := time.Now
	if CLI.Now != "" {
		fixed, err := time.Parse(time.RFC3339, CLI.Now)
		if err != nil {
			kctx.Fatalf("invalid --now: %v", err)
		}
		clock = func() time.Time { return fixed }
	}

	backend, err := workpoints.OpenSQLiteBackend(CLI.Store)
	if err != nil {
		kctx.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	store := workpoints.NewLocalStore(backend, log)
	client := workpoints.NewHTTPClient(CLI.Server, CLI.Token)
	var syncer workpoints.Syncer
	if CLI.Token != "" {
		syncer = client
	}

	session := workpoints.NewSession(CLI.User, store, syncer, workpoints.Options{
		Location: time.Local,
		Clock:    clock,
		Env:      workpoints.CurrentEnv(clientName),
		Logger:   log,
	})

	ctx := context.Background()
	if kctx.Command() != "reset" {
		session.Open(ctx)
	}

	runErr := kctx.Run(&Context{Session: session, Client: client, Store: store})
	session.Close(ctx)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

// Command unreadwatch prints a live unread badge for one user.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/gnuflag"
	"go.uber.org/zap"

	"unread-service/internal/cache"
	"unread-service/internal/client"
	"unread-service/internal/logger"
	"unread-service/internal/middleware"
	"unread-service/internal/models"
)

type options struct {
	baseURL string
	token   string
	secret  string
	userID  int64
	poll    time.Duration
	recent  int
	verbose bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := gnuflag.NewFlagSet("unreadwatch", gnuflag.ContinueOnError)
	fs.StringVar(&o.baseURL, "url", "http://localhost:8083", "service base URL")
	fs.StringVar(&o.token, "token", os.Getenv("UNREAD_TOKEN"), "bearer token")
	fs.StringVar(&o.secret, "secret", "", "JWT secret used to mint a token for --user (development only)")
	fs.Int64Var(&o.userID, "user", 0, "user id to mint a token for")
	fs.DurationVar(&o.poll, "poll", client.DefaultPollInterval, "fallback poll interval")
	fs.IntVar(&o.recent, "recent", 0, "print up to N recent unread items on start")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")
	if err := fs.Parse(true, args); err != nil {
		return o, err
	}

	if o.token == "" && o.secret != "" && o.userID > 0 {
		token, err := middleware.NewJWTAuth(o.secret).Issue(o.userID, nil, 24*time.Hour)
		if err != nil {
			return o, err
		}
		o.token = token
	}
	if o.token == "" {
		return o, fmt.Errorf("a token is required: pass --token, set UNREAD_TOKEN, or use --secret with --user")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Nop()
	if opts.verbose {
		if log, err = logger.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *logger.Logger, out io.Writer) error {
	api := client.New(opts.baseURL, opts.token, &http.Client{Timeout: 15 * time.Second}, cache.New(64, 0, nil))

	if opts.recent > 0 {
		items, err := api.Recent(ctx, opts.recent)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintf(out, "  [%s] #%d %s\n", item.Kind, item.ID, item.Preview)
		}
	}

	// The inbox belongs to the token's user; the server rejects any other id.
	userID, err := subjectOf(opts.token)
	if err != nil {
		return err
	}
	events := client.NewSubscriber(api, models.InboxConversation(userID), client.SubscriberOptions{Logger: log})
	provider := client.NewStatusProvider(api, events, client.StatusOptions{
		PollInterval: opts.poll,
		Logger:       log,
		OnEvent:      api.ApplyEvent,
	})
	if err := provider.Start(ctx); err != nil {
		return err
	}
	defer provider.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-provider.Updates():
			if !ok {
				return nil
			}
			log.Debug("status update", zap.Int("total", status.TotalUnreadCount), zap.Bool("stale", status.Stale))
			fmt.Fprintln(out, badge(status))
		}
	}
}

func badge(s client.Status) string {
	if s.IsLoading {
		return "unread: …"
	}
	line := fmt.Sprintf("unread: %d (system %d, messages %d)", s.TotalUnreadCount, s.SystemUnreadCount, s.IMUnreadCount)
	if s.Stale {
		line += " [stale]"
	}
	return line
}

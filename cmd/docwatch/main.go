// Command docwatch tails a user's document list: it fetches the canonical
// snapshot from the docs service, subscribes to the user's push channel, and
// reprints the merged view whenever it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docucr/internal/util"
	"docucr/pkg/docclient"
	"docucr/pkg/domain"
	"docucr/pkg/listview"
	"docucr/pkg/push"
	"docucr/pkg/tracker"
)

func main() {
	var (
		serverURL     = flag.String("server", "http://localhost:8080", "docs service base URL")
		token         = flag.String("token", os.Getenv("DOCUCR_TOKEN"), "bearer token (or DOCUCR_TOKEN)")
		userID        = flag.String("user", "", "user id of the push channel to follow")
		redisAddr     = flag.String("redis", "localhost:6379", "redis address for the push channel")
		redisPassword = flag.String("redis-password", os.Getenv("REDIS_PASSWORD"), "redis password (or REDIS_PASSWORD)")
		statusFilter  = flag.String("status", "", "only list documents with this status")
		search        = flag.String("search", "", "free-text name filter")
		archived      = flag.Bool("archived", false, "include archived documents")
		logLevel      = flag.String("log-level", "warn", "log level: debug, info, warn, error")
	)
	flag.Parse()
	util.InitLogger(*logLevel)

	if strings.TrimSpace(*userID) == "" {
		log.Fatal("docwatch: -user is required")
	}
	if strings.TrimSpace(*token) == "" {
		log.Fatal("docwatch: -token or DOCUCR_TOKEN is required")
	}

	events, err := push.New(push.Config{Addr: *redisAddr, Password: *redisPassword})
	if err != nil {
		log.Fatalf("docwatch: push client: %v", err)
	}
	defer events.Close()

	tasks := tracker.New(tracker.Config{})
	changed := make(chan struct{}, 1)
	view, err := listview.New(listview.Config{
		UserID:  *userID,
		Lister:  docclient.NewClient(*serverURL, *token),
		Source:  listview.NewRedisSource(events),
		Tracker: tasks,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		log.Fatalf("docwatch: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := view.Start(ctx); err != nil {
		log.Fatalf("docwatch: start: %v", err)
	}
	view.SetFilter(ctx, domain.ListFilter{
		Status:          domain.DocumentStatus(*statusFilter),
		Search:          *search,
		IncludeArchived: *archived,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				view.Refresh(ctx)
			case <-changed:
				printRows(view)
			}
		}
	})

	_ = g.Wait()
	_ = view.Close()
}

func printRows(view *listview.Controller) {
	rows := view.Rows()
	fmt.Printf("\n%s  %d documents (total %d)\n", time.Now().Format(time.TimeOnly), len(rows), view.Total())
	if err := view.LastError(); err != nil {
		fmt.Printf("  last fetch error: %v\n", err)
	}
	for _, row := range rows {
		marker := " "
		if row.Pending {
			marker = "*"
		}
		progress := ""
		if row.Progress > 0 && row.Progress < 100 {
			progress = fmt.Sprintf(" %d%%", row.Progress)
		}
		detail := ""
		if row.ErrorMessage != "" {
			detail = "  (" + row.ErrorMessage + ")"
		}
		fmt.Printf("  %s %-36s %-12s%s %s%s\n", marker, row.ID, row.Status, progress, row.Name, detail)
	}
}

package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/xrpc"
	"github.com/robfig/cron/v3"

	"go-redzone/db"
	"go-redzone/processor"
	"go-redzone/types"
)

const (
	feedMethod  = "app.bsky.feed.getFeed"
	publicHost  = "https://public.api.bsky.app" // public endpoint for unauthenticated requests.
	defaultPage = 10
	jobTimeout  = 5 * time.Minute
)

// Feed is one disaster feed generator and the schedule it is pulled on.
type Feed struct {
	Name     string
	URI      string
	Schedule string
	Limit    int
}

// DefaultFeeds are staggered two minutes apart so pulls never overlap.
var DefaultFeeds = []Feed{
	{Name: "Fire", URI: "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejsyozb6iq", Schedule: "*/10 * * * *"},
	{Name: "Earthquake", URI: "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejxlobe474", Schedule: "2-59/10 * * * *"},
	{Name: "Hurricane", URI: "at://did:plc:qiknc4t5rq7yngvz7g4aezq7/app.bsky.feed.generator/aaaejwgffwqky", Schedule: "4-59/10 * * * *"},
}

// GeocodeSchedule runs the geocode sweep between feed pulls.
const GeocodeSchedule = "7-59/10 * * * *"

// FeedFetcher reads hydrated feed pages through xrpc.
type FeedFetcher struct {
	client *xrpc.Client
}

// NewFeedFetcher returns a fetcher for host, or the public AppView when host is "".
func NewFeedFetcher(host string) *FeedFetcher {
	if host == "" {
		host = publicHost
	}
	return &FeedFetcher{client: &xrpc.Client{
		Client: &http.Client{Timeout: 10 * time.Second},
		Host:   host,
	}}
}

// Fetch returns one page of the feed at uri. The limit can be 1 to 100.
func (f *FeedFetcher) Fetch(ctx context.Context, uri string, limit int, cursor string) (types.FeedResponse, error) {
	if limit <= 0 {
		limit = defaultPage
	}
	params := map[string]interface{}{
		"feed":  uri,
		"limit": limit,
	}
	if cursor != "" {
		params["cursor"] = cursor
	}

	var out types.FeedResponse
	if err := f.client.Do(ctx, xrpc.Query, "json", feedMethod, params, nil, &out); err != nil {
		return types.FeedResponse{}, fmt.Errorf("error fetching feed via xrpc: %w", err)
	}
	return out, nil
}

type feedSource interface {
	Fetch(ctx context.Context, uri string, limit int, cursor string) (types.FeedResponse, error)
}

type feedRunner interface {
	RunFeed(ctx context.Context, out types.FeedResponse) []processor.FeedItemResult
}

type geocoder interface {
	Geocode(ctx context.Context, address string) (types.GeoPoint, error)
}

// Jobs holds what the scheduled functions need. Geocoder may be nil, which
// turns the sweep off.
type Jobs struct {
	Feeds      feedSource
	Workflow   feedRunner
	Aggregates db.AggregateStore
	Geocoder   geocoder
}

// IngestFeed pulls one page of feed and runs every post through the workflow.
func (j *Jobs) IngestFeed(ctx context.Context, feed Feed) ([]processor.FeedItemResult, error) {
	out, err := j.Feeds.Fetch(ctx, feed.URI, feed.Limit, "")
	if err != nil {
		return nil, err
	}
	results := j.Workflow.RunFeed(ctx, out)

	inserted, alerts, failed := 0, 0, 0
	for _, r := range results {
		if r.Inserted {
			inserted++
		}
		if r.AlertTriggered {
			alerts++
		}
		if r.Error != "" {
			failed++
		}
	}
	log.Printf("CronJob: %s feed: %d posts, %d new, %d alerts, %d errors", feed.Name, len(results), inserted, alerts, failed)
	return results, nil
}

// GeocodeNewLocations geocodes every aggregate that has no coordinates yet
// and returns how many were updated. Locations with no match are left for
// the next sweep.
func (j *Jobs) GeocodeNewLocations(ctx context.Context) (int, error) {
	if j.Geocoder == nil {
		return 0, nil
	}
	pending, err := j.Aggregates.List(ctx, db.AggregateQuery{OnlyNew: true})
	if err != nil {
		return 0, fmt.Errorf("list new locations: %w", err)
	}

	updated := 0
	var errs []error
	for _, agg := range pending {
		point, err := j.Geocoder.Geocode(ctx, agg.Location)
		if err != nil {
			log.Printf("CronJob: geocode %s failed: %v", agg.Location, err)
			continue
		}
		if err := j.Aggregates.SetGeocode(ctx, agg.Location, point); err != nil {
			errs = append(errs, fmt.Errorf("save geocode for %s: %w", agg.Location, err))
			continue
		}
		updated++
	}
	log.Printf("CronJob: geocoded %d of %d new locations", updated, len(pending))
	return updated, errors.Join(errs...)
}

// InitCronJobs schedules the feed pulls and the geocode sweep and starts the
// scheduler. The caller stops it on shutdown.
func InitCronJobs(jobs *Jobs, feeds []Feed) *cron.Cron {
	log.Println("\nStarting Cron Jobs -------------------------------------------------------")
	c := cron.New()

	for _, feed := range feeds {
		feed := feed
		_, err := c.AddFunc(feed.Schedule, func() {
			log.Printf("\nCronJob: %s Feed Running", feed.Name)
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := jobs.IngestFeed(ctx, feed); err != nil {
				log.Printf("CronJob: %s feed failed: %v", feed.Name, err)
			}
		})
		if err != nil {
			log.Printf("Error scheduling %s Feed: %v", feed.Name, err)
		}
	}

	if jobs.Geocoder != nil {
		_, err := c.AddFunc(GeocodeSchedule, func() {
			log.Println("\nCronJob: Geocode Sweep Running")
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := jobs.GeocodeNewLocations(ctx); err != nil {
				log.Printf("CronJob: geocode sweep: %v", err)
			}
		})
		if err != nil {
			log.Println("Error scheduling Geocode Sweep:", err)
		}
	}

	c.Start()
	return c
}

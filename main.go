package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"github.com/spf13/pflag"

	"go-redzone/alerting"
	"go-redzone/classifier"
	"go-redzone/config"
	"go-redzone/cronjobs"
	"go-redzone/db"
	"go-redzone/detection"
	"go-redzone/dispatch"
	"go-redzone/geocode"
	"go-redzone/intent"
	"go-redzone/llm"
	"go-redzone/mlmodel"
	"go-redzone/nlp"
	"go-redzone/processor"
	"go-redzone/routes"
	"go-redzone/sms"
	"go-redzone/summarization"
	"go-redzone/voice"
)

const shutdownGrace = 30 * time.Second

type stores struct {
	reports    db.ReportStore
	aggregates db.AggregateStore
	users      db.UserDirectory
	closers    []func() error
}

func (s *stores) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}
	switch cfg.Storage.Backend {
	case config.BackendFirestore:
		client, err := db.InitFirestore(ctx, cfg.Storage.FirebaseCredentials, cfg.Storage.FirebaseProjectID)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.reports = db.NewFirestoreReports(client)
		s.aggregates = db.NewFirestoreAggregates(client)
		s.users = db.NewFirestoreUsers(client)
	case config.BackendPostgres:
		sqlDB, err := db.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqlDB.Close)
		pg := db.NewPostgres(sqlDB)
		if err := pg.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.reports, s.aggregates, s.users = pg, pg, pg
	default:
		m := db.NewMemory()
		s.reports, s.aggregates, s.users = m, m, m
	}

	if cfg.Storage.Aggregates == config.BackendRedis {
		rdb := db.NewRedisClient(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, rdb.Close)
		s.aggregates = db.NewRedisAggregates(rdb)
	}
	log.Printf("Storage: %s (aggregates: %s)", cfg.Storage.Backend, orDefault(cfg.Storage.Aggregates, cfg.Storage.Backend))
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	seedPath := pflag.String("seed-users", "", "YAML file of users to upsert at startup")
	pflag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer st.close()

	if *seedPath != "" {
		f, err := os.Open(*seedPath)
		if err != nil {
			log.Fatalf("Failed to open user seed: %v", err)
		}
		n, err := db.SeedUsers(ctx, st.users, f)
		f.Close()
		if err != nil {
			log.Fatalf("Failed to seed users: %v", err)
		}
		log.Printf("Seeded %d users", n)
	}

	// The LLM is optional with the mlmodel classifier; intents and summaries
	// then fall back to patterns and no summary.
	var llmClient llm.Client
	if cfg.LLMAPIKey() != "" {
		llmClient, err = llm.New(llm.Config{Provider: cfg.LLM.Provider, APIKey: cfg.LLMAPIKey(), Model: cfg.LLM.Model})
		if err != nil {
			log.Fatalf("Failed to create LLM client: %v", err)
		}
	}

	var cls classifier.Classifier
	switch cfg.Classifier.Backend {
	case config.ClassifierMLModel:
		model := mlmodel.New(cfg.Classifier.MLModelURL)
		if err := model.Ping(ctx); err != nil {
			log.Printf("Warning: ML model at %s is not answering: %v", cfg.Classifier.MLModelURL, err)
		}
		cls = model
	default:
		var resolver classifier.LocationResolver
		if cfg.NaturalLanguageCredentials != "" {
			langClient, err := nlp.InitLanguageClient(ctx, cfg.NaturalLanguageCredentials)
			if err != nil {
				log.Fatalf("Failed to create Natural Language client: %v", err)
			}
			defer langClient.Close()
			resolver = nlp.NewLocationResolver(langClient)
		}
		cls = classifier.NewLLMClassifier(llmClient, resolver)
	}

	var extractor intent.Extractor = intent.NewPatternExtractor()
	if llmClient != nil {
		extractor = &intent.FallbackExtractor{Primary: intent.NewLLMExtractor(llmClient), Fallback: extractor}
	}

	var calls voice.CallProvider = voice.NewSimulated()
	if cfg.VoiceConfigured() {
		vapi, err := voice.NewVapi(voice.VapiConfig{
			APIKey:        cfg.Voice.VapiAPIKey,
			AssistantID:   cfg.Voice.VapiAssistantID,
			PhoneNumberID: cfg.Voice.VapiPhoneNumberID,
			BaseURL:       cfg.Voice.VapiBaseURL,
		})
		if err != nil {
			log.Fatalf("Failed to configure Vapi: %v", err)
		}
		calls = vapi
	} else {
		log.Println("Voice: no Vapi credentials, calls are simulated")
	}

	var texts sms.Provider = sms.LogProvider{}
	if cfg.SMSConfigured() {
		twilio, err := sms.NewTwilio(sms.TwilioConfig{
			AccountSID: cfg.SMS.TwilioAccountSID,
			AuthToken:  cfg.SMS.TwilioAuthToken,
			From:       cfg.SMS.TwilioFrom,
		})
		if err != nil {
			log.Fatalf("Failed to configure Twilio: %v", err)
		}
		texts = twilio
	}

	dispatcher := dispatch.NewDispatcher(st.users, calls, texts, extractor, dispatch.Options{})

	runnerOpts := dispatch.RunnerOptions{
		Cooldown:    time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
		CallTimeout: time.Duration(cfg.Alerts.CallTimeoutMinutes) * time.Minute,
	}
	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		runnerOpts.Notifier = alerting.NewSlack(slack.New(cfg.Slack.BotToken), cfg.Slack.Channel)
	}
	if llmClient != nil {
		runnerOpts.Summarizer = summarization.New(st.reports, llmClient)
	}
	runner := dispatch.NewRunner(dispatcher, runnerOpts)

	aggregator := processor.NewAggregator(st.aggregates)
	evaluator := detection.NewEvaluator(cfg.Alerts.Thresholds)
	workflow := processor.NewWorkflow(cls, st.reports, aggregator, evaluator, runner)

	deps := routes.Deps{
		Classifier:  cls,
		Reports:     st.reports,
		Aggregates:  st.aggregates,
		Aggregator:  aggregator,
		Dispatcher:  dispatcher,
		Workflow:    workflow,
		AllowOrigin: cfg.ClientURL,
	}
	jobs := &cronjobs.Jobs{
		Feeds:      cronjobs.NewFeedFetcher(cfg.Cron.FeedHost),
		Workflow:   workflow,
		Aggregates: st.aggregates,
	}
	if cfg.MapsAPIKey != "" {
		mapsClient, err := geocode.NewMapsClient(cfg.MapsAPIKey)
		if err != nil {
			log.Fatalf("Failed to create maps client: %v", err)
		}
		g := geocode.New(mapsClient)
		deps.Geocoder = g
		jobs.Geocoder = g
	}

	if cfg.Cron.Enabled {
		c := cronjobs.InitCronJobs(jobs, cronjobs.DefaultFeeds)
		defer c.Stop()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: routes.SetupRouter(deps),
	}
	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Printf("Dispatches cancelled at shutdown: %v", err)
	}
}

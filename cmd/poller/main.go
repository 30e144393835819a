package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hookrelay/internal/awsutil"
	"hookrelay/internal/config"
	"hookrelay/internal/httpserver"
	"hookrelay/internal/logging"
	"hookrelay/internal/observability"
	"hookrelay/internal/poller"
	"hookrelay/internal/providers/gmailer"
	"hookrelay/internal/providers/twilio"
	"hookrelay/internal/providers/vapi"
	sqsqueue "hookrelay/internal/queue/sqs"
	"hookrelay/internal/service"
	"hookrelay/internal/store/pg"
	"hookrelay/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadPoller()
	logging.Init("poller", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("poller db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("poller sqs client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if _, err := sqsClient.GetQueueAttributes(startupCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &cfg.SQSQueueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	}); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	httpTimeout := cfg.Dispatch.ProviderTimeout
	if httpTimeout <= 0 {
		httpTimeout = 8 * time.Second
	}
	gm := &gmailer.Client{
		BaseURL: cfg.Providers.GmailBaseURL,
		HTTP:    &http.Client{Timeout: httpTimeout},
	}

	dispatcher := &service.Dispatcher{
		Store:    st,
		Contacts: &service.Contacts{Store: st, Source: "gmail"},
		Mail:     gm,
		Defaults: service.DispatchDefaults{
			CountryCode:     cfg.Dispatch.DefaultCountryCode,
			PhoneNumberID:   cfg.Dispatch.DefaultPhoneNumberID,
			AssistantID:     cfg.Dispatch.DefaultAssistantID,
			CampaignName:    cfg.Dispatch.CampaignName,
			LaunchDelay:     cfg.Dispatch.CampaignLaunchDelay,
			ProviderTimeout: cfg.Dispatch.ProviderTimeout,
		},
	}
	if cfg.Providers.TwilioAccountSID != "" && cfg.Providers.TwilioAuthToken != "" {
		dispatcher.SMS = &twilio.Client{
			AccountSID: cfg.Providers.TwilioAccountSID,
			AuthToken:  cfg.Providers.TwilioAuthToken,
			FromNumber: cfg.Providers.TwilioFromNumber,
			BaseURL:    cfg.Providers.TwilioBaseURL,
			HTTP:       &http.Client{Timeout: httpTimeout},
		}
		dispatcher.SMSLimiter = rate.NewLimiter(rate.Limit(cfg.Providers.TwilioRPSPerPod), cfg.Providers.TwilioBurst)
	}
	if cfg.Providers.VapiAPIKey != "" {
		dispatcher.Voice = &vapi.Client{
			APIKey:  cfg.Providers.VapiAPIKey,
			BaseURL: cfg.Providers.VapiBaseURL,
			HTTP:    &http.Client{Timeout: httpTimeout},
		}
		dispatcher.VoiceBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vapi",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		})
	}

	p := &poller.Poller{
		Store:      st,
		Open:       func(token string) poller.Mailbox { return gm.User(token) },
		Dispatcher: dispatcher,
		IDGen:      util.NewPayloadID,
		Interval:   cfg.PollInterval,
		MaxResults: cfg.PollMaxResults,
	}

	opsSrv := &http.Server{
		Addr: ":" + cfg.MetricsPort,
		Handler: httpserver.NewOpsMux(2*time.Second,
			func(c context.Context) error { return db.Ping(c) },
			func(c context.Context) error {
				_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
					QueueUrl:       &cfg.SQSQueueURL,
					AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
				})
				return err
			},
		),
	}
	opsErrCh := make(chan error, 1)
	go func() {
		slog.Info("poller ops listening", "port", cfg.MetricsPort)
		opsErrCh <- opsSrv.ListenAndServe()
	}()

	// periodic sweep of every gmail webhook
	go p.Start(ctx)

	consumer := &sqsqueue.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// push notifications narrow the sweep to one mailbox
	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("poller consuming triggers", "queue_url", cfg.SQSQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.WorkerConcurrency, func(ctx context.Context, ev sqsqueue.PollTrigger) error {
			start := time.Now()
			err := p.PollEmail(ctx, ev.EmailAddress)
			slog.Info("poll trigger handled",
				"email", ev.EmailAddress,
				"history_id", ev.HistoryID,
				"duration", time.Since(start),
				"err", err,
			)
			return err
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("poller consume failed", "err", err)
			os.Exit(1)
		}
	case err := <-opsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("poller ops server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("poller shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = opsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("poller shutdown timeout waiting for consume loop")
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hookrelay/internal/awsutil"
	"hookrelay/internal/config"
	"hookrelay/internal/httpserver"
	"hookrelay/internal/logging"
	"hookrelay/internal/observability"
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

	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("api sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	st := pg.New(db)
	producer := &sqsqueue.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	dispatcher := newDispatcher(st, cfg.Providers, cfg.Dispatch)

	contacts := dispatcher.Contacts
	ingest := &service.Ingest{
		Registry:   &service.Registry{Store: st},
		Store:      st,
		Contacts:   contacts,
		Dispatcher: dispatcher,
		IDGen:      util.NewPayloadID,
	}

	s := httpserver.New()
	// Metrics runs inside the router so the matched route template is available
	// as its label.
	s.Mux.Use(httpserver.Metrics)
	api := &httpserver.API{Ingest: ingest, Queue: producer}
	api.Register(s.Mux)

	handler := httpserver.Logging(s.Mux)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}

	opsSrv := &http.Server{
		Addr: ":" + cfg.MetricsPort,
		Handler: httpserver.NewOpsMux(2*time.Second, func(ctx context.Context) error {
			return db.Ping(ctx)
		}),
	}
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api ops server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = opsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}

// newDispatcher wires the provider clients off config. Unconfigured providers
// stay nil so their branches skip instead of erroring.
func newDispatcher(st *pg.Store, p config.ProviderConfig, d config.DispatchConfig) *service.Dispatcher {
	httpTimeout := d.ProviderTimeout
	if httpTimeout <= 0 {
		httpTimeout = 8 * time.Second
	}

	disp := &service.Dispatcher{
		Store:    st,
		Contacts: &service.Contacts{Store: st, Source: "webhook"},
		Defaults: service.DispatchDefaults{
			CountryCode:     d.DefaultCountryCode,
			PhoneNumberID:   d.DefaultPhoneNumberID,
			AssistantID:     d.DefaultAssistantID,
			CampaignName:    d.CampaignName,
			LaunchDelay:     d.CampaignLaunchDelay,
			ProviderTimeout: d.ProviderTimeout,
		},
	}

	disp.Mail = &gmailer.Client{
		BaseURL: p.GmailBaseURL,
		HTTP:    &http.Client{Timeout: httpTimeout},
	}

	if p.TwilioAccountSID != "" && p.TwilioAuthToken != "" {
		disp.SMS = &twilio.Client{
			AccountSID: p.TwilioAccountSID,
			AuthToken:  p.TwilioAuthToken,
			FromNumber: p.TwilioFromNumber,
			BaseURL:    p.TwilioBaseURL,
			HTTP:       &http.Client{Timeout: httpTimeout},
		}
		disp.SMSLimiter = rate.NewLimiter(rate.Limit(p.TwilioRPSPerPod), p.TwilioBurst)
	}

	if p.VapiAPIKey != "" {
		disp.Voice = &vapi.Client{
			APIKey:  p.VapiAPIKey,
			BaseURL: p.VapiBaseURL,
			HTTP:    &http.Client{Timeout: httpTimeout},
		}
		disp.VoiceBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "vapi",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		})
	}

	return disp
}

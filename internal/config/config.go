package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// AWS / SQS (poll-trigger queue for Gmail push notifications)
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	Providers ProviderConfig
	Dispatch  DispatchConfig
}

type PollerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"2m"`
	PollMaxResults int           `envconfig:"POLL_MAX_RESULTS" default:"25"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"8"`

	Providers ProviderConfig
	Dispatch  DispatchConfig
}

// ProviderConfig covers the outbound integrations. Every provider is
// optional; an unconfigured one downgrades its action branch to a logged skip.
type ProviderConfig struct {
	// Twilio
	TwilioAccountSID string  `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string  `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string  `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL    string  `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
	TwilioRPSPerPod  float64 `envconfig:"TWILIO_RPS_PER_POD" default:"5"`
	TwilioBurst      int     `envconfig:"TWILIO_BURST" default:"10"`

	// Voice campaign platform
	VapiAPIKey  string `envconfig:"VAPI_API_KEY"`
	VapiBaseURL string `envconfig:"VAPI_BASE_URL" default:"https://api.vapi.ai"`

	// Gmail REST API
	GmailBaseURL string `envconfig:"GMAIL_BASE_URL" default:"https://gmail.googleapis.com/gmail/v1"`
}

// DispatchConfig carries the fallback values the action branches reach for
// when a webhook's own configuration leaves a slot empty.
type DispatchConfig struct {
	DefaultCountryCode   string        `envconfig:"DEFAULT_COUNTRY_CODE" default:"1"`
	DefaultPhoneNumberID string        `envconfig:"DEFAULT_PHONE_NUMBER_ID"`
	DefaultAssistantID   string        `envconfig:"DEFAULT_ASSISTANT_ID"`
	CampaignName         string        `envconfig:"CAMPAIGN_NAME" default:"Webhook Lead Campaign"`
	CampaignLaunchDelay  time.Duration `envconfig:"CAMPAIGN_LAUNCH_DELAY" default:"30s"`
	ProviderTimeout      time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"8s"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadPoller() PollerConfig {
	var cfg PollerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"hookrelay/internal/domain"
	"hookrelay/internal/observability"
	"hookrelay/internal/providers/gmailer"
	"hookrelay/internal/providers/twilio"
	"hookrelay/internal/providers/vapi"
	"hookrelay/internal/store"
	"hookrelay/internal/template"
	"hookrelay/internal/util"
)

type DispatchStore interface {
	ContactStore
	FindWebhookByToken(ctx context.Context, token string) (domain.Webhook, bool, error)
	InsertSubWebhook(ctx context.Context, in store.SubWebhookInsert) error
	MarkWebhookDataProcessed(ctx context.Context, id string, now time.Time) error
	LatestPhoneNumberID(ctx context.Context, userID string) (string, bool, error)
	LatestAssistantID(ctx context.Context, userID string) (string, bool, error)
	UserEmail(ctx context.Context, userID string) (string, bool, error)
	GmailToken(ctx context.Context, userID string) (string, bool, error)
}

type MailSender interface {
	Send(ctx context.Context, userToken string, req gmailer.SendRequest) (gmailer.SendResult, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body, from string) (twilio.SendResponse, error)
}

type VoicePlatform interface {
	ValidatePhoneNumber(ctx context.Context, id string) error
	CreateCampaign(ctx context.Context, req vapi.CreateCampaignRequest) (vapi.Campaign, error)
	SetCampaignStatus(ctx context.Context, id, status string) error
}

// DispatchDefaults are the environment-level fallbacks used when an action
// card omits its config.
type DispatchDefaults struct {
	CountryCode     string // e.g. "+1"
	PhoneNumberID   string
	AssistantID     string
	CampaignName    string
	LaunchDelay     time.Duration
	ProviderTimeout time.Duration
}

// Dispatcher fans one inbound payload out to every connected action card.
// Each branch is an isolated failure domain: whatever happens inside it is
// recorded on its DispatchOutcome and never reaches a sibling branch or the
// caller.
type Dispatcher struct {
	Store    DispatchStore
	Contacts *Contacts

	Mail  MailSender    // nil when Gmail sending is not configured
	SMS   SMSSender     // nil when Twilio is not configured
	Voice VoicePlatform // nil when the voice platform is not configured

	SMSLimiter   *rate.Limiter
	VoiceBreaker *gobreaker.CircuitBreaker

	Defaults DispatchDefaults
}

type branchFunc func(ctx context.Context, cfg domain.ActionConfig, wh domain.Webhook, payloadID string, payload map[string]any, fields domain.ContactFields) domain.DispatchOutcome

// Dispatch runs all four branches for one stored payload. Branches run
// sequentially but share no state, so reordering or parallelizing them is
// safe.
func (d *Dispatcher) Dispatch(ctx context.Context, wh domain.Webhook, payloadID string, payload map[string]any, fields domain.ContactFields) []domain.DispatchOutcome {
	cfg := domain.ParseActionConfig(wh.ActionConfig)

	branches := []struct {
		typ domain.ActionType
		fn  branchFunc
	}{
		{domain.ActionGmail, d.gmailBranch},
		{domain.ActionLists, d.listsBranch},
		{domain.ActionCampaign, d.campaignBranch},
		{domain.ActionText, d.textBranch},
	}

	outcomes := make([]domain.DispatchOutcome, 0, len(branches))
	for _, b := range branches {
		out := d.runBranch(ctx, b.typ, b.fn, cfg, wh, payloadID, payload, fields)
		switch {
		case out.Skipped:
			observability.Dispatches.WithLabelValues(string(b.typ), "skipped").Inc()
			slog.Debug("branch skipped", "webhook_id", wh.WebhookID, "branch", b.typ, "reason", out.SkipReason)
		case out.Err != "":
			observability.Dispatches.WithLabelValues(string(b.typ), "error").Inc()
			slog.Error("branch failed", "webhook_id", wh.WebhookID, "branch", b.typ, "err", out.Err)
		default:
			observability.Dispatches.WithLabelValues(string(b.typ), "ok").Inc()
			slog.Info("branch dispatched", "webhook_id", wh.WebhookID, "branch", b.typ, "provider_msg_id", out.ProviderMsgID)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// runBranch is the failure boundary: a panicking branch becomes an error
// outcome instead of taking down its siblings.
func (d *Dispatcher) runBranch(ctx context.Context, typ domain.ActionType, fn branchFunc, cfg domain.ActionConfig, wh domain.Webhook, payloadID string, payload map[string]any, fields domain.ContactFields) (out domain.DispatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.DispatchOutcome{Branch: typ, Err: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn(ctx, cfg, wh, payloadID, payload, fields)
}

func skip(typ domain.ActionType, reason string) domain.DispatchOutcome {
	return domain.DispatchOutcome{Branch: typ, Skipped: true, SkipReason: reason}
}

func fail(typ domain.ActionType, err error) domain.DispatchOutcome {
	return domain.DispatchOutcome{Branch: typ, Err: err.Error()}
}

func (d *Dispatcher) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.Defaults.ProviderTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// --- Gmail notification branch -------------------------------------------

func (d *Dispatcher) gmailBranch(ctx context.Context, cfg domain.ActionConfig, wh domain.Webhook, _ string, payload map[string]any, fields domain.ContactFields) domain.DispatchOutcome {
	const typ = domain.ActionGmail

	card, ok := cfg.ConnectedCard(typ)
	if !ok {
		return skip(typ, "no connected gmail card")
	}

	if card.GmailConfig != nil && card.GmailConfig.To != "" {
		out := d.sendConfiguredMail(ctx, wh, *card.GmailConfig, payload, fields)
		if out.Err == "" {
			return out
		}
		// Configured send failed; the default notification is the fallback.
		slog.Warn("configured gmail send failed, falling back to default notification",
			"webhook_id", wh.WebhookID, "err", out.Err)
		return d.sendDefaultMail(ctx, wh, card.GmailConfig.To, fields)
	}

	// Bare card, no usable recipient configured: default notification to the
	// webhook owner.
	return d.sendDefaultMail(ctx, wh, "", fields)
}

func (d *Dispatcher) sendConfiguredMail(ctx context.Context, wh domain.Webhook, cfg domain.GmailConfig, payload map[string]any, fields domain.ContactFields) domain.DispatchOutcome {
	flat := template.Flatten(payload)
	subject := template.RenderFlat(cfg.Subject, flat)
	body := template.RenderFlat(cfg.Body, flat)
	isHTML := false
	if subject == "" {
		subject = template.DefaultSubject(fields)
	}
	if body == "" {
		body = template.DefaultBody(fields)
		isHTML = true
	}

	return d.deliverMail(ctx, wh, gmailer.SendRequest{
		To: cfg.To, CC: cfg.CC, BCC: cfg.BCC,
		Subject: subject, Body: body, IsHTML: isHTML,
	})
}

func (d *Dispatcher) sendDefaultMail(ctx context.Context, wh domain.Webhook, recipient string, fields domain.ContactFields) domain.DispatchOutcome {
	const typ = domain.ActionGmail

	if recipient == "" {
		email, found, err := d.Store.UserEmail(ctx, wh.UserID)
		if err != nil {
			return fail(typ, err)
		}
		if !found {
			return skip(typ, "no recipient resolvable")
		}
		recipient = email
	}

	return d.deliverMail(ctx, wh, gmailer.SendRequest{
		To:      recipient,
		Subject: template.DefaultSubject(fields),
		Body:    template.DefaultBody(fields),
		IsHTML:  true,
	})
}

func (d *Dispatcher) deliverMail(ctx context.Context, wh domain.Webhook, req gmailer.SendRequest) domain.DispatchOutcome {
	const typ = domain.ActionGmail

	if d.Mail == nil {
		slog.Info("mail sender unconfigured, would have sent",
			"webhook_id", wh.WebhookID, "to", req.To, "subject", req.Subject)
		return skip(typ, "mail sender unconfigured")
	}
	token, found, err := d.Store.GmailToken(ctx, wh.UserID)
	if err != nil {
		return fail(typ, err)
	}
	if !found {
		slog.Info("no gmail credentials for user, would have sent",
			"webhook_id", wh.WebhookID, "user_id", wh.UserID, "to", req.To)
		return skip(typ, "no gmail credentials")
	}

	sendCtx, cancel := d.providerCtx(ctx)
	defer cancel()
	start := time.Now()
	res, err := d.Mail.Send(sendCtx, token, req)
	observability.ProviderLatency.WithLabelValues("gmail").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderSend.WithLabelValues("gmail", "error").Inc()
		return fail(typ, err)
	}
	observability.ProviderSend.WithLabelValues("gmail", "ok").Inc()
	return domain.DispatchOutcome{Branch: typ, Success: true, ProviderMsgID: res.MessageID}
}

// --- List-storage branch ---------------------------------------------------

func (d *Dispatcher) listsBranch(ctx context.Context, cfg domain.ActionConfig, wh domain.Webhook, payloadID string, _ map[string]any, fields domain.ContactFields) domain.DispatchOutcome {
	const typ = domain.ActionLists

	card, ok := cfg.ConnectedCard(typ)
	if !ok || card.SelectedListID == "" {
		return skip(typ, "no connected list card")
	}
	if fields.Email == "" && fields.Phone == "" {
		return skip(typ, "payload has neither email nor phone")
	}
	listID := card.SelectedListID.String()

	// The list-storage sub-webhook is the only row this core ever creates,
	// once per (source webhook, list) pair.
	if err := d.ensureSubWebhook(ctx, wh, listID); err != nil {
		slog.Warn("list-storage sub-webhook ensure failed", "webhook_id", wh.WebhookID, "list_id", listID, "err", err)
	}

	inserted, err := d.Contacts.UpsertListScope(ctx, wh.UserID, listID, fields)
	if err != nil {
		return fail(typ, err)
	}
	if payloadID != "" {
		if err := d.Store.MarkWebhookDataProcessed(ctx, payloadID, util.NowUTC()); err != nil {
			slog.Warn("mark payload processed failed", "payload_id", payloadID, "err", err)
		}
	}
	if !inserted {
		return skip(typ, "contact already in list")
	}
	return domain.DispatchOutcome{Branch: typ, Success: true}
}

func (d *Dispatcher) ensureSubWebhook(ctx context.Context, wh domain.Webhook, listID string) error {
	token := wh.WebhookID + "_list_" + listID
	_, found, err := d.Store.FindWebhookByToken(ctx, token)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return d.Store.InsertSubWebhook(ctx, store.SubWebhookInsert{
		ID:        util.NewWebhookID(),
		WebhookID: token,
		UserID:    wh.UserID,
		ListID:    listID,
		URL:       "/webhook-data/list-storage/" + token,
		Now:       util.NowUTC(),
	})
}

// --- Outbound-campaign branch ----------------------------------------------

// campaignConfigFor derives a campaign configuration via four routes, in
// order: an explicit card config, a bare connected card running on env
// defaults, a legacy workflow-config action, and finally a synthesized config
// when list storage is set up and both env defaults exist. The last route is
// inherited behavior: list-storage webhooks historically implied a call
// campaign.
func (d *Dispatcher) campaignConfigFor(cfg domain.ActionConfig) (domain.CampaignConfig, bool) {
	if card, ok := cfg.ConnectedCard(domain.ActionCampaign); ok {
		if card.CampaignConfig != nil {
			return *card.CampaignConfig, true
		}
		return domain.CampaignConfig{
			PhoneNumberID: d.Defaults.PhoneNumberID,
			AssistantID:   d.Defaults.AssistantID,
		}, true
	}

	if cfg.Workflow != nil {
		for _, a := range cfg.Workflow.Actions {
			if a.Type != "outbound-campaign" {
				continue
			}
			var c domain.CampaignConfig
			if len(a.Config) > 0 {
				_ = json.Unmarshal(a.Config, &c)
			}
			return c, true
		}
	}

	if card, ok := cfg.ConnectedCard(domain.ActionLists); ok && card.SelectedListID != "" &&
		d.Defaults.PhoneNumberID != "" && d.Defaults.AssistantID != "" {
		return domain.CampaignConfig{
			PhoneNumberID: d.Defaults.PhoneNumberID,
			AssistantID:   d.Defaults.AssistantID,
		}, true
	}

	return domain.CampaignConfig{}, false
}

func (d *Dispatcher) campaignBranch(ctx context.Context, cfg domain.ActionConfig, wh domain.Webhook, _ string, payload map[string]any, fields domain.ContactFields) domain.DispatchOutcome {
	const typ = domain.ActionCampaign

	campaign, ok := d.campaignConfigFor(cfg)
	if !ok {
		return skip(typ, "no campaign configuration derivable")
	}
	if d.Voice == nil {
		return skip(typ, "voice platform unconfigured")
	}

	// Each precondition is a distinct early exit: log and skip, never raise.
	phoneNumberID := campaign.PhoneNumberID
	if stored, found, err := d.Store.LatestPhoneNumberID(ctx, wh.UserID); err != nil {
		return fail(typ, err)
	} else if found {
		phoneNumberID = stored
	}
	if phoneNumberID == "" {
		phoneNumberID = d.Defaults.PhoneNumberID
	}
	if phoneNumberID == "" {
		return skip(typ, "no phone number id resolvable")
	}

	assistantID := campaign.AssistantID
	workflowID := campaign.WorkflowID
	if assistantID == "" && workflowID == "" {
		stored, found, err := d.Store.LatestAssistantID(ctx, wh.UserID)
		if err != nil {
			return fail(typ, err)
		}
		if !found {
			return skip(typ, "no assistant or workflow id resolvable")
		}
		assistantID = stored
	}

	if err := d.voiceCall(ctx, func(c context.Context) error {
		return d.Voice.ValidatePhoneNumber(c, phoneNumberID)
	}); err != nil {
		slog.Warn("campaign phone number failed validation",
			"webhook_id", wh.WebhookID, "phone_number_id", phoneNumberID, "err", err)
		return skip(typ, "phone number failed platform validation")
	}

	destination := fields.Phone
	if destination == "" {
		destination = scanPayloadPhone(payload)
	}
	destination = util.NormalizePhone(destination, d.Defaults.CountryCode)
	if destination == "" {
		return skip(typ, "no valid destination phone in payload")
	}

	name := campaign.Name
	if name == "" {
		name = d.Defaults.CampaignName
	}
	if name == "" {
		name = "Webhook campaign " + util.NowUTC().Format("2006-01-02 15:04")
	}
	customerName := fields.Name
	if customerName == "" {
		customerName = "Lead"
	}

	var created vapi.Campaign
	err := d.voiceCall(ctx, func(c context.Context) error {
		var callErr error
		created, callErr = d.Voice.CreateCampaign(c, vapi.CreateCampaignRequest{
			Name:          name,
			PhoneNumberID: phoneNumberID,
			Customers:     []vapi.Customer{{Name: customerName, Number: destination, Email: fields.Email}},
			AssistantID:   assistantID,
			WorkflowID:    workflowID,
		})
		return callErr
	})
	observability.ProviderSend.WithLabelValues("vapi", result(err)).Inc()
	if err != nil {
		return fail(typ, err)
	}

	d.launchCampaignLater(created.ID, wh.WebhookID)
	return domain.DispatchOutcome{Branch: typ, Success: true, ProviderMsgID: created.ID}
}

// launchCampaignLater tries the scheduled -> in-progress transition after a
// short delay. Best effort: the campaign exists either way.
func (d *Dispatcher) launchCampaignLater(campaignID, webhookID string) {
	delay := d.Defaults.LaunchDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	go func() {
		time.Sleep(delay)
		ctx, cancel := d.providerCtx(context.Background())
		defer cancel()
		if err := d.Voice.SetCampaignStatus(ctx, campaignID, vapi.StatusInProgress); err != nil {
			slog.Warn("campaign launch failed", "webhook_id", webhookID, "campaign_id", campaignID, "err", err)
			return
		}
		slog.Info("campaign launched", "webhook_id", webhookID, "campaign_id", campaignID)
	}()
}

func (d *Dispatcher) voiceCall(ctx context.Context, call func(context.Context) error) error {
	run := func() (any, error) {
		c, cancel := d.providerCtx(ctx)
		defer cancel()
		start := time.Now()
		err := call(c)
		observability.ProviderLatency.WithLabelValues("vapi").Observe(time.Since(start).Seconds())
		return nil, err
	}
	if d.VoiceBreaker == nil {
		_, err := run()
		return err
	}
	_, err := d.VoiceBreaker.Execute(run)
	return err
}

// --- Text/SMS branch -------------------------------------------------------

// legacy workflow action types that mean "send a text"
var legacyTextTypes = map[string]bool{"text-webhook": true, "send-sms": true, "sms": true}

func (d *Dispatcher) textConfigFor(cfg domain.ActionConfig) (domain.TextConfig, bool) {
	if card, ok := cfg.ConnectedCard(domain.ActionText); ok && card.TextConfig != nil {
		return *card.TextConfig, true
	}
	if cfg.Workflow != nil {
		for _, a := range cfg.Workflow.Actions {
			if !legacyTextTypes[a.Type] {
				continue
			}
			var c domain.TextConfig
			if len(a.Config) > 0 {
				_ = json.Unmarshal(a.Config, &c)
			}
			return c, true
		}
	}
	return domain.TextConfig{}, false
}

func (d *Dispatcher) textBranch(ctx context.Context, cfg domain.ActionConfig, wh domain.Webhook, _ string, payload map[string]any, fields domain.ContactFields) domain.DispatchOutcome {
	const typ = domain.ActionText

	textCfg, ok := d.textConfigFor(cfg)
	if !ok {
		return skip(typ, "no text-webhook configuration")
	}

	raw := scanPayloadPhone(payload)
	if raw == "" {
		raw = fields.Phone
	}
	to := util.NormalizePhone(raw, d.Defaults.CountryCode)
	if to == "" {
		return skip(typ, "no phone number in payload")
	}

	if d.SMS == nil {
		slog.Info("sms sender unconfigured, would have sent", "webhook_id", wh.WebhookID, "to", to)
		return skip(typ, "sms sender unconfigured")
	}

	body := template.Render(textCfg.Message, template.Vars(fields, payload))
	if body == "" {
		body = template.DefaultSMS(fields)
	}

	if d.SMSLimiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := d.SMSLimiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return fail(typ, fmt.Errorf("sms rate limit: %w", err))
		}
	}

	sendCtx, cancel := d.providerCtx(ctx)
	defer cancel()
	start := time.Now()
	resp, err := d.SMS.SendSMS(sendCtx, to, body, textCfg.FromNumber)
	observability.ProviderLatency.WithLabelValues("twilio").Observe(time.Since(start).Seconds())
	observability.ProviderSend.WithLabelValues("twilio", result(err)).Inc()
	if err != nil {
		return fail(typ, err)
	}
	return domain.DispatchOutcome{Branch: typ, Success: true, ProviderMsgID: resp.Sid}
}

// phoneKeys is the fixed candidate list the text branch scans, in order.
var phoneKeys = []string{"phone", "phoneNumber", "phone_number", "mobile", "mobileNumber", "mobile_number", "tel", "telephone", "contact_phone", "contactPhone", "number"}

// scanPayloadPhone looks for a phone value at the top level and inside the
// .data and .payload sub-objects that several form providers wrap around the
// real fields.
func scanPayloadPhone(payload map[string]any) string {
	scopes := []map[string]any{payload}
	for _, wrapper := range []string{"data", "payload"} {
		if sub, ok := payload[wrapper].(map[string]any); ok {
			scopes = append(scopes, sub)
		}
	}
	for _, scope := range scopes {
		for _, key := range phoneKeys {
			if v, ok := scope[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
			}
		}
	}
	return ""
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

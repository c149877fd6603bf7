package bus

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/meridian-run/meridian/core"
)

// SlackWiseProvider is the default Wise Authority adapter: deferrals
// and review requests are posted to a Slack channel for a human
// reviewer, the simplest concrete notification channel the §6 Wise
// contract names (every other adapter stays pluggable).
type SlackWiseProvider struct {
	api       *goslack.Client
	channelID string
	logger    core.Logger
}

// NewSlackWiseProvider creates a Wise Authority adapter backed by a
// Slack bot token, posting to channelID.
func NewSlackWiseProvider(token, channelID string, logger core.Logger) *SlackWiseProvider {
	return newSlackWiseProvider(token, channelID, logger)
}

// NewSlackWiseProviderWithAPIURL targets a custom Slack API URL, for
// tests that stand up a mock server.
func NewSlackWiseProviderWithAPIURL(token, channelID, apiURL string, logger core.Logger) *SlackWiseProvider {
	p := newSlackWiseProvider(token, channelID, logger)
	p.api = goslack.New(token, goslack.OptionAPIURL(apiURL))
	return p
}

func newSlackWiseProvider(token, channelID string, logger core.Logger) *SlackWiseProvider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SlackWiseProvider{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    logger,
	}
}

func (p *SlackWiseProvider) post(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, _, err := p.api.PostMessageContext(ctx, p.channelID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("bus: slack wise provider: %w", err)
	}
	return nil
}

// SendDeferral posts a deferral notice with its context fields inline.
func (p *SlackWiseProvider) SendDeferral(ctx context.Context, reason string, deferCtx map[string]interface{}) error {
	return p.post(ctx, fmt.Sprintf(":warning: Deferral: %s %v", reason, deferCtx))
}

// FetchGuidance posts the question and returns immediately — a human
// reviewer's reply is out of band (read via RequestReview's own
// channel history or a separate polling mechanism); this adapter's
// contract is notification, not synchronous Q&A.
func (p *SlackWiseProvider) FetchGuidance(ctx context.Context, question string) (string, error) {
	if err := p.post(ctx, fmt.Sprintf(":grey_question: Guidance requested: %s", question)); err != nil {
		return "", err
	}
	return "", nil
}

// RequestReview posts an identity-variance or policy-breach review
// request — the entry point the identity variance monitor (§4.8) and
// self-configuration orchestrator (§4.10) drive on a threshold breach.
func (p *SlackWiseProvider) RequestReview(ctx context.Context, subject string, reviewCtx map[string]interface{}) error {
	return p.post(ctx, fmt.Sprintf(":rotating_light: Review requested — %s %v", subject, reviewCtx))
}

func (p *SlackWiseProvider) IsHealthy(ctx context.Context) bool {
	_, err := p.api.AuthTestContext(ctx)
	return err == nil
}

func (p *SlackWiseProvider) Capabilities() []string {
	return []string{"send_deferral", "fetch_guidance", "request_review"}
}

package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/meridian-run/meridian/core"
)

// secretCacheTTL bounds how long a fetched secret value is reused before
// the next recall re-fetches it from AWS Secrets Manager.
const secretCacheTTL = 5 * time.Minute

// refPattern is the secret-reference syntax ProcessIncomingText scans
// for: {{secret:<name>}}, chosen to be distinguishable from ordinary
// template braces a handler might otherwise emit.
var refPattern = regexp.MustCompile(`\{\{secret:([a-zA-Z0-9_\-/]+)\}\}`)

type secretCacheEntry struct {
	value     string
	expiresAt time.Time
}

// AWSSecretsProvider is the default secrets adapter: secret values live
// in AWS Secrets Manager, referenced by name, with a short-lived local
// cache so every recall in a rate-limited window doesn't round-trip.
type AWSSecretsProvider struct {
	client *secretsmanager.Client
	logger core.Logger

	mu     sync.RWMutex
	cache  map[string]secretCacheEntry
	config map[string]interface{}
}

// NewAWSSecretsProvider wraps an AWS config's Secrets Manager client.
func NewAWSSecretsProvider(cfg aws.Config, logger core.Logger) *AWSSecretsProvider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AWSSecretsProvider{
		client: secretsmanager.NewFromConfig(cfg),
		logger: logger,
		cache:  make(map[string]secretCacheEntry),
		config: make(map[string]interface{}),
	}
}

func (p *AWSSecretsProvider) fetch(ctx context.Context, ref string) (string, error) {
	p.mu.RLock()
	entry, ok := p.cache[ref]
	p.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return "", fmt.Errorf("bus: aws secrets provider: get %s: %w", ref, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("bus: aws secrets provider: %s has no string value", ref)
	}

	p.mu.Lock()
	p.cache[ref] = secretCacheEntry{value: *out.SecretString, expiresAt: time.Now().Add(secretCacheTTL)}
	p.mu.Unlock()
	return *out.SecretString, nil
}

// ProcessIncomingText replaces every {{secret:ref}} placeholder in text
// with its fetched value, returning the references it touched so the
// caller can redact them from logs. A placeholder whose fetch fails is
// logged and left in place, and its reference is not returned.
func (p *AWSSecretsProvider) ProcessIncomingText(ctx context.Context, text string) (string, []string, error) {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil, nil
	}

	var refs []string
	out := text
	for _, m := range matches {
		ref := m[1]
		value, err := p.fetch(ctx, ref)
		if err != nil {
			p.logger.Warn("secrets provider failed to resolve reference", map[string]interface{}{
				"operation": "process_incoming_text",
				"ref":       ref,
				"error":     err.Error(),
			})
			continue
		}
		out = strings.ReplaceAll(out, m[0], value)
		refs = append(refs, ref)
	}
	return out, refs, nil
}

// RecallSecret returns a secret's value by reference.
func (p *AWSSecretsProvider) RecallSecret(ctx context.Context, ref string) (string, error) {
	return p.fetch(ctx, ref)
}

// ForgetSecret drops a reference from the local cache; the secret
// itself still lives in AWS Secrets Manager and must be deleted there
// directly if that's the intent.
func (p *AWSSecretsProvider) ForgetSecret(ctx context.Context, ref string) error {
	p.mu.Lock()
	delete(p.cache, ref)
	p.mu.Unlock()
	return nil
}

// DecapsulateSecretsInParameters walks a parameter map and replaces any
// string value containing a {{secret:ref}} placeholder with its
// resolved value.
func (p *AWSSecretsProvider) DecapsulateSecretsInParameters(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok || !refPattern.MatchString(s) {
			out[k] = v
			continue
		}
		resolved, _, err := p.ProcessIncomingText(ctx, s)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// UpdateFilterConfig stores filter configuration in memory; the AWS
// adapter has no server-side filter policy of its own to push this to.
func (p *AWSSecretsProvider) UpdateFilterConfig(ctx context.Context, config map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range config {
		p.config[k] = v
	}
	return nil
}

func (p *AWSSecretsProvider) IsHealthy(ctx context.Context) bool {
	_, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{})
	return err == nil
}

func (p *AWSSecretsProvider) Capabilities() []string {
	return []string{
		"process_incoming_text", "recall_secret", "forget_secret",
		"decapsulate_secrets_in_parameters", "update_filter_config",
	}
}

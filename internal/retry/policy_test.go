package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettercast/internal/domain"
)

func TestDecideRespectsLimit(t *testing.T) {
	t.Parallel()

	p := Default()

	// mail_quota allows three retries.
	for count := 0; count < 3; count++ {
		d := p.Decide(StageCollect, domain.KindMailQuota, count)
		require.True(t, d.Retry, "retry count %d must be retryable", count)
		assert.Equal(t, count+1, d.NextRetryCount)
	}

	d := p.Decide(StageCollect, domain.KindMailQuota, 3)
	assert.False(t, d.Retry, "limit reached must stop retrying")
	assert.Equal(t, 3, d.NextRetryCount)
}

func TestDecideExponentialDelayGrows(t *testing.T) {
	t.Parallel()

	p := Default()

	var prev time.Duration
	for count := 0; count < 3; count++ {
		d := p.Decide(StageDeliver, domain.KindTransientSend, count)
		require.True(t, d.Retry)
		assert.GreaterOrEqual(t, d.Delay, prev, "exponential delay must not shrink")
		prev = d.Delay
	}

	assert.Equal(t, 2*time.Second, p.Decide(StageDeliver, domain.KindTransientSend, 0).Delay)
	assert.Equal(t, 4*time.Second, p.Decide(StageDeliver, domain.KindTransientSend, 1).Delay)
	assert.Equal(t, 8*time.Second, p.Decide(StageDeliver, domain.KindTransientSend, 2).Delay)
}

func TestDecideLinearAndFixedDelays(t *testing.T) {
	t.Parallel()

	p := Default()

	assert.Equal(t, 5*time.Second, p.Decide(StageCollect, domain.KindSiteUnreachable, 0).Delay)
	assert.Equal(t, 10*time.Second, p.Decide(StageCollect, domain.KindSiteUnreachable, 1).Delay)

	assert.Equal(t, 5*time.Second, p.Decide(StageGenerate, domain.KindAutomationTimeout, 0).Delay)
	assert.Equal(t, 5*time.Second, p.Decide(StageGenerate, domain.KindAutomationTimeout, 1).Delay)
}

func TestDecideUnknownKindIsTerminal(t *testing.T) {
	t.Parallel()

	p := Default()

	for _, kind := range []domain.ErrorKind{domain.KindUnknown, domain.KindPermanentFetch, domain.KindPayloadTooLarge} {
		d := p.Decide(StageDeliver, kind, 0)
		assert.False(t, d.Retry, "kind %s must be terminal", kind)
	}

	// A rule is bound to its stage: mail_quota means nothing to Deliver.
	d := p.Decide(StageDeliver, domain.KindMailQuota, 0)
	assert.False(t, d.Retry)
}

func TestSetOverridesRule(t *testing.T) {
	t.Parallel()

	p := Default()
	rule, ok := p.Rule(StageGenerate, domain.KindGenerationTimeout)
	require.True(t, ok)
	assert.Equal(t, 1, rule.MaxRetries)

	rule.MaxRetries = 4
	p.Set(StageGenerate, domain.KindGenerationTimeout, rule)

	d := p.Decide(StageGenerate, domain.KindGenerationTimeout, 3)
	assert.True(t, d.Retry)
	assert.Equal(t, 30*time.Second, d.Delay, "override keeps the backoff shape")
}

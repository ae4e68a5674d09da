package request

import (
	"time"

	"github.com/omalloc/reqqueue/pkg/mapstruct"
)

// RetryPolicy is the retry collaborator contract (§4.F): current timeout,
// a backoff multiplier, and remaining attempts, mutated by the transport
// on retryable failures.
type RetryPolicy interface {
	CurrentTimeout() time.Duration
	BackoffMultiplier() float32
	RetriesLeft() int
	Retry(err error) error
}

// DefaultRetryPolicy is a simple exponential-backoff implementation, the
// one most requests use unless overridden.
type DefaultRetryPolicy struct {
	timeout    time.Duration
	multiplier float32
	retries    int
}

// RetryOptions is the loosely-typed shape RetryPolicy overrides arrive in
// from configuration (SPEC_FULL.md): per-request retry overrides (timeout,
// backoff multiplier, max retries) decoded via go-viper/mapstructure rather
// than a rigid compile-time struct, since call sites may only set a subset
// of fields. Priority and TTL are not part of it and are not decoded.
type RetryOptions struct {
	TimeoutMS         int64   `json:"timeout_ms"`
	BackoffMultiplier float32 `json:"backoff_multiplier"`
	MaxRetries        int     `json:"max_retries"`
}

// NewRetryPolicy builds a DefaultRetryPolicy from explicit values.
func NewRetryPolicy(timeout time.Duration, multiplier float32, retries int) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{timeout: timeout, multiplier: multiplier, retries: retries}
}

// DecodeRetryOptions decodes a loosely-typed map (e.g. parsed JSON config)
// into a RetryOptions and returns the resulting policy.
func DecodeRetryOptions(raw any) (*DefaultRetryPolicy, error) {
	var opts RetryOptions
	if err := mapstruct.Decode(raw, &opts); err != nil {
		return nil, err
	}
	return &DefaultRetryPolicy{
		timeout:    time.Duration(opts.TimeoutMS) * time.Millisecond,
		multiplier: opts.BackoffMultiplier,
		retries:    opts.MaxRetries,
	}, nil
}

func (p *DefaultRetryPolicy) CurrentTimeout() time.Duration { return p.timeout }
func (p *DefaultRetryPolicy) BackoffMultiplier() float32     { return p.multiplier }
func (p *DefaultRetryPolicy) RetriesLeft() int               { return p.retries }

// Retry reports err if no retries remain; otherwise it grows the timeout
// by the backoff multiplier, consumes one retry, and returns nil to signal
// the transport should retry.
func (p *DefaultRetryPolicy) Retry(err error) error {
	if p.retries <= 0 {
		return err
	}
	p.retries--
	p.timeout = time.Duration(float32(p.timeout) * p.multiplier)
	return nil
}

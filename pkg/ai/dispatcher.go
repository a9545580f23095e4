// Package ai performs the outbound provider call for one chat submission
// and normalizes the two provider response shapes into a single reply
// string. Exactly one HTTP request is made per dispatch; there is no
// retry and no streaming.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// ErrDispatch is the single failure category for outbound calls:
// transport errors, non-2xx statuses and unparseable or empty response
// bodies all wrap it. Callers log the cause but never show it verbatim.
var ErrDispatch = errors.New("dispatch failed")

// Dispatcher sends the transcript to one provider and returns the
// normalized assistant reply.
type Dispatcher interface {
	Dispatch(ctx context.Context, transcript []domain.Message) (string, error)
}

// ForPolicy builds the dispatcher selected by the policy's provider tag.
// Construction validates that the config carries the fields the selected
// protocol needs, so a Dispatcher never sees the other branch's fields.
func ForPolicy(policy domain.AccessPolicy) (Dispatcher, error) {
	switch policy.Provider {
	case domain.ProviderHosted:
		return NewHostedDispatcher(policy.APIConfig)
	case domain.ProviderLocal:
		return NewLocalDispatcher(policy.APIConfig)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrDispatch, policy.Provider)
	}
}

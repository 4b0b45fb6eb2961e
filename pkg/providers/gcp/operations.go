package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/lumaops/provisioner/pkg/engine"
)

// PollConfig bounds waiting on long-running operations.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollConfig polls every 5 seconds for up to 10 minutes.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 5 * time.Second, Timeout: 10 * time.Minute}
}

func (p PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	return p
}

// waitOperation polls op until it is done. An operation that does not finish
// within the timeout is transient: the next run checks for the resource first.
func waitOperation(ctx context.Context, op *Operation, get func(context.Context, string) (*Operation, error), poll PollConfig, opName, resource string) error {
	poll = poll.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, poll.Timeout)
	defer cancel()

	ticker := time.NewTicker(poll.Interval)
	defer ticker.Stop()

	for {
		if op.Done {
			if op.ErrCode != 0 {
				return classifyCode(codes.Code(op.ErrCode), op.ErrMessage,
					fmt.Errorf("operation %s failed: %s", op.Name, op.ErrMessage)).
					WithOperation(opName).WithResource(resource)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return engine.NewTransientError(
				fmt.Sprintf("operation %s did not complete within %s", op.Name, poll.Timeout), ctx.Err()).
				WithCode(engine.ErrCodeTimeout).WithOperation(opName).WithResource(resource)
		case <-ticker.C:
		}

		next, err := get(ctx, op.Name)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				continue
			}
			return Classify(opName+".poll", resource, err)
		}
		op = next
	}
}

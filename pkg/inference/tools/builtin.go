package tools

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type GetTimeInput struct {
	// IANA time zone name, defaults to the local zone
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name such as Europe/Paris"`
}

type GetTimeOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

type EchoInput struct {
	Text string `json:"text" jsonschema:"description=Text to send back"`
}

// clock is replaced in tests.
var clock = time.Now

func getTime(ctx context.Context, in GetTimeInput) (GetTimeOutput, error) {
	now := clock()
	if in.Timezone != "" {
		loc, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return GetTimeOutput{}, errors.Wrapf(err, "unknown timezone %s", in.Timezone)
		}
		now = now.In(loc)
	}
	return GetTimeOutput{
		Time:     now.Format(time.RFC3339),
		Timezone: now.Location().String(),
	}, nil
}

func echo(ctx context.Context, in EchoInput) (string, error) {
	return in.Text, nil
}

// RegisterBuiltins adds the get_time and echo tools to r.
func RegisterBuiltins(r *InMemoryToolRegistry) error {
	if err := r.RegisterFunc("get_time", "Returns the current time, optionally in a given time zone.", getTime); err != nil {
		return err
	}
	if err := r.RegisterFunc("echo", "Returns the given text unchanged.", echo); err != nil {
		return err
	}
	return nil
}

package core

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// stream is the ordered list of units bound for one destination
type stream struct {
	dest  string
	units []*unit
}

func streams(units []*unit) []*stream {
	var (
		out   []*stream
		byURL = map[string]*stream{}
	)
	for _, u := range units {
		key := u.dest.String()
		s, ok := byURL[key]
		if !ok {
			s = &stream{dest: key}
			byURL[key] = s
			out = append(out, s)
		}
		s.units = append(s.units, u)
	}
	return out
}

type sendFunc func(ctx context.Context, body []byte, dest *url.URL, records int) (int, error)

// dispatcher delivers units, each destination stream in order. With parallelism above one,
// streams run concurrently so a backoff on one destination does not hold up the others.
type dispatcher struct {
	parallelism int
	failFast    bool
	format      BatchFormat
	single      bool
	send        sendFunc
}

func (d dispatcher) run(ctx context.Context, units []*unit, report *Report) {
	all := streams(units)
	if d.parallelism <= 1 || len(all) == 1 {
		stopped := map[string]error{}
		for _, u := range units {
			key := u.dest.String()
			stopped[key] = d.deliver(ctx, u, stopped[key], report)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for _, s := range all {
		s := s
		g.Go(func() error {
			var failed error
			for _, u := range s.units {
				failed = d.deliver(ctx, u, failed, report)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// deliver sends u unless its stream already failed or ctx is done, and records the outcome of
// every record in u. It returns the failure that stops the rest of the stream, if any.
func (d dispatcher) deliver(ctx context.Context, u *unit, failed error, report *Report) error {
	dest := u.dest.String()
	if failed != nil {
		mark(report, u, Outcome{Status: OutcomeNotDelivered, Destination: dest, Err: errors.Wrapf(ErrNotDelivered, "earlier request to %s failed", dest)})
		return failed
	}
	if err := ctx.Err(); err != nil {
		mark(report, u, Outcome{Status: OutcomeNotDelivered, Destination: dest, Err: errors.Wrapf(ErrNotDelivered, "not started: %v", err)})
		return nil
	}

	attempts, err := d.send(ctx, u.body(d.format, d.single), u.dest, len(u.indexes))
	switch {
	case err == nil:
		mark(report, u, Outcome{Status: OutcomeDelivered, Attempts: attempts, Destination: dest})
	case errors.Is(err, ErrNotDelivered):
		mark(report, u, Outcome{Status: OutcomeNotDelivered, Attempts: attempts, Destination: dest, Err: err})
	default:
		mark(report, u, Outcome{Status: OutcomeFailed, Attempts: attempts, Destination: dest, Err: err})
		if d.failFast {
			return err
		}
	}
	return nil
}

func mark(report *Report, u *unit, o Outcome) {
	for _, i := range u.indexes {
		report.Outcomes[i] = o
	}
}

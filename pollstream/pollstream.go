// Package pollstream turns a Store's claim operation into a pull-based
// stream of jobs: each call to Next blocks until a job is claimed, waiting
// on a Notifier in between polls rather than busy-looping.
package pollstream

import (
	"context"
	"time"

	"github.com/geocoder89/jobqueue/controller"
	"github.com/geocoder89/jobqueue/job"
	"github.com/geocoder89/jobqueue/notify"
	"github.com/geocoder89/jobqueue/store"
)

// PollStream repeatedly claims the next eligible job of JobType from a
// Store, waking on either a notification (pushed by a producer that just
// inserted a job) or a fixed polling interval, whichever comes first.
type PollStream struct {
	Store      store.Store
	JobType    string
	WorkerID   string
	Interval   time.Duration
	Notifier   *notify.Notifier[struct{}]
	Controller controller.Controller
}

// DefaultInterval is used when Interval is left zero.
const DefaultInterval = 50 * time.Millisecond

// Next implements the core poll algorithm:
//  1. if the controller is paused, wait for it to resume;
//  2. ask the store for the next claimable job;
//  3. if one was claimed, return it immediately;
//  4. otherwise wait for either a notification or the poll interval to
//     elapse, whichever comes first;
//  5. loop back to step 1.
//
// Next never returns (nil, nil): when ctx is done before a job is claimed
// it returns (nil, ctx.Err()), and a store error is returned as is.
func (p *PollStream) Next(ctx context.Context) (*job.Job, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for p.Controller.IsPaused() {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}

		claimed, err := p.Store.FetchNext(ctx, p.JobType, p.WorkerID)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}

		timer := time.NewTimer(interval)
		if p.Notifier != nil {
			waitCtx, cancelWait := context.WithCancel(ctx)
			select {
			case <-ctx.Done():
				timer.Stop()
				cancelWait()
				return nil, ctx.Err()
			case <-timer.C:
			case <-waitNotified(waitCtx, p.Notifier):
				timer.Stop()
			}
			cancelWait()
		} else {
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// waitNotified adapts Notifier.Recv into a channel usable in a select by
// spawning a short-lived goroutine that ends once a notification arrives
// (the channel then fires) or ctx is cancelled (the channel never fires).
func waitNotified(ctx context.Context, n *notify.Notifier[struct{}]) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		if _, err := n.Recv(ctx); err == nil {
			ch <- struct{}{}
		}
	}()
	return ch
}

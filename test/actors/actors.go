// Package actors drives the proceeding service the way competing parties do.
// Each actor loops until stop closes, treats domain rejections as expected
// outcomes and counts everything else as transient so chaos does not end a run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"jurisflow/proceeding"
)

// Stats counts actor outcomes across a run.
type Stats struct {
	Admitted  atomic.Int64
	Rejected  atomic.Int64
	Verdicts  atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("admitted=%d rejected=%d verdicts=%d transient=%d",
		s.Admitted.Load(), s.Rejected.Load(), s.Verdicts.Load(), s.Transient.Load())
}

// observe classifies err and reports whether the actor should stop.
func (s *Stats) observe(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case proceeding.IsRejection(err), errors.Is(err, proceeding.ErrUpstream):
		s.Rejected.Add(1)
	default:
		s.Transient.Add(1)
	}
	return nil
}

func pause(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Creator races other creators on one title; only one case may result.
func Creator(ctx context.Context, svc *proceeding.Service, title string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, _, err := svc.CreateCase(ctx, proceeding.CreateCaseParams{Title: title})
		if err := stats.observe(ctx, err); err != nil {
			return err
		}
		pause(20, 40)
	}
	return nil
}

// Arguer keeps submitting arguments for one side until the case closes.
func Arguer(ctx context.Context, svc *proceeding.Service, caseID string, side proceeding.Side, stats *Stats, stop <-chan struct{}) error {
	for n := 0; !stopped(ctx, stop); n++ {
		_, err := svc.SubmitArgument(ctx, caseID, side, fmt.Sprintf("%s point %d", side, n))
		if err == nil {
			stats.Admitted.Add(1)
		}
		if err := stats.observe(ctx, err); err != nil {
			return err
		}
		pause(10, 30)
	}
	return nil
}

// Verdicts requests adjudication at random intervals.
func Verdicts(ctx context.Context, svc *proceeding.Service, caseID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.RequestVerdict(ctx, caseID, "")
		if err == nil {
			stats.Verdicts.Add(1)
		}
		if err := stats.observe(ctx, err); err != nil {
			return err
		}
		pause(40, 80)
	}
	return nil
}

// Surrenderer concedes for side after a random delay, racing the arguers.
func Surrenderer(ctx context.Context, svc *proceeding.Service, caseID string, side proceeding.Side, stats *Stats, stop <-chan struct{}) error {
	delay := time.Duration(200+rand.Intn(2000)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	case <-time.After(delay):
	}
	_, err := svc.Surrender(ctx, caseID, side)
	return stats.observe(ctx, err)
}

// Reader checks the invariants a snapshot must satisfy on every read.
func Reader(ctx context.Context, svc *proceeding.Service, caseID string, stats *Stats, stop <-chan struct{}) error {
	quota := svc.Policy().CounterQuota
	for !stopped(ctx, stop) {
		view, err := svc.GetCase(ctx, caseID)
		if err != nil {
			if err := stats.observe(ctx, err); err != nil {
				return err
			}
			pause(20, 20)
			continue
		}
		initial := map[proceeding.Side]int{}
		for _, a := range view.Arguments {
			if a.Type == proceeding.ArgumentInitial {
				initial[a.Side]++
			}
		}
		for _, side := range []proceeding.Side{proceeding.SidePlaintiff, proceeding.SideDefense} {
			counts := proceeding.CountsFor(view.Arguments, side)
			if initial[side] > 1 || counts.CounterCount > quota {
				return fmt.Errorf("case %s side %s: %d initial %d counter exceeds limits", caseID, side, initial[side], counts.CounterCount)
			}
			if counts.CounterCount > 0 && !counts.InitialPresent {
				return fmt.Errorf("case %s side %s: counter without initial", caseID, side)
			}
		}
		if view.Case.Phase == proceeding.PhaseClosed && view.Case.Status == proceeding.StatusActive {
			return fmt.Errorf("case %s closed while still active", caseID)
		}
		pause(20, 40)
	}
	return nil
}

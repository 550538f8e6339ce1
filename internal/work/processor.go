package work

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Processor executes work items one at a time. It sleeps until triggered,
// scans the registry for the highest-priority eligible item, runs it in a
// bounded context, then rescans. Failures go to a retry queue with a
// growing hold-off.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	timeout    time.Duration
	log        zerolog.Logger

	trigger chan struct{}
	done    chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	mu         sync.Mutex
	retryQueue []*WorkItem
	inFlight   map[string]bool
}

// NewProcessor creates a work processor with the default timeout.
func NewProcessor(registry *Registry, completion *CompletionTracker, log zerolog.Logger) *Processor {
	return NewProcessorWithTimeout(registry, completion, WorkTimeout, log)
}

// NewProcessorWithTimeout creates a work processor with a custom per-item
// timeout. Used by tests.
func NewProcessorWithTimeout(registry *Registry, completion *CompletionTracker, timeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		registry:   registry,
		completion: completion,
		timeout:    timeout,
		log:        log.With().Str("component", "work_processor").Logger(),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		inFlight:   make(map[string]bool),
	}
}

// Run starts the processor loop. Blocks until Stop is called.
func (p *Processor) Run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.processOne()
		case <-p.done:
			p.processOne()
		}
	}
}

// Stop stops the processor and waits for the loop to exit. An item already
// executing finishes on its own goroutine.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.stopped
}

// Trigger wakes the processor to look for work. Non-blocking.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// ExecuteNow runs one work type synchronously, bypassing staleness and
// dependency checks. Used by the admin API.
func (p *Processor) ExecuteNow(workTypeID string, subject string) error {
	wt := p.registry.Get(workTypeID)
	if wt == nil {
		return fmt.Errorf("unknown work type: %s", workTypeID)
	}

	item := NewWorkItem(wt, subject)
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := wt.Execute(ctx, item.Subject); err != nil {
		return err
	}
	p.completion.MarkCompleted(item)
	return nil
}

// processOne finds and executes the next eligible work item.
func (p *Processor) processOne() {
	p.mu.Lock()
	if len(p.inFlight) > 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	item, wt := p.findNextWork()
	if item == nil {
		item, wt = p.popRetryQueue()
	}
	if item == nil {
		return
	}

	p.mu.Lock()
	p.inFlight[item.ID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, item.ID)
			p.mu.Unlock()

			select {
			case p.done <- struct{}{}:
			default:
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		err := wt.Execute(ctx, item.Subject)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				p.log.Error().Str("work", item.ID).Msg("Work timed out")
			} else {
				p.log.Error().Err(err).Str("work", item.ID).Msg("Work failed")
			}

			item.Retries++
			if item.Retries < MaxRetries {
				item.NotBefore = time.Now().Add(time.Duration(item.Retries) * retryBackoff)
				p.pushRetryQueue(item)
			} else {
				p.log.Warn().Str("work", item.ID).Int("retries", item.Retries).
					Msg("Max retries reached; dropping work item")
			}
			return
		}

		p.completion.MarkCompleted(item)
		p.log.Debug().Str("work", item.ID).Msg("Work completed")
	}()
}

// findNextWork scans registered types in priority order for an eligible
// (subject, type) pair.
func (p *Processor) findNextWork() (*WorkItem, *WorkType) {
	for _, wt := range p.registry.ByPriority() {
		subjects := wt.FindSubjects()
		if subjects == nil {
			continue
		}

		for _, subject := range subjects {
			if wt.Interval > 0 && !p.completion.IsStale(wt.ID, subject, wt.Interval) {
				continue
			}
			if !p.dependenciesMet(wt, subject) {
				continue
			}
			return NewWorkItem(wt, subject), wt
		}
	}

	return nil, nil
}

// dependenciesMet reports whether every dependency has completed for the
// same subject.
func (p *Processor) dependenciesMet(wt *WorkType, subject string) bool {
	for _, depID := range wt.DependsOn {
		if _, exists := p.completion.GetCompletion(depID, subject); !exists {
			return false
		}
	}
	return true
}

func (p *Processor) pushRetryQueue(item *WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.retryQueue = append(p.retryQueue, item)
}

// popRetryQueue returns the first retry item whose hold-off has elapsed.
// Items still holding off stay queued for a later trigger.
func (p *Processor) popRetryQueue() (*WorkItem, *WorkType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i, item := range p.retryQueue {
		if item.NotBefore.After(now) {
			continue
		}

		p.retryQueue = append(p.retryQueue[:i], p.retryQueue[i+1:]...)
		wt := p.registry.Get(item.TypeID)
		if wt == nil {
			return nil, nil
		}
		return item, wt
	}
	return nil, nil
}

// RetryQueueLen reports how many failed items are waiting to retry.
func (p *Processor) RetryQueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.retryQueue)
}

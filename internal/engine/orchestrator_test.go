package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

type published struct {
	routingKey string
	notice     model.Notice
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{routingKey: routingKey, notice: payload.(model.Notice)})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestOrchestrator_PublishesNoticesByKind(t *testing.T) {
	e, clk := startEngine(t, nil, DefaultConfig())
	pub := &fakePublisher{}
	o := NewOrchestrator(e, pub, nil)
	ctx := context.Background()

	n, err := o.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ingestAndClassify(t, e, email("m1", "Outage"), raw("urgent", "work", 0.9))
	clk.Advance(25 * time.Hour)

	n, err = o.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, string(model.NoticeTaskOverdue), pub.msgs[0].routingKey)
	assert.Equal(t, "m1", pub.msgs[0].notice.EmailID)
	assert.Equal(t, string(model.NoticeReminderDue), pub.msgs[1].routingKey)
}

func TestOrchestrator_PublishFailureIsNotFatal(t *testing.T) {
	e, clk := startEngine(t, nil, DefaultConfig())
	pub := &fakePublisher{err: errors.New("broker down")}
	o := NewOrchestrator(e, pub, nil)

	ingestAndClassify(t, e, email("m1", "Outage"), raw("urgent", "work", 0.9))
	clk.Advance(3 * time.Hour)

	n, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrchestrator_WithoutPublisher(t *testing.T) {
	e, clk := startEngine(t, nil, DefaultConfig())
	o := NewOrchestrator(e, nil, nil)

	ingestAndClassify(t, e, email("m1", "Outage"), raw("urgent", "work", 0.9))
	clk.Advance(3 * time.Hour)

	n, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrchestrator_RunTicksImmediately(t *testing.T) {
	e, clk := startEngine(t, nil, DefaultConfig())
	pub := &fakePublisher{}
	o := NewOrchestrator(e, pub, nil)

	ingestAndClassify(t, e, email("m1", "Outage"), raw("urgent", "work", 0.9))
	clk.Advance(3 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestOrchestrator_StoppedEngine(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := NewOrchestrator(e, nil, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, model.ErrEngineStopped)
}

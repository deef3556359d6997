package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRunner blocks every job until its username is released
type gatedRunner struct {
	mu      sync.Mutex
	order   []string
	started chan string
	gates   map[string]chan error
}

func newGatedRunner(names ...string) *gatedRunner {
	r := &gatedRunner{started: make(chan string, len(names)), gates: make(map[string]chan error)}
	for _, n := range names {
		r.gates[n] = make(chan error, 1)
	}
	return r
}

func (r *gatedRunner) run(ctx context.Context, username string, progress *Progress) error {
	r.mu.Lock()
	r.order = append(r.order, username)
	gate := r.gates[username]
	r.mu.Unlock()

	progress.Send("working on " + username)
	r.started <- username

	select {
	case err := <-gate:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *gatedRunner) release(username string, err error) {
	r.gates[username] <- err
}

func waitStarted(t *testing.T, r *gatedRunner, want string) {
	t.Helper()
	select {
	case got := <-r.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s never started", want)
	}
}

func drain(t *testing.T, job *Job) []string {
	t.Helper()
	var msgs []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-job.Updates():
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		case <-timeout:
			t.Fatalf("updates for %s never closed", job.Username)
		}
	}
}

func TestQueueRunsJobsInOrder(t *testing.T) {
	r := newGatedRunner("a", "b", "c", "d")
	q := New(context.Background(), r.run, zerolog.Nop())

	a := q.Enqueue("a")
	waitStarted(t, r, "a")

	b := q.Enqueue("b")
	c := q.Enqueue("c")
	d := q.Enqueue("d")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 0, q.PositionOf("a"))
	assert.Equal(t, 1, q.PositionOf("b"))
	assert.Equal(t, 2, q.PositionOf("c"))
	assert.Equal(t, 3, q.PositionOf("d"))

	r.release("a", nil)
	waitStarted(t, r, "b")
	assert.Equal(t, 1, q.PositionOf("c"))
	assert.Equal(t, 2, q.PositionOf("d"))

	r.release("b", nil)
	waitStarted(t, r, "c")
	assert.Equal(t, 0, q.PositionOf("c"))
	assert.Equal(t, 1, q.PositionOf("d"))

	r.release("c", nil)
	waitStarted(t, r, "d")
	r.release("d", nil)

	for _, job := range []*Job{a, b, c, d} {
		require.NoError(t, job.Wait(context.Background()))
	}
	q.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d"}, r.order)
	assert.Zero(t, q.Len())

	msgs := drain(t, c)
	assert.Equal(t, "Added to queue. Current position: 2", msgs[0])
	assert.Contains(t, msgs, "Queue position updated: 1")
	assert.Contains(t, msgs, "working on c")
	assert.Equal(t, "Scraping completed", msgs[len(msgs)-1])
}

func TestQueueReportsErrorsAndContinues(t *testing.T) {
	r := newGatedRunner("bad", "good")
	q := New(context.Background(), r.run, zerolog.Nop())

	bad := q.Enqueue("bad")
	waitStarted(t, r, "bad")
	good := q.Enqueue("good")

	r.release("bad", errors.New("profile never loaded"))
	waitStarted(t, r, "good")
	r.release("good", nil)

	err := bad.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, bad.Err())
	require.NoError(t, good.Wait(context.Background()))

	msgs := drain(t, bad)
	assert.Equal(t, "Error occurred during scraping: profile never loaded", msgs[len(msgs)-1])
}

func TestQueueRecoversFromPanics(t *testing.T) {
	calls := make(chan string, 2)
	q := New(context.Background(), func(_ context.Context, username string, _ *Progress) error {
		calls <- username
		if username == "boom" {
			panic("nil page")
		}
		return nil
	}, zerolog.Nop())

	boom := q.Enqueue("boom")
	next := q.Enqueue("next")

	err := boom.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil page")
	require.NoError(t, next.Wait(context.Background()))
	q.Wait()
}

func TestQueueSkipsJobsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	q := New(ctx, func(context.Context, string, *Progress) error {
		ran = true
		return nil
	}, zerolog.Nop())

	job := q.Enqueue("late")
	assert.ErrorIs(t, job.Wait(context.Background()), context.Canceled)
	q.Wait()
	assert.False(t, ran)
}

func TestJobWaitHonorsContext(t *testing.T) {
	r := newGatedRunner("slow")
	q := New(context.Background(), r.run, zerolog.Nop())

	job := q.Enqueue("slow")
	waitStarted(t, r, "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, job.Wait(ctx), context.DeadlineExceeded)
	assert.NoError(t, job.Err())

	r.release("slow", nil)
	require.NoError(t, job.Wait(context.Background()))
}

func TestProgressNeverBlocks(t *testing.T) {
	p := newProgress(2)
	p.Send("one")
	p.Send("two")
	p.Send("three")

	assert.Equal(t, 1, p.Dropped())

	p.close()
	p.Send("after close")
	p.close()

	var got []string
	for msg := range p.ch {
		got = append(got, msg)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestSnapshot(t *testing.T) {
	r := newGatedRunner("a", "b")
	q := New(context.Background(), r.run, zerolog.Nop())

	q.Enqueue("a")
	waitStarted(t, r, "a")
	q.Enqueue("b")

	st := q.Snapshot()
	require.NotNil(t, st.Active)
	assert.Equal(t, "a", st.Active.Username)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "b", st.Pending[0].Username)
	assert.NotEmpty(t, st.Pending[0].ID)

	r.release("a", nil)
	waitStarted(t, r, "b")
	r.release("b", nil)
	q.Wait()
}

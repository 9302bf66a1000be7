package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func resetCommitPoolForTests() {
	jobChans = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	commitTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func TestTryEnqueueJobFailsWithoutPool(t *testing.T) {
	resetCommitPoolForTests()
	t.Cleanup(resetCommitPoolForTests)

	if tryEnqueueJob(commitJob{boardID: "b"}) {
		t.Fatal("expected enqueue to fail before pool init")
	}
}

func TestTryEnqueueJobWaitsForCapacity(t *testing.T) {
	resetCommitPoolForTests()
	t.Cleanup(resetCommitPoolForTests)

	jobChans = []chan commitJob{make(chan commitJob, 1)}
	handoffTimeout = 50 * time.Millisecond

	jobChans[0] <- commitJob{}

	done := make(chan bool, 1)
	go func() {
		done <- tryEnqueueJob(commitJob{boardID: "b"})
	}()

	select {
	case <-done:
		t.Fatal("tryEnqueueJob returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	<-jobChans[0]

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueJobNoWaitWhenZeroTimeout(t *testing.T) {
	resetCommitPoolForTests()
	t.Cleanup(resetCommitPoolForTests)

	jobChans = []chan commitJob{make(chan commitJob, 1)}
	handoffTimeout = 0

	jobChans[0] <- commitJob{}

	if tryEnqueueJob(commitJob{boardID: "b"}) {
		t.Fatal("expected enqueue to fail when buffer full and no timeout")
	}

	<-jobChans[0]

	if !tryEnqueueJob(commitJob{boardID: "b"}) {
		t.Fatal("expected enqueue to succeed when buffer has capacity")
	}
}

func TestTryEnqueueJobReturnsFalseWhenClosed(t *testing.T) {
	resetCommitPoolForTests()
	t.Cleanup(resetCommitPoolForTests)

	ch := make(chan commitJob)
	close(ch)
	jobChans = []chan commitJob{ch}

	if tryEnqueueJob(commitJob{boardID: "b"}) {
		t.Fatal("expected enqueue to fail when channel is closed")
	}
}

func TestBoardShardIsStable(t *testing.T) {
	a := boardShard("board-1", 8)
	for i := 0; i < 100; i++ {
		if boardShard("board-1", 8) != a {
			t.Fatal("shard for a board must be stable")
		}
	}
	if a < 0 || a >= 8 {
		t.Fatalf("shard out of range: %d", a)
	}
}

func TestPoolRunsCommitsPerBoardInOrder(t *testing.T) {
	resetCommitPoolForTests()
	t.Cleanup(ShutdownCommitPool)

	logger, _ := test.NewNullLogger()
	InitCommitPool(logger)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		job := commitJob{
			boardID: "board-1",
			op:      "test",
			commit: func(context.Context) error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				wg.Done()
				return nil
			},
		}
		if !tryEnqueueJob(job) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("same-board commits ran out of order: %v", got)
		}
	}
}

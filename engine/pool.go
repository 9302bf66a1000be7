package engine

import (
	"context"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type commitJob struct {
	boardID string
	op      string
	commit  func(ctx context.Context) error
	notify  *Engine
}

// Jobs for one board always hash to the same worker channel, so commits for
// a board run in submission order even with many workers.
var (
	once           sync.Once
	jobChans       []chan commitJob
	workerCount    int
	jobBuf         int
	commitTimeout  time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// InitCommitPool starts the background commit workers. Safe to call once per
// process; later calls are no-ops.
func InitCommitPool(logger *log.Logger) {
	once.Do(func() {
		if logger == nil {
			panic("Logger is not initialized")
		}
		globalLog = logger

		workerCount = envInt("COMMIT_WORKERS", 8)
		jobBuf = envInt("COMMIT_BUFFER", 1024)
		commitTimeout = envDur("COMMIT_TIMEOUT", 60*time.Second)
		handoffTimeout = envDur("COMMIT_HANDOFF_TIMEOUT", 15*time.Millisecond)
		if workerCount <= 0 {
			workerCount = 1
		}
		if jobBuf <= 0 {
			jobBuf = 1
		}

		jobChans = make([]chan commitJob, workerCount)
		for i := range jobChans {
			jobChans[i] = make(chan commitJob, jobBuf)
			workerWG.Add(1)
			go worker(i, jobChans[i])
		}
		globalLog.Infof("commit pool started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, commitTimeout, handoffTimeout)
	})
}

// ShutdownCommitPool stops worker goroutines and clears shared state. It is intended for tests.
func ShutdownCommitPool() {
	for _, ch := range jobChans {
		close(ch)
	}
	jobChans = nil

	workerWG.Wait()

	globalLog = nil
	workerCount = 0
	jobBuf = 0
	commitTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

func worker(id int, jobCh <-chan commitJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, commitTimeout)
		err := j.commit(ctx)
		cancel()

		if err != nil {
			globalLog.Errorf("commit failed, err: %v, board: %s, op: %s, worker: %d", err, j.boardID, j.op, id)
			if j.notify != nil {
				j.notify.reportFailure(j.op, err)
			}
		}
	}
}

func tryEnqueueJob(job commitJob) bool {
	chans := jobChans
	if len(chans) == 0 {
		return false
	}
	ch := chans[boardShard(job.boardID, len(chans))]

	if ok, closed := trySendNonBlocking(ch, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(ch, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func boardShard(boardID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(boardID))
	return int(h.Sum32() % uint32(n))
}

func trySendNonBlocking(ch chan commitJob, job commitJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan commitJob, job commitJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}

func inlineCommitTimeout() time.Duration {
	if commitTimeout > 0 {
		return commitTimeout
	}
	return 60 * time.Second
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

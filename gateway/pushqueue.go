package gateway

import (
	"fmt"

	"github.com/dock108/aicli-gateway/log"
	"github.com/dock108/aicli-gateway/push"
	"github.com/dock108/aicli-gateway/queue"
)

// pushJob is a notification that failed its first, synchronous attempt
// (every client it targeted was unreachable) and gets a longer-horizon
// retry with backoff through the job queue instead of being dropped.
type pushJob struct {
	ClientIDs []string
	Payload   push.Payload
}

// enqueuePushRetry hands a totally-failed send to the job queue. Partial
// failures are not re-queued here: re-sending to the whole clientID list
// would duplicate the notification for whichever clients already received
// it.
func (g *Gateway) enqueuePushRetry(clientIDs []string, payload push.Payload) {
	id := g.JobQueue.Push(pushQueueName, pushJob{ClientIDs: clientIDs, Payload: payload})
	log.Debug().Str("jobId", id).Int("clients", len(clientIDs)).Msg("gateway: queued push retry")
}

func (g *Gateway) handlePushJob(entry *queue.ManagedEntry, callback func(err error, result interface{})) {
	job, ok := entry.Payload.(pushJob)
	if !ok {
		callback(fmt.Errorf("gateway: push queue entry %s has unexpected payload type", entry.ID), nil)
		return
	}

	result := g.Push.SendToMultipleClients(job.ClientIDs, job.Payload, g.Push)
	if result.Sent == 0 && result.Failed > 0 {
		callback(fmt.Errorf("gateway: push retry %s still unreachable (%d failed)", entry.ID, result.Failed), nil)
		return
	}
	callback(nil, result)
}

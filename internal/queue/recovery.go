package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

func workerRegistryKey() string { return "masstock:job-workers" }

func workerHeartbeatKey(instanceID string) string { return "masstock:job-worker-heartbeat:" + instanceID }

func workerLeasedJobsKey(instanceID string) string { return "masstock:job-worker-leases:" + instanceID }

// trackLeasedJob adds id to this instance's active-lease SET in Redis,
// with a TTL so the SET self-expires if the instance crashes before the
// heartbeat loop refreshes it.
func (p *Postgres) trackLeasedJob(ctx context.Context, id int64) error {
	if p.redisClient == nil {
		return nil
	}
	key := workerLeasedJobsKey(p.instanceID)
	if err := p.redisClient.SAdd(ctx, key, id).Err(); err != nil {
		return err
	}
	return p.redisClient.Expire(ctx, key, leasedJobsTTL).Err()
}

// untrackLeasedJob removes id once the job reaches a terminal outcome.
// Uses context.Background() so the SREM still runs during shutdown --
// otherwise the ID stays in the SET and recovery resets an already-finished
// job back to 'ready', causing double processing.
func (p *Postgres) untrackLeasedJob(id int64) error {
	if p.redisClient == nil {
		return nil
	}
	return p.redisClient.SRem(context.Background(), workerLeasedJobsKey(p.instanceID), id).Err()
}

func (p *Postgres) registerWorker(ctx context.Context) {
	if p.redisClient == nil {
		return
	}
	if err := p.redisClient.SAdd(ctx, workerRegistryKey(), p.instanceID).Err(); err != nil {
		p.logger.Error(err).LogActivity("failed to register worker", nil)
	}
	if err := p.redisClient.Set(ctx, workerHeartbeatKey(p.instanceID), "alive", heartbeatTTL).Err(); err != nil {
		p.logger.Error(err).LogActivity("failed to send initial heartbeat", nil)
	}
}

// runHeartbeat keeps this instance's registry membership and heartbeat key
// alive until ctx is cancelled. Uses context.Background() for the Redis
// calls themselves so a cancelled ctx doesn't race the final tick.
func (p *Postgres) runHeartbeat(ctx context.Context) {
	if p.redisClient == nil {
		return
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.redisClient.SRem(context.Background(), workerRegistryKey(), p.instanceID)
			p.redisClient.Del(context.Background(), workerHeartbeatKey(p.instanceID))
			return
		case <-ticker.C:
			bg := context.Background()
			if err := p.redisClient.SAdd(bg, workerRegistryKey(), p.instanceID).Err(); err != nil {
				p.logger.Error(err).LogActivity("failed to re-register worker", nil)
			}
			if err := p.redisClient.Set(bg, workerHeartbeatKey(p.instanceID), "alive", heartbeatTTL).Err(); err != nil {
				p.logger.Error(err).LogActivity("failed to refresh heartbeat", nil)
			}
			p.redisClient.Expire(bg, workerLeasedJobsKey(p.instanceID), leasedJobsTTL)
		}
	}
}

// runRecovery periodically finds jobs leased by dead instances and resets
// them to ready, so an at-least-once delivery guarantee survives a worker
// crash without waiting for a fixed visibility timeout.
func (p *Postgres) runRecovery(ctx context.Context) {
	if p.redisClient == nil {
		return
	}
	p.recoverAbandonedJobs(ctx)

	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recoverAbandonedJobs(ctx)
		}
	}
}

func (p *Postgres) recoverAbandonedJobs(ctx context.Context) {
	instanceIDs, err := p.redisClient.SMembers(ctx, workerRegistryKey()).Result()
	if err != nil {
		p.logger.Error(err).LogActivity("failed to read worker registry", nil)
		return
	}

	for _, instanceID := range instanceIDs {
		if instanceID == p.instanceID {
			continue
		}
		exists, err := p.redisClient.Exists(ctx, workerHeartbeatKey(instanceID)).Result()
		if err != nil {
			p.logger.Error(err).LogActivity("failed to check heartbeat", map[string]any{"instance_id": instanceID})
			continue
		}
		if exists == 1 {
			continue
		}

		recovered, err := p.recoverJobsFromDeadInstance(ctx, instanceID)
		if err != nil {
			p.logger.Error(err).LogActivity("failed to recover jobs from dead instance", map[string]any{"instance_id": instanceID})
			continue
		}
		if recovered > 0 {
			p.logger.Info().LogActivity("recovered jobs from dead instance", map[string]any{"instance_id": instanceID, "count": recovered})
		}

		// Remove the dead worker only after its jobs are recovered. If we
		// crash in between, the next sweep finds the same dead worker and
		// the now-empty leases SET makes recoverJobsFromDeadInstance a no-op.
		if err := p.redisClient.SRem(ctx, workerRegistryKey(), instanceID).Err(); err != nil {
			p.logger.Warn().LogActivity("failed to remove dead worker from registry", map[string]any{"instance_id": instanceID})
		}
	}
}

func (p *Postgres) recoverJobsFromDeadInstance(ctx context.Context, instanceID string) (int, error) {
	leasesKey := workerLeasedJobsKey(instanceID)
	idStrs, err := p.redisClient.SMembers(ctx, leasesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read leases for %s: %w", instanceID, err)
	}
	if len(idStrs) == 0 {
		p.redisClient.Del(ctx, leasesKey)
		return 0, nil
	}

	ids := make([]int64, 0, len(idStrs))
	for _, s := range idStrs {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			p.logger.Warn().LogActivity("invalid job id in recovery set", map[string]any{"instance_id": instanceID, "raw": s})
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		p.redisClient.Del(ctx, leasesKey)
		return 0, nil
	}

	// The status='leased' guard makes this idempotent: a job already reset
	// by a concurrent sweep, or already acked and deleted, matches zero rows.
	if _, err := p.pool.Exec(ctx, `
		UPDATE jobs SET status = 'ready', available_at = now()
		WHERE id = ANY($1) AND status = 'leased'
	`, ids); err != nil {
		return 0, fmt.Errorf("reset jobs to ready: %w", err)
	}

	p.redisClient.Del(ctx, leasesKey)
	return len(ids), nil
}

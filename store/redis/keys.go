package redis

// Redis key naming conventions. All keys carry the store prefix
// ("taskcore:" by default) to avoid collisions.

// jobKey returns the Hash key for a job: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// jobKeyPrefix is jobKey without the id, for Lua scripts.
func (s *Store) jobKeyPrefix() string { return s.prefix + "job:" }

// waitingKey is the Sorted Set of claimable jobs, scored by jobScore.
func (s *Store) waitingKey(queue string) string { return s.prefix + "queue:" + queue + ":waiting" }

// delayedKey is the Sorted Set of delayed jobs, scored by RunAt in ms.
func (s *Store) delayedKey(queue string) string { return s.prefix + "queue:" + queue + ":delayed" }

// finishedKey is the Sorted Set of completed or failed jobs, scored by
// FinishedAt in ms.
func (s *Store) finishedKey(queue, state string) string {
	return s.prefix + "queue:" + queue + ":" + state
}

// activeKey is the Set of claimed job IDs across all queues.
func (s *Store) activeKey() string { return s.prefix + "active" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

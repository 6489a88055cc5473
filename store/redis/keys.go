package redis

// Redis key naming conventions for relayq data.
// All keys are prefixed with "relayq:" to avoid collisions.

const keyPrefix = "relayq:"

// jobKey returns the Hash key for a job: relayq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// waitingKey returns the Sorted Set of claimable jobs for a queue:
// relayq:waiting:{name}. Score encodes priority and enqueue order.
func waitingKey(name string) string { return keyPrefix + "waiting:" + name }

// delayedKey is the global Sorted Set of delayed jobs, scored by their
// visibility time in Unix milliseconds.
const delayedKey = keyPrefix + "delayed"

// activeKey is the global Sorted Set of claimed jobs, scored by claim
// time in Unix milliseconds. Used for stale-job recovery.
const activeKey = keyPrefix + "active"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queuesKey is the Set tracking queue names seen by this store.
const queuesKey = keyPrefix + "queues"

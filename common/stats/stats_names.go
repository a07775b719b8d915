package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Job metrics **************************/
	/*
		time spent in one tick of the launcher job, excluding the inter-tick delay
	*/
	JobTickLatency_ms = "tickLatency_ms"

	/*
		number of ticks the job has run
	*/
	JobTickCounter = "tickCounter"

	/*
		milliseconds since the job started running
	*/
	JobUptime_ms = "uptime_ms"

	/*
		number of commandlines turned into tasks and enqueued
	*/
	JobEnqueuedCounter = "enqueuedCounter"

	/*
		number of tasks whose completion marker was detected
	*/
	JobCompletedCounter = "completedCounter"

	/*
		number of tasks abandoned after exceeding their runtime budget
	*/
	JobAbortedCounter = "abortedCounter"

	/*
		number of barriers read from the command source
	*/
	JobBarrierCounter = "barrierCounter"

	/*
		1 while the job is waiting on a barrier, 0 otherwise
	*/
	JobBarrierWaitGauge = "barrierWaitGauge"

	/*
		number of ticks where the command source was stalling
	*/
	JobStallCounter = "stallCounter"

	/************************* Queue metrics **************************/
	/*
		number of tasks waiting for slots
	*/
	QueueQueuedGauge = "queuedGauge"

	/*
		number of tasks currently running
	*/
	QueueRunningGauge = "runningGauge"

	/*
		largest number of tasks that were running at the same time
	*/
	QueueMaxSimultaneousGauge = "maxSimultaneousGauge"

	/*
		time spent in one admission pass
	*/
	QueueAdmitLatency_ms = "admitLatency_ms"

	/*
		number of tasks started by admission passes
	*/
	QueueStartedCounter = "startedCounter"

	/************************* Pool metrics **************************/
	/*
		number of slots in the pool
	*/
	PoolSizeGauge = "sizeGauge"

	/*
		number of occupied slots, recorded once per tick
	*/
	PoolOccupancyGauge = "occupancyGauge"

	/*
		occupied slots as a fraction of pool size
	*/
	PoolUtilizationGauge = "utilizationGauge"

	/*
		number of contiguous slot requests that found no fit
	*/
	PoolNoFitCounter = "noFitCounter"

	/************************* Executor metrics **************************/
	/*
		number of commands handed to the backend
	*/
	ExecutorExecCounter = "execCounter"

	/*
		number of commands the backend failed to launch
	*/
	ExecutorExecErrCounter = "execErrCounter"

	/*
		number of ssh exec attempts that were retried after a transient failure
	*/
	ExecutorSSHRetryCounter = "sshRetryCounter"

	/*
		number of ssh sessions opened, one per unique host
	*/
	ExecutorSSHClientGauge = "sshClientGauge"

	/*
		time spent launching a command on the backend
	*/
	ExecutorExecLatency_ms = "execLatency_ms"

	/*
		number of sbatch submissions delayed by the submission rate limit
	*/
	ExecutorSubmitThrottledCounter = "submitThrottledCounter"

	/************************* Execer metrics **************************/
	/*
		number of local processes started
	*/
	ExecerStartedCounter = "startedCounter"

	/*
		number of local processes that failed to start
	*/
	ExecerStartFailureCounter = "startFailureCounter"
)

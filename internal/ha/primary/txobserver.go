package primary

// txObserver implements ports.TxObserver for a single open transaction
// queue. The controller keeps only a weak reference to it (see
// Primary.StartTx / Primary.RemoveReplica); once the transaction itself
// completes and drops the last strong reference, the observer is collected
// and RemoveReplica treats it as already gone.
type txObserver struct {
	txQueueName string
	primary     *Primary
	removed     []string
}

// ReplicaRemoved records that queueName's replicating subscription
// cancelled while txQueueName's transaction was still open.
func (o *txObserver) ReplicaRemoved(queueName string) {
	o.removed = append(o.removed, queueName)
}

// RemovedQueues returns the queues reported removed during this
// transaction's lifetime, for the transaction coordinator to fold into its
// prepare/commit decision.
func (o *txObserver) RemovedQueues() []string {
	return o.removed
}

package dispatch

// AccountSlot is the per-account state a Dispatcher Loop owns exclusively
// while running, per spec §3. The sequence cache itself lives on the
// SigningClient (§4.2), not here, since only the SigningClient needs to
// touch it; AccountSlot just pairs an identity with its queue.
type AccountSlot struct {
	Index   int
	Address string
	Client  SigningClient
	Queue   *priorityQueue
}

// newAccountSlot builds a slot for client, with a queue bounded by
// maxQueueLen (<=0 means unbounded, per spec §5's backpressure note).
func newAccountSlot(index int, client SigningClient, maxQueueLen int) *AccountSlot {
	return &AccountSlot{
		Index:   index,
		Address: client.Address(),
		Client:  client,
		Queue:   newPriorityQueue(maxQueueLen),
	}
}

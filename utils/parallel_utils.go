package utils

import "fmt"

// MailBox carries messages between subdomain goroutines. Each ordered pair of threads has its
// own FIFO channel, so a receiver can block on exactly the neighbour it expects to hear from.
type MailBox[T any] struct {
	NP           int
	Depth        int
	MessageChans [][]chan T // MessageChans[from][to]
}

func NewMailBox[T any](NP, Depth int) *MailBox[T] {
	if Depth < 1 {
		Depth = 1
	}
	mb := &MailBox[T]{
		NP:           NP,
		Depth:        Depth,
		MessageChans: make([][]chan T, NP),
	}
	for from := 0; from < NP; from++ {
		mb.MessageChans[from] = make([]chan T, NP)
		for to := 0; to < NP; to++ {
			mb.MessageChans[from][to] = make(chan T, Depth)
		}
	}
	return mb
}

func (mb *MailBox[T]) checkThread(thread int) {
	if thread < 0 || thread > mb.NP-1 {
		panic(fmt.Sprintf("Target thread %d out of bounds", thread))
	}
}

// PostMessage blocks only if the receiver is more than Depth messages behind
func (mb *MailBox[T]) PostMessage(myThread, targetThread int, msg T) {
	mb.checkThread(myThread)
	mb.checkThread(targetThread)
	mb.MessageChans[myThread][targetThread] <- msg
}

func (mb *MailBox[T]) PostMessageToAll(myThread int, msg T) {
	for k := 0; k < mb.NP; k++ {
		if k != myThread {
			mb.PostMessage(myThread, k, msg)
		}
	}
}

// ReceiveMessage blocks until fromThread has posted to myThread
func (mb *MailBox[T]) ReceiveMessage(myThread, fromThread int) T {
	mb.checkThread(myThread)
	mb.checkThread(fromThread)
	return <-mb.MessageChans[fromThread][myThread]
}

type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

// GetGlobalK maps an index local to bucket bn onto the partitioned range, bn = -1 is unpartitioned
func (pm *PartitionMap) GetGlobalK(kLocal, bn int) (kGlobal int) {
	if bn == -1 {
		kGlobal = kLocal
		return
	}
	kGlobal = pm.Partitions[bn][0] + kLocal
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	if bn == -1 {
		kMax = pm.MaxIndex
		return
	}
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	kMax = k2 - k1
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// Splits one dimension into ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

package utils

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Test PartitionMap
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				maxK := pm.GetBucketDimension(np)
				histo[maxK]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{0: 30, 1: 2}, getHisto(2, 32))
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, map[int]int{8: 1, 9: 31}, getHisto(287, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 2000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1])) // Maximum imbalance of 1
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Test local to global indexing covers the range once, in order
		for maxIndex := 10; maxIndex < 500; maxIndex++ {
			pm := NewPartitionMap(5, maxIndex)
			next := 0
			for bn := 0; bn < pm.ParallelDegree; bn++ {
				for k := 0; k < pm.GetBucketDimension(bn); k++ {
					assert.Equal(t, next, pm.GetGlobalK(k, bn))
					next++
				}
			}
			assert.Equal(t, maxIndex, next)
			assert.Equal(t, 7, pm.GetGlobalK(7, -1))
			assert.Equal(t, maxIndex, pm.GetBucketDimension(-1))
		}
	}
}

func TestMailBox(t *testing.T) {
	{ // Test pairwise FIFO ordering under concurrent posting
		var (
			NP  = 4
			mb  = NewMailBox[int](NP, 2)
			wg  = sync.WaitGroup{}
			got = make([][]int, NP)
		)
		for me := 0; me < NP; me++ {
			wg.Add(1)
			go func(me int) {
				defer wg.Done()
				for round := 0; round < 10; round++ {
					mb.PostMessageToAll(me, 100*me+round)
					for from := 0; from < NP; from++ {
						if from == me {
							continue
						}
						msg := mb.ReceiveMessage(me, from)
						if from == (me+1)%NP {
							got[me] = append(got[me], msg)
						}
					}
				}
			}(me)
		}
		wg.Wait()
		for me := 0; me < NP; me++ {
			from := (me + 1) % NP
			assert.Equal(t, 10, len(got[me]))
			for round, msg := range got[me] {
				assert.Equal(t, 100*from+round, msg)
			}
		}
	}
	{ // Out of range threads panic
		mb := NewMailBox[int](2, 1)
		assert.Panics(t, func() { mb.PostMessage(0, 2, 1) })
	}
}

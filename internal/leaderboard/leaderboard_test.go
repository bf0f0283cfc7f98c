package leaderboard

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestRecordSolveIsIdempotent(t *testing.T) {
	b := New()

	first := b.RecordSolve("alice", 1, 10)
	assert.True(t, first.Credited)
	assert.Equal(t, 10, first.Awarded)
	assert.Equal(t, Entry{Username: "alice", Score: 10, ProblemsSolved: 1}, first.Entry)

	again := b.RecordSolve("alice", 1, 10)
	assert.False(t, again.Credited)
	assert.Zero(t, again.Awarded)
	assert.Equal(t, first.Entry, again.Entry)

	assert.Equal(t, []Entry{first.Entry}, b.Global())
}

func TestScoresAreMonotonic(t *testing.T) {
	b := New()
	b.RecordSolve("alice", 1, 10)
	b.RecordSolve("alice", 5, 25)
	d := b.RecordSolve("alice", 9, 0)

	assert.Equal(t, Entry{Username: "alice", Score: 35, ProblemsSolved: 3}, d.Entry)
}

func TestGlobalRankingTieBreakIsFirstSeen(t *testing.T) {
	b := New()
	b.RecordSolve("carol", 1, 10)
	b.RecordSolve("alice", 1, 10)
	b.RecordSolve("bob", 8, 50)
	b.RecordSolve("dave", 2, 10)

	want := []Entry{
		{Username: "bob", Score: 50, ProblemsSolved: 1},
		{Username: "carol", Score: 10, ProblemsSolved: 1},
		{Username: "alice", Score: 10, ProblemsSolved: 1},
		{Username: "dave", Score: 10, ProblemsSolved: 1},
	}
	if diff := cmp.Diff(want, b.Global()); diff != "" {
		t.Errorf("Global() mismatch (-want +got):\n%s", diff)
	}
}

func TestRoomBoardMirrorsGlobalTotals(t *testing.T) {
	b := New()
	b.RecordSolve("alice", 1, 10)
	b.RecordSolve("alice", 2, 10)
	b.RecordSolve("bob", 8, 50)

	b.MirrorToRoom("ROOM01", "alice")
	e := b.MirrorToRoom("ROOM01", "bob")
	assert.Equal(t, Entry{Username: "bob", Score: 50, ProblemsSolved: 1}, e)

	want := []Entry{
		{Username: "bob", Score: 50, ProblemsSolved: 1},
		{Username: "alice", Score: 20, ProblemsSolved: 2},
	}
	if diff := cmp.Diff(want, b.Room("ROOM01")); diff != "" {
		t.Errorf("Room() mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, b.Room("OTHER1"))

	b.DropRoom("ROOM01")
	assert.Empty(t, b.Room("ROOM01"))
	assert.Len(t, b.Global(), 2, "dropping a room leaves the global ledger alone")
}

func TestConcurrentSolvesCreditOnce(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordSolve("alice", 1, 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, []Entry{{Username: "alice", Score: 10, ProblemsSolved: 1}}, b.Global())
}

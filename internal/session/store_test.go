package session

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewStore_Defaults(t *testing.T) {
	st := NewStore().Snapshot()

	assert.Equal(t, StatusConnecting, st.Status)
	assert.Empty(t, st.UserID)
	assert.False(t, st.InRoom())
	assert.Nil(t, st.User)
	assert.NotNil(t, st.Messages)
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.TypingUserIDs)
}

func TestAppendMessage_PreservesOrderAndDuplicates(t *testing.T) {
	s := NewStore()
	in := []ChatMessage{
		{PermID: "p1", Body: "a"},
		{PermID: "p2", Body: "b"},
		{PermID: "p1", Body: "a"},
		{PermID: "p3", Body: "c"},
	}
	for _, m := range in {
		s.AppendMessage(m)
	}

	assert.Equal(t, in, s.Snapshot().Messages)
}

func TestSetTypingUsers_ReplacesNotMerges(t *testing.T) {
	s := NewStore()
	s.SetTypingUsers([]string{"a", "b", "c"})
	s.SetTypingUsers([]string{"d"})

	assert.Equal(t, []string{"d"}, s.Snapshot().TypingUserIDs)

	s.SetTypingUsers(nil)
	assert.Empty(t, s.Snapshot().TypingUserIDs)
}

func TestSetTypingUsers_CopiesInput(t *testing.T) {
	s := NewStore()
	ids := []string{"a"}
	s.SetTypingUsers(ids)
	ids[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.Snapshot().TypingUserIDs)
}

func TestEnterExitRoom_KeepsInvariant(t *testing.T) {
	s := NewStore()
	var seen []State
	unsub := s.Subscribe(func(st State) { seen = append(seen, st) })
	defer unsub()

	s.EnterRoom("room42", User{Nickname: "alice"})
	s.ExitRoom()

	require.Len(t, seen, 2)
	for _, st := range seen {
		assert.Equal(t, st.RoomID != "", st.User != nil, "room and user must be set together")
	}
	assert.True(t, seen[0].InRoom())
	assert.False(t, seen[1].InRoom())
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewStore()
	s.EnterRoom("r", User{Nickname: "alice"})
	s.AppendMessage(ChatMessage{PermID: "p1"})

	snap := s.Snapshot()
	snap.User.Nickname = "mallory"
	snap.Messages[0].PermID = "changed"

	fresh := s.Snapshot()
	assert.Equal(t, "alice", fresh.User.Nickname)
	assert.Equal(t, "p1", fresh.Messages[0].PermID)
}

func TestSetUser_NilClears(t *testing.T) {
	s := NewStore()
	s.SetUser(&User{Nickname: "bob"})
	s.SetRoomID("r1")
	assert.True(t, s.Snapshot().InRoom())

	s.SetUser(nil)
	s.SetRoomID("")
	assert.False(t, s.Snapshot().InRoom())
}

func TestConnectionStatus(t *testing.T) {
	s := NewStore()
	s.SetConnectionStatus(true)
	assert.Equal(t, StatusConnected, s.Snapshot().Status)
	s.SetConnectionStatus(false)
	assert.Equal(t, StatusDisconnected, s.Snapshot().Status)
	s.SetConnecting()
	assert.Equal(t, "connecting", s.Snapshot().Status.String())
}

func TestRememberForget(t *testing.T) {
	s := NewStore()
	s.SetLastRoomID("room42")
	s.SetLastNickname("alice")
	assert.Equal(t, Intent{RoomID: "room42", Nickname: "alice"}, s.Snapshot().Intent())

	s.Forget()
	assert.True(t, s.Snapshot().Intent().Empty())
}

func TestReset_KeepsConnectionIdentity(t *testing.T) {
	s := NewStore()
	s.SetConnectionStatus(true)
	s.SetUserID("u1")
	s.EnterRoom("room42", User{Nickname: "alice"})
	s.Remember(Intent{RoomID: "room42", Nickname: "alice"})
	s.AppendMessage(ChatMessage{PermID: "p1"})
	s.SetTypingUsers([]string{"u2"})

	s.Reset()

	st := s.Snapshot()
	assert.Equal(t, StatusConnected, st.Status)
	assert.Equal(t, "u1", st.UserID)
	assert.False(t, st.InRoom())
	assert.True(t, st.Intent().Empty())
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.TypingUserIDs)
}

func TestOwnMessageAndOtherTypers(t *testing.T) {
	s := NewStore()
	s.SetUserID("u1")
	s.EnterRoom("r", User{Nickname: "alice"})
	s.SetTypingUsers([]string{"u1", "u2"})

	st := s.Snapshot()
	assert.True(t, st.IsOwnMessage(ChatMessage{UserNickname: "alice"}))
	assert.False(t, st.IsOwnMessage(ChatMessage{UserNickname: "bob"}))
	assert.False(t, st.IsOwnMessage(ChatMessage{UserNickname: "alice", IsSystemMessage: true}))
	assert.Equal(t, []string{"u2"}, st.OtherTypers())
}

func TestUnsubscribe(t *testing.T) {
	s := NewStore()
	calls := 0
	unsub := s.Subscribe(func(State) { calls++ })
	s.SetUserID("a")
	unsub()
	s.SetUserID("b")

	assert.Equal(t, 1, calls)
}

func TestConcurrentAppend(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore()
	goroutines := 50
	perGoroutine := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.AppendMessage(ChatMessage{PermID: fmt.Sprintf("g%d-%d", id, i)})
				_ = s.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, goroutines*perGoroutine)

	// Per-goroutine order must survive interleaving.
	last := make(map[int]int)
	for _, m := range msgs {
		var g, i int
		_, err := fmt.Sscanf(m.PermID, "g%d-%d", &g, &i)
		require.NoError(t, err)
		if prev, ok := last[g]; ok {
			assert.Greater(t, i, prev)
		}
		last[g] = i
	}
}

func TestSubscribersSeeMutationOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore()
	var (
		mu       sync.Mutex
		last     State
		versions []uint64
	)
	unsub := s.Subscribe(func(st State) {
		time.Sleep(time.Duration(rand.Intn(200)) * time.Microsecond)
		mu.Lock()
		last = st
		versions = append(versions, st.Version)
		mu.Unlock()
	})
	defer unsub()

	writers, perWriter := 4, 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AppendMessage(ChatMessage{PermID: fmt.Sprintf("w%d-%d", id, i)})
			}
		}(w)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	final := s.Snapshot()
	assert.Equal(t, final.Version, last.Version)
	assert.Equal(t, final.Messages, last.Messages)
	require.Len(t, versions, writers*perWriter)
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i])
	}
}

func TestWatchMissesNoMutation(t *testing.T) {
	s := NewStore()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				s.SetUserID(fmt.Sprintf("u%d", i))
			}
		}
	}()

	var (
		mu   sync.Mutex
		seen []uint64
	)
	initial, unsub := s.Watch(func(st State) {
		mu.Lock()
		seen = append(seen, st.Version)
		mu.Unlock()
	})
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()
	unsub()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, initial.Version+1, seen[0])
	assert.Equal(t, s.Snapshot().Version, seen[len(seen)-1])
}

func TestEnterRoomWithLog(t *testing.T) {
	t.Run("other room replaces log in one mutation", func(t *testing.T) {
		s := NewStore()
		s.EnterRoom("old", User{Nickname: "alice"})
		s.AppendMessage(ChatMessage{PermID: "o1"})
		s.SetTypingUsers([]string{"u2"})

		var seen []State
		unsub := s.Subscribe(func(st State) { seen = append(seen, st) })
		defer unsub()

		backlog := []ChatMessage{{PermID: "n1"}, {PermID: "n2"}}
		s.EnterRoomWithLog("new", User{Nickname: "bob"}, backlog)

		require.Len(t, seen, 1)
		assert.Equal(t, "new", seen[0].RoomID)
		assert.Equal(t, "bob", seen[0].User.Nickname)
		assert.Equal(t, backlog, seen[0].Messages)
		assert.Empty(t, seen[0].TypingUserIDs)
	})

	t.Run("same room appends missing entries", func(t *testing.T) {
		s := NewStore()
		s.EnterRoom("r", User{Nickname: "alice"})
		s.AppendMessage(ChatMessage{PermID: "p1"})
		s.SetTypingUsers([]string{"u2"})

		s.EnterRoomWithLog("r", User{Nickname: "alice"}, []ChatMessage{
			{PermID: "p1"}, {PermID: "p2"}, {Body: "no id"},
		})

		st := s.Snapshot()
		assert.Equal(t, []ChatMessage{{PermID: "p1"}, {PermID: "p2"}, {Body: "no id"}}, st.Messages)
		assert.Equal(t, []string{"u2"}, st.TypingUserIDs)
	})
}

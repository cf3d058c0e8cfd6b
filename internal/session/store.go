package session

import "sync"

// Store is the session state container. Every operation replaces one or more
// fields atomically and then notifies subscribers with a fresh snapshot. It is
// safe for concurrent use. Subscribers receive snapshots in mutation order and
// each one carries the next Version.
type Store struct {
	// notifyMu is held from a mutation until its subscribers have returned.
	notifyMu sync.Mutex

	mu    sync.Mutex
	state State

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(State)
}

// NewStore creates a store in its start-of-application state: connecting,
// no identity, no room, empty log.
func NewStore() *Store {
	return &Store{
		state: State{
			Status:        StatusConnecting,
			Messages:      []ChatMessage{},
			TypingUserIDs: []string{},
		},
		subs: make(map[int]func(State)),
	}
}

// Subscribe registers fn to be called after every mutation. fn runs on the
// mutating goroutine and must not mutate the store. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Watch subscribes fn and returns the state its first call follows, so no
// mutation falls between the returned snapshot and the first delivery.
func (s *Store) Watch(fn func(State)) (State, func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	unsubscribe := s.Subscribe(fn)
	return s.Snapshot(), unsubscribe
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// SetConnectionStatus sets the status to connected or disconnected.
func (s *Store) SetConnectionStatus(connected bool) {
	s.update(func(st *State) {
		if connected {
			st.Status = StatusConnected
		} else {
			st.Status = StatusDisconnected
		}
	})
}

// SetConnecting marks a connection attempt in progress.
func (s *Store) SetConnecting() {
	s.update(func(st *State) { st.Status = StatusConnecting })
}

// SetUserID records the user ID assigned by the server.
func (s *Store) SetUserID(id string) {
	s.update(func(st *State) { st.UserID = id })
}

// SetRoomID sets the active room. An empty id means no active room.
func (s *Store) SetRoomID(id string) {
	s.update(func(st *State) { st.RoomID = id })
}

// SetUser sets the local user. nil clears it.
func (s *Store) SetUser(u *User) {
	s.update(func(st *State) {
		if u == nil {
			st.User = nil
			return
		}
		cp := *u
		st.User = &cp
	})
}

// EnterRoom sets the room and user together so observers never see one
// without the other.
func (s *Store) EnterRoom(roomID string, u User) {
	s.update(func(st *State) {
		st.RoomID = roomID
		st.User = &u
	})
}

// EnterRoomWithLog enters roomID as u and seeds the log in one mutation.
// Entering the room already active keeps its log and appends the backlog
// entries it lacks by PermID; entering any other room replaces the log with
// backlog and clears the typing set.
func (s *Store) EnterRoomWithLog(roomID string, u User, backlog []ChatMessage) {
	s.update(func(st *State) {
		if st.RoomID == roomID {
			seen := make(map[string]bool, len(st.Messages))
			for _, m := range st.Messages {
				seen[m.PermID] = true
			}
			for _, m := range backlog {
				if m.PermID == "" || !seen[m.PermID] {
					st.Messages = append(st.Messages, m)
				}
			}
		} else {
			st.Messages = append([]ChatMessage{}, backlog...)
			st.TypingUserIDs = []string{}
		}
		st.RoomID = roomID
		st.User = &u
	})
}

// ExitRoom clears the room and user together.
func (s *Store) ExitRoom() {
	s.update(func(st *State) {
		st.RoomID = ""
		st.User = nil
	})
}

// SetTypingUsers replaces the typing set with ids. Previous entries are
// discarded, never merged.
func (s *Store) SetTypingUsers(ids []string) {
	cp := make([]string, len(ids))
	copy(cp, ids)
	s.update(func(st *State) { st.TypingUserIDs = cp })
}

// AppendMessage appends msg to the end of the log. Duplicates are kept and
// order is arrival order.
func (s *Store) AppendMessage(msg ChatMessage) {
	s.update(func(st *State) { st.Messages = append(st.Messages, msg) })
}

// ClearMessages empties the log.
func (s *Store) ClearMessages() {
	s.update(func(st *State) { st.Messages = []ChatMessage{} })
}

// SetLastRoomID records the room to rejoin after a reconnect.
func (s *Store) SetLastRoomID(id string) {
	s.update(func(st *State) { st.LastRoomID = id })
}

// SetLastNickname records the nickname to rejoin with after a reconnect.
func (s *Store) SetLastNickname(nickname string) {
	s.update(func(st *State) { st.LastNickname = nickname })
}

// Remember sets both remembered fields in one mutation.
func (s *Store) Remember(in Intent) {
	s.update(func(st *State) {
		st.LastRoomID = in.RoomID
		st.LastNickname = in.Nickname
	})
}

// Forget clears the remembered room and nickname.
func (s *Store) Forget() {
	s.Remember(Intent{})
}

// Reset returns the room-scoped state to its defaults: no room, no user, no
// remembered intent, empty log and typing set. Connection status and user ID
// belong to the connection and are left alone.
func (s *Store) Reset() {
	s.update(func(st *State) {
		st.RoomID = ""
		st.User = nil
		st.LastRoomID = ""
		st.LastNickname = ""
		st.Messages = []ChatMessage{}
		st.TypingUserIDs = []string{}
	})
}

func (s *Store) update(fn func(*State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	s.state.Version++
	snap := s.copyLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) copyLocked() State {
	st := s.state
	if s.state.User != nil {
		u := *s.state.User
		st.User = &u
	}
	st.Messages = make([]ChatMessage, len(s.state.Messages))
	copy(st.Messages, s.state.Messages)
	st.TypingUserIDs = make([]string, len(s.state.TypingUserIDs))
	copy(st.TypingUserIDs, s.state.TypingUserIDs)
	return st
}

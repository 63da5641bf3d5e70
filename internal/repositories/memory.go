package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"

	"unread-service/internal/models"
)

type memKey struct {
	messageID int64
	userID    int64
}

type memSystem struct {
	msg          models.Message
	broadcastAll bool
	targets      map[int64]bool
}

// MemoryStore keeps the whole message store in process memory. It follows
// the same counting rules as the SQL store and backs local runs and tests.
type MemoryStore struct {
	mu sync.Mutex

	nextID   int64
	now      func() time.Time
	users    map[int64]bool
	members  map[int64]map[int64]bool
	chats    map[int64]models.PrivateChat
	system   map[int64]*memSystem
	project  map[int64]models.Message
	private  map[int64]models.Message
	sysReads map[memKey]time.Time
	prjReads map[memKey]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		users:    map[int64]bool{},
		members:  map[int64]map[int64]bool{},
		chats:    map[int64]models.PrivateChat{},
		system:   map[int64]*memSystem{},
		project:  map[int64]models.Message{},
		private:  map[int64]models.Message{},
		sysReads: map[memKey]time.Time{},
		prjReads: map[memKey]time.Time{},
	}
}

// AddUser registers a user id.
func (s *MemoryStore) AddUser(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
}

// SetProjectMember adds or deactivates a project membership.
func (s *MemoryStore) SetProjectMember(projectID, userID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
	if s.members[projectID] == nil {
		s.members[projectID] = map[int64]bool{}
	}
	s.members[projectID][userID] = active
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// stamp returns a strictly increasing creation time so ordering is stable.
func (s *MemoryStore) stamp() time.Time {
	return s.now().Add(time.Duration(s.nextID) * time.Microsecond)
}

func (s *MemoryStore) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID int64, kind models.Kind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.unreadLocked(userID, kind)
	return len(msgs), err
}

func (s *MemoryStore) unreadLocked(userID int64, kind models.Kind) ([]models.Message, error) {
	var out []models.Message
	switch kind {
	case models.KindSystem:
		for id, m := range s.system {
			if m.msg.IsDeleted || !(m.broadcastAll || m.targets[userID]) {
				continue
			}
			if _, read := s.sysReads[memKey{id, userID}]; read {
				continue
			}
			out = append(out, m.msg)
		}
	case models.KindProject:
		for id, m := range s.project {
			if m.IsDeleted || m.AuthoredBy(userID) || !s.members[m.ConversationID][userID] {
				continue
			}
			if _, read := s.prjReads[memKey{id, userID}]; read {
				continue
			}
			out = append(out, m)
		}
	case models.KindPrivate:
		for _, m := range s.private {
			if m.IsDeleted || m.IsRead || m.ReceiverID == nil || *m.ReceiverID != userID {
				continue
			}
			out = append(out, m)
		}
	default:
		return nil, errors.NotValidf("message type %q", kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *MemoryStore) RecentUnread(_ context.Context, userID int64, limit int) ([]models.RecentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Message
	for _, kind := range models.Kinds {
		msgs, err := s.unreadLocked(userID, kind)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[j].Before(all[i]) })
	if len(all) > limit {
		all = all[:limit]
	}
	items := make([]models.RecentItem, 0, len(all))
	for _, m := range all {
		items = append(items, models.RecentItem{
			ID:             m.ID,
			Kind:           m.Kind,
			SenderID:       m.SenderID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		})
	}
	return items, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, kind models.Kind, messageID int64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindSystem:
		if m, ok := s.system[messageID]; ok {
			return m.msg, nil
		}
	case models.KindProject:
		if m, ok := s.project[messageID]; ok {
			return m, nil
		}
	case models.KindPrivate:
		if m, ok := s.private[messageID]; ok {
			return m, nil
		}
	default:
		return models.Message{}, errors.NotValidf("message type %q", kind)
	}
	return models.Message{}, ErrMessageNotFound
}

func (s *MemoryStore) ListConversation(_ context.Context, ref models.ConversationRef) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var source map[int64]models.Message
	switch ref.Kind {
	case models.ConversationProject:
		source = s.project
	case models.ConversationPrivate:
		source = s.private
	default:
		return nil, errors.NotValidf("conversation %s", ref)
	}
	var out []models.Message
	for _, m := range source {
		if m.ConversationID == ref.ID && !m.IsDeleted {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID int64, kind models.Kind, ids []int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.markLocked(userID, kind, func(id int64) bool { return want[id] })
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID int64, kinds []models.Kind) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked []models.Message
	for _, kind := range kinds {
		msgs, err := s.markLocked(userID, kind, func(int64) bool { return true })
		if err != nil {
			return nil, err
		}
		marked = append(marked, msgs...)
	}
	return marked, nil
}

func (s *MemoryStore) markLocked(userID int64, kind models.Kind, match func(int64) bool) ([]models.Message, error) {
	unread, err := s.unreadLocked(userID, kind)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var marked []models.Message
	for _, m := range unread {
		if !match(m.ID) {
			continue
		}
		switch kind {
		case models.KindSystem:
			s.sysReads[memKey{m.ID, userID}] = now
		case models.KindProject:
			s.prjReads[memKey{m.ID, userID}] = now
		case models.KindPrivate:
			m.IsRead = true
			m.ReadAt = &now
			s.private[m.ID] = m
		}
		marked = append(marked, m)
	}
	return marked, nil
}

func (s *MemoryStore) CreateSystemMessage(_ context.Context, senderID *int64, content string, targetIDs []int64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{ID: s.id(), Kind: models.KindSystem, SenderID: senderID, Content: content}
	msg.CreatedAt = s.stamp()
	entry := &memSystem{msg: msg, broadcastAll: len(targetIDs) == 0, targets: map[int64]bool{}}
	for _, id := range targetIDs {
		entry.targets[id] = true
		s.users[id] = true
	}
	s.system[msg.ID] = entry
	return msg, nil
}

func (s *MemoryStore) CreateProjectMessage(_ context.Context, projectID int64, senderID int64, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender := senderID
	msg := models.Message{ID: s.id(), Kind: models.KindProject, SenderID: &sender, ConversationID: projectID, Content: content}
	msg.CreatedAt = s.stamp()
	s.project[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) CreatePrivateMessage(_ context.Context, chatID int64, senderID int64, receiverID int64, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, receiver := senderID, receiverID
	msg := models.Message{ID: s.id(), Kind: models.KindPrivate, SenderID: &sender, ReceiverID: &receiver, ConversationID: chatID, Content: content}
	msg.CreatedAt = s.stamp()
	s.private[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, kind models.Kind, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindSystem:
		if m, ok := s.system[messageID]; ok {
			m.msg.IsDeleted = true
			return nil
		}
	case models.KindProject:
		if m, ok := s.project[messageID]; ok {
			m.IsDeleted = true
			s.project[messageID] = m
			return nil
		}
	case models.KindPrivate:
		if m, ok := s.private[messageID]; ok {
			m.IsDeleted = true
			s.private[messageID] = m
			return nil
		}
	default:
		return errors.NotValidf("message type %q", kind)
	}
	return ErrMessageNotFound
}

func (s *MemoryStore) IsProjectMember(_ context.Context, projectID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[projectID][userID], nil
}

func (s *MemoryStore) ProjectMemberIDs(_ context.Context, projectID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, active := range s.members[projectID] {
		if active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, chatID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	return ok && chat.HasParticipant(userID), nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID int64) (models.PrivateChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.PrivateChat{}, ErrChatNotFound
	}
	return chat, nil
}

func (s *MemoryStore) CreateOrGetChat(_ context.Context, userID int64, otherID int64, projectID *int64) (models.PrivateChat, error) {
	if userID == otherID {
		return models.PrivateChat{}, errors.NotValidf("chat with self")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user1, user2 := min(userID, otherID), max(userID, otherID)
	for _, chat := range s.chats {
		if chat.User1ID == user1 && chat.User2ID == user2 && sameProject(chat.ProjectID, projectID) {
			return chat, nil
		}
	}
	chat := models.PrivateChat{ID: s.id(), User1ID: user1, User2ID: user2, ProjectID: projectID, CreatedAt: s.stamp()}
	s.chats[chat.ID] = chat
	s.users[user1], s.users[user2] = true, true
	return chat, nil
}

func sameProject(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *MemoryStore) SystemRecipientIDs(_ context.Context, messageID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.system[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	var ids []int64
	for id := range s.users {
		if m.broadcastAll || m.targets[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) IsSystemRecipient(_ context.Context, messageID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.system[messageID]
	return ok && (m.broadcastAll || m.targets[userID]), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

var (
	_ MessageRepository    = (*MemoryStore)(nil)
	_ MembershipRepository = (*MemoryStore)(nil)
	_ MessageRepository    = (*MessageRepo)(nil)
	_ MembershipRepository = (*MembershipRepo)(nil)
)

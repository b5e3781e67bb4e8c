package services

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/servicelink/config"
	"github.com/techagentng/servicelink/models"
	"gorm.io/gorm"
)

// memStore backs all three repositories with in-process maps so the
// service logic can be exercised without a database.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]models.User
	bookings      map[uuid.UUID]struct{}
	conversations map[uuid.UUID]*models.Conversation
	messages      []models.Message
	nextMessageID uint
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]models.User),
		bookings:      make(map[uuid.UUID]struct{}),
		conversations: make(map[uuid.UUID]*models.Conversation),
	}
}

func (s *memStore) addUser(fullname string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := models.User{Fullname: fullname, Username: fullname, Email: fullname + "@example.com"}
	user.ID = uuid.New()
	s.users[user.ID] = user
	return user.ID
}

func (s *memStore) addBooking() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.bookings[id] = struct{}{}
	return id
}

// UserRepository

func (s *memStore) FindUserByID(id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &user, nil
}

func (s *memStore) UserExists(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

// BookingRepository

func (s *memStore) BookingExists(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bookings[id]
	return ok, nil
}

// ChatRepository

func (s *memStore) CreateConversation(conversation *models.Conversation, initial *models.Message) (*models.Conversation, error) {
	s.mu.Lock()
	conversation.ID = uuid.New()
	conversation.CreatedAt = time.Now().UTC()
	conversation.UpdatedAt = conversation.CreatedAt
	for i := range conversation.Participants {
		conversation.Participants[i].ID = uuid.New()
		conversation.Participants[i].ConversationID = conversation.ID
		conversation.Participants[i].User = s.users[conversation.Participants[i].UserID]
	}
	s.conversations[conversation.ID] = conversation

	if initial != nil {
		s.nextMessageID++
		initial.ID = s.nextMessageID
		initial.ConversationID = conversation.ID
		initial.CreatedAt = time.Now().UTC()
		s.messages = append(s.messages, *initial)

		conversation.LastMessage = initial.Content
		at := initial.CreatedAt
		conversation.LastMessageAt = &at
		for i := range conversation.Participants {
			if conversation.Participants[i].UserID == initial.ReceiverID {
				conversation.Participants[i].UnreadCount++
			}
		}
	}
	s.mu.Unlock()

	return s.FindConversationByID(conversation.ID)
}

func (s *memStore) FindConversationByID(conversationID uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *conversation
	clone.Participants = append([]models.ConversationParticipant(nil), conversation.Participants...)
	return &clone, nil
}

func (s *memStore) FindConversationByParticipants(userID, participantID uuid.UUID, bookingID *uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	var found *models.Conversation
	for _, conversation := range s.conversations {
		if !hasParticipant(conversation, userID) || !hasParticipant(conversation, participantID) {
			continue
		}
		if bookingID != nil {
			if conversation.BookingID == nil || *conversation.BookingID != *bookingID {
				continue
			}
		}
		found = conversation
		break
	}
	s.mu.Unlock()

	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.FindConversationByID(found.ID)
}

func hasParticipant(conversation *models.Conversation, userID uuid.UUID) bool {
	for _, participant := range conversation.Participants {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}

func (s *memStore) GetUserConversations(userID uuid.UUID) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := []models.ConversationSummary{}
	for _, conversation := range s.conversations {
		if !hasParticipant(conversation, userID) {
			continue
		}
		summary := models.ConversationSummary{
			ID:            conversation.ID,
			BookingID:     conversation.BookingID,
			LastMessageAt: conversation.LastMessageAt,
			CreatedAt:     conversation.CreatedAt,
			UpdatedAt:     conversation.UpdatedAt,
		}
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ConversationID == conversation.ID && !s.messages[i].IsDeleted {
				last := s.messages[i]
				summary.LastMessage = &last
				break
			}
		}
		for _, participant := range conversation.Participants {
			if participant.UserID == userID {
				summary.UnreadCount = participant.UnreadCount
				summary.IsMuted = participant.IsMuted
				summary.IsArchived = participant.IsArchived
			} else {
				summary.OtherUser = participant.User.Public()
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	return summaries, nil
}

func (s *memStore) SaveMessage(message *models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[message.ConversationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}

	s.nextMessageID++
	message.ID = s.nextMessageID
	message.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, *message)

	conversation.LastMessage = message.Content
	at := message.CreatedAt
	conversation.LastMessageAt = &at
	for i := range conversation.Participants {
		if conversation.Participants[i].UserID == message.ReceiverID {
			conversation.Participants[i].UnreadCount++
		}
	}

	saved := *message
	saved.Sender = s.users[message.SenderID]
	return &saved, nil
}

func (s *memStore) GetMessages(conversationID uuid.UUID, limit, offset int, cursor uint) ([]models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visible []models.Message
	for _, message := range s.messages {
		if message.ConversationID == conversationID && !message.IsDeleted {
			visible = append(visible, message)
		}
	}
	total := int64(len(visible))

	// newest first, like the SQL ordering
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID > visible[j].ID })

	if cursor > 0 {
		var older []models.Message
		for _, message := range visible {
			if message.ID < cursor {
				older = append(older, message)
			}
		}
		visible = older
	} else if offset > 0 {
		if offset >= len(visible) {
			visible = nil
		} else {
			visible = visible[offset:]
		}
	}

	if len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, total, nil
}

func (s *memStore) MarkMessagesAsRead(conversationID, userID uuid.UUID, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ConversationID == conversationID && s.messages[i].ReceiverID == userID && !s.messages[i].IsRead {
			s.messages[i].IsRead = true
			at := readAt
			s.messages[i].ReadAt = &at
		}
	}
	if conversation, ok := s.conversations[conversationID]; ok {
		for i := range conversation.Participants {
			if conversation.Participants[i].UserID == userID {
				conversation.Participants[i].UnreadCount = 0
				at := readAt
				conversation.Participants[i].LastReadAt = &at
			}
		}
	}
	return nil
}

func (s *memStore) IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return false, nil
	}
	return hasParticipant(conversation, userID), nil
}

func (s *memStore) GetOtherParticipant(conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	for _, participant := range conversation.Participants {
		if participant.UserID != userID {
			clone := participant
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func newTestService(store *memStore) ChatService {
	return NewChatService(store, store, store, NewNoopNotifier(), &config.Config{})
}

func seedPair(t *testing.T, store *memStore) (ChatService, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	service := newTestService(store)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	conversation, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: bob})
	require.Nil(t, apiErr)
	return service, alice, bob, conversation.ID
}

func TestCreateConversationWithSelf(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")

	_, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: alice})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestCreateConversationUnknownParticipant(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")

	_, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: uuid.New()})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestCreateConversationUnknownBooking(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	missing := uuid.New()

	_, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{
		ParticipantID: bob,
		BookingID:     &missing,
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestCreateConversationIdempotent(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")
	bob := store.addUser("bob")

	first, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: bob})
	require.Nil(t, apiErr)

	// repeated from either side, the same thread comes back
	second, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: bob})
	require.Nil(t, apiErr)
	assert.Equal(t, first.ID, second.ID)

	third, apiErr := service.CreateConversation(bob, &models.CreateConversationRequest{ParticipantID: alice})
	require.Nil(t, apiErr)
	assert.Equal(t, first.ID, third.ID)

	assert.Len(t, store.conversations, 1)
}

func TestCreateConversationPerBooking(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")
	bob := store.addUser("bob")
	bookingA := store.addBooking()
	bookingB := store.addBooking()

	first, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{
		ParticipantID: bob,
		BookingID:     &bookingA,
	})
	require.Nil(t, apiErr)

	second, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{
		ParticipantID: bob,
		BookingID:     &bookingB,
	})
	require.Nil(t, apiErr)
	assert.NotEqual(t, first.ID, second.ID)

	// without a booking, any existing thread of the pair satisfies the request
	third, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{ParticipantID: bob})
	require.Nil(t, apiErr)
	assert.Len(t, store.conversations, 2)
	assert.Contains(t, []uuid.UUID{first.ID, second.ID}, third.ID)
}

func TestCreateConversationInitialMessage(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")
	bob := store.addUser("bob")

	conversation, apiErr := service.CreateConversation(alice, &models.CreateConversationRequest{
		ParticipantID:  bob,
		InitialMessage: "hi, is the listing still available?",
	})
	require.Nil(t, apiErr)
	assert.Equal(t, "hi, is the listing still available?", conversation.LastMessage)
	require.NotNil(t, conversation.LastMessageAt)

	for _, participant := range conversation.Participants {
		if participant.UserID == bob {
			assert.Equal(t, 1, participant.UnreadCount)
		} else {
			assert.Equal(t, 0, participant.UnreadCount)
		}
	}
}

func TestSendMessageEmpty(t *testing.T) {
	store := newMemStore()
	service, alice, _, conversationID := seedPair(t, store)

	_, apiErr := service.SendMessage(alice, &models.SendMessageRequest{ConversationID: conversationID})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSendMessageInvalidType(t *testing.T) {
	store := newMemStore()
	service, alice, _, conversationID := seedPair(t, store)

	_, apiErr := service.SendMessage(alice, &models.SendMessageRequest{
		ConversationID: conversationID,
		Content:        "hello",
		Type:           "carrier-pigeon",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSendMessageNonParticipant(t *testing.T) {
	store := newMemStore()
	service, _, _, conversationID := seedPair(t, store)
	mallory := store.addUser("mallory")

	_, apiErr := service.SendMessage(mallory, &models.SendMessageRequest{
		ConversationID: conversationID,
		Content:        "let me in",
	})
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestSendMessageUpdatesConversation(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)

	message, apiErr := service.SendMessage(alice, &models.SendMessageRequest{
		ConversationID: conversationID,
		Content:        "see you at noon",
	})
	require.Nil(t, apiErr)
	assert.Equal(t, alice, message.SenderID)
	assert.Equal(t, bob, message.ReceiverID, "receiver is derived, never client-supplied")
	assert.Equal(t, models.MessageTypeText, message.Type)
	assert.Equal(t, "alice", message.Sender.Fullname)

	conversation, apiErr := service.GetConversationByID(conversationID, alice)
	require.Nil(t, apiErr)
	assert.Equal(t, "see you at noon", conversation.LastMessage)
	require.NotNil(t, conversation.LastMessageAt)
	for _, participant := range conversation.Participants {
		if participant.UserID == bob {
			assert.Equal(t, 1, participant.UnreadCount)
		}
	}
}

func TestSendMessageAttachmentOnly(t *testing.T) {
	store := newMemStore()
	service, alice, _, conversationID := seedPair(t, store)

	message, apiErr := service.SendMessage(alice, &models.SendMessageRequest{
		ConversationID: conversationID,
		Type:           models.MessageTypeImage,
		Attachments: []models.Attachment{
			{URL: "https://cdn.example.com/p/1.jpg", Type: "image/jpeg", Name: "1.jpg", Size: 51200},
		},
	})
	require.Nil(t, apiErr)
	assert.NotEmpty(t, message.Attachments)
}

func TestGetMessagesForbidden(t *testing.T) {
	store := newMemStore()
	service, _, _, conversationID := seedPair(t, store)
	mallory := store.addUser("mallory")

	_, apiErr := service.GetMessages(conversationID, mallory, 1, 50, 0)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestGetMessagesLimitClamp(t *testing.T) {
	store := newMemStore()
	service, alice, _, conversationID := seedPair(t, store)

	page, apiErr := service.GetMessages(conversationID, alice, 1, 5000, 0)
	require.Nil(t, apiErr)
	assert.Equal(t, 100, page.Pagination.Limit)

	page, apiErr = service.GetMessages(conversationID, alice, 0, 0, 0)
	require.Nil(t, apiErr)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 50, page.Pagination.Limit)
}

func seedHistory(t *testing.T, service ChatService, alice, bob uuid.UUID, conversationID uuid.UUID, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		sender := alice
		if i%2 == 0 {
			sender = bob
		}
		_, apiErr := service.SendMessage(sender, &models.SendMessageRequest{
			ConversationID: conversationID,
			Content:        fmt.Sprintf("message %d", i),
		})
		require.Nil(t, apiErr)
	}
}

func TestGetMessagesChronological(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)
	seedHistory(t, service, alice, bob, conversationID, 5)

	page, apiErr := service.GetMessages(conversationID, alice, 1, 50, 0)
	require.Nil(t, apiErr)
	require.Len(t, page.Data, 5)
	for i := 1; i < len(page.Data); i++ {
		assert.Greater(t, page.Data[i].ID, page.Data[i-1].ID)
	}
	assert.Equal(t, int64(5), page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)
}

func TestGetMessagesCursorStableUnderInsertion(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)
	seedHistory(t, service, alice, bob, conversationID, 7)

	first, apiErr := service.GetMessages(conversationID, alice, 1, 3, 0)
	require.Nil(t, apiErr)
	require.Len(t, first.Data, 3)
	assert.Equal(t, "message 5", first.Data[0].Content)
	assert.Equal(t, "message 7", first.Data[2].Content)
	assert.True(t, first.Pagination.HasMore)
	assert.Equal(t, first.Data[0].ID, first.Pagination.NextCursor)

	// a new message arriving between page fetches must not shift the
	// older pages
	_, apiErr = service.SendMessage(bob, &models.SendMessageRequest{
		ConversationID: conversationID,
		Content:        "message 8",
	})
	require.Nil(t, apiErr)

	second, apiErr := service.GetMessages(conversationID, alice, 1, 3, first.Pagination.NextCursor)
	require.Nil(t, apiErr)
	require.Len(t, second.Data, 3)
	assert.Equal(t, "message 2", second.Data[0].Content)
	assert.Equal(t, "message 4", second.Data[2].Content)
	assert.True(t, second.Pagination.HasMore)

	third, apiErr := service.GetMessages(conversationID, alice, 1, 3, second.Pagination.NextCursor)
	require.Nil(t, apiErr)
	require.Len(t, third.Data, 1)
	assert.Equal(t, "message 1", third.Data[0].Content)
	assert.False(t, third.Pagination.HasMore)
}

func TestGetMessagesPageOffsets(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)
	seedHistory(t, service, alice, bob, conversationID, 10)

	page, apiErr := service.GetMessages(conversationID, alice, 2, 4, 0)
	require.Nil(t, apiErr)
	require.Len(t, page.Data, 4)
	assert.Equal(t, "message 3", page.Data[0].Content)
	assert.Equal(t, "message 6", page.Data[3].Content)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasMore)

	last, apiErr := service.GetMessages(conversationID, alice, 3, 4, 0)
	require.Nil(t, apiErr)
	require.Len(t, last.Data, 2)
	assert.False(t, last.Pagination.HasMore)
}

func TestMarkAsRead(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)
	for i := 0; i < 3; i++ {
		_, apiErr := service.SendMessage(alice, &models.SendMessageRequest{
			ConversationID: conversationID,
			Content:        "ping",
		})
		require.Nil(t, apiErr)
	}

	summaries, apiErr := service.GetConversations(bob)
	require.Nil(t, apiErr)
	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[0].UnreadCount)
	assert.Equal(t, "alice", summaries[0].OtherUser.Fullname)

	readAt, apiErr := service.MarkAsRead(conversationID, bob)
	require.Nil(t, apiErr)
	assert.WithinDuration(t, time.Now().UTC(), readAt, time.Second)

	summaries, apiErr = service.GetConversations(bob)
	require.Nil(t, apiErr)
	assert.Equal(t, 0, summaries[0].UnreadCount)

	page, apiErr := service.GetMessages(conversationID, bob, 1, 50, 0)
	require.Nil(t, apiErr)
	for _, message := range page.Data {
		assert.True(t, message.IsRead)
		require.NotNil(t, message.ReadAt)
	}
}

func TestMarkAsReadForbidden(t *testing.T) {
	store := newMemStore()
	service, _, _, conversationID := seedPair(t, store)
	mallory := store.addUser("mallory")

	_, apiErr := service.MarkAsRead(conversationID, mallory)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestGetConversationByIDNotFound(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	alice := store.addUser("alice")

	_, apiErr := service.GetConversationByID(uuid.New(), alice)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestGetConversationByIDForbidden(t *testing.T) {
	store := newMemStore()
	service, _, _, conversationID := seedPair(t, store)
	mallory := store.addUser("mallory")

	_, apiErr := service.GetConversationByID(conversationID, mallory)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestIsParticipant(t *testing.T) {
	store := newMemStore()
	service, alice, bob, conversationID := seedPair(t, store)

	for _, userID := range []uuid.UUID{alice, bob} {
		ok, apiErr := service.IsParticipant(conversationID, userID)
		require.Nil(t, apiErr)
		assert.True(t, ok)
	}

	ok, apiErr := service.IsParticipant(conversationID, uuid.New())
	require.Nil(t, apiErr)
	assert.False(t, ok)
}

package services

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/techagentng/servicelink/config"
	"github.com/techagentng/servicelink/db"
	apiError "github.com/techagentng/servicelink/errors"
	"github.com/techagentng/servicelink/models"
	"gorm.io/gorm"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// ChatService owns the conversation business logic. It is stateless:
// authorization is re-derived from persistence on every call.
type ChatService interface {
	CreateConversation(userID uuid.UUID, req *models.CreateConversationRequest) (*models.Conversation, *apiError.Error)
	GetConversations(userID uuid.UUID) ([]models.ConversationSummary, *apiError.Error)
	GetConversationByID(conversationID, userID uuid.UUID) (*models.Conversation, *apiError.Error)
	SendMessage(senderID uuid.UUID, req *models.SendMessageRequest) (*models.Message, *apiError.Error)
	GetMessages(conversationID, userID uuid.UUID, page, limit int, cursor uint) (*models.MessagePage, *apiError.Error)
	MarkAsRead(conversationID, userID uuid.UUID) (time.Time, *apiError.Error)
	IsParticipant(conversationID, userID uuid.UUID) (bool, *apiError.Error)
}

type chatService struct {
	Config      *config.Config
	chatRepo    db.ChatRepository
	userRepo    db.UserRepository
	bookingRepo db.BookingRepository
	notifier    PushNotifier
}

func NewChatService(chatRepo db.ChatRepository, userRepo db.UserRepository, bookingRepo db.BookingRepository, notifier PushNotifier, conf *config.Config) ChatService {
	if notifier == nil {
		notifier = NewNoopNotifier()
	}
	return &chatService{
		Config:      conf,
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		bookingRepo: bookingRepo,
		notifier:    notifier,
	}
}

// CreateConversation finds or lazily creates the thread between the
// caller and the participant. Repeated calls with the same pair (and
// booking, when given) return the existing conversation unchanged.
func (s *chatService) CreateConversation(userID uuid.UUID, req *models.CreateConversationRequest) (*models.Conversation, *apiError.Error) {
	if userID == req.ParticipantID {
		return nil, apiError.New("cannot create a conversation with yourself", http.StatusBadRequest)
	}

	exists, err := s.userRepo.UserExists(req.ParticipantID)
	if err != nil {
		log.Printf("CreateConversation error: %v", err)
		return nil, apiError.ErrInternalServerError
	}
	if !exists {
		return nil, apiError.New("user not found", http.StatusNotFound)
	}

	if req.BookingID != nil {
		bookingExists, err := s.bookingRepo.BookingExists(*req.BookingID)
		if err != nil {
			log.Printf("CreateConversation error: %v", err)
			return nil, apiError.ErrInternalServerError
		}
		if !bookingExists {
			return nil, apiError.New("booking not found", http.StatusNotFound)
		}
	}

	existing, err := s.chatRepo.FindConversationByParticipants(userID, req.ParticipantID, req.BookingID)
	if err == nil {
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		log.Printf("CreateConversation error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	conversation := &models.Conversation{
		BookingID: req.BookingID,
		Participants: []models.ConversationParticipant{
			{UserID: userID},
			{UserID: req.ParticipantID},
		},
	}

	var initial *models.Message
	if req.InitialMessage != "" {
		initial = &models.Message{
			SenderID:   userID,
			ReceiverID: req.ParticipantID,
			Content:    req.InitialMessage,
			Type:       models.MessageTypeText,
		}
	}

	created, err := s.chatRepo.CreateConversation(conversation, initial)
	if err != nil {
		log.Printf("CreateConversation error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	return created, nil
}

func (s *chatService) GetConversations(userID uuid.UUID) ([]models.ConversationSummary, *apiError.Error) {
	summaries, err := s.chatRepo.GetUserConversations(userID)
	if err != nil {
		log.Printf("GetConversations error: %v", err)
		return nil, apiError.ErrInternalServerError
	}
	return summaries, nil
}

func (s *chatService) GetConversationByID(conversationID, userID uuid.UUID) (*models.Conversation, *apiError.Error) {
	conversation, err := s.chatRepo.FindConversationByID(conversationID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apiError.New("conversation not found", http.StatusNotFound)
		}
		log.Printf("GetConversationByID error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	for _, participant := range conversation.Participants {
		if participant.UserID == userID {
			return conversation, nil
		}
	}
	return nil, apiError.New("you do not have access to this conversation", http.StatusForbidden)
}

// SendMessage persists the message inside the atomic unit (insert +
// conversation update + unread increment) and fires a best-effort
// push to the receiver afterwards.
func (s *chatService) SendMessage(senderID uuid.UUID, req *models.SendMessageRequest) (*models.Message, *apiError.Error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, apiError.New("message content is empty", http.StatusBadRequest)
	}

	messageType := req.Type
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !messageType.Valid() {
		return nil, apiError.New("invalid message type", http.StatusBadRequest)
	}

	isParticipant, err := s.chatRepo.IsParticipant(req.ConversationID, senderID)
	if err != nil {
		log.Printf("SendMessage error: %v", err)
		return nil, apiError.ErrInternalServerError
	}
	if !isParticipant {
		return nil, apiError.New("you do not have access to this conversation", http.StatusForbidden)
	}

	// the receiver is always the other participant, never taken from
	// the client
	receiver, err := s.chatRepo.GetOtherParticipant(req.ConversationID, senderID)
	if err != nil {
		log.Printf("SendMessage error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	message := &models.Message{
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		ReceiverID:     receiver.UserID,
		Content:        req.Content,
		Type:           messageType,
	}
	if len(req.Attachments) > 0 {
		raw, err := json.Marshal(req.Attachments)
		if err != nil {
			return nil, apiError.New("invalid attachments", http.StatusBadRequest)
		}
		message.Attachments = raw
	}

	saved, err := s.chatRepo.SaveMessage(message)
	if err != nil {
		log.Printf("SendMessage error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	go s.notifyReceiver(receiver, saved)

	return saved, nil
}

// notifyReceiver pushes a notification for a persisted message. Any
// failure here is logged and discarded.
func (s *chatService) notifyReceiver(receiver *models.ConversationParticipant, message *models.Message) {
	if receiver.IsMuted || receiver.User.DeviceToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body := message.Content
	if body == "" {
		body = "Sent an attachment"
	}
	err := s.notifier.Notify(ctx, receiver.User.DeviceToken, message.Sender.Fullname, body, map[string]string{
		"conversation_id": message.ConversationID.String(),
		"message_id":      strconv.FormatUint(uint64(message.ID), 10),
	})
	if err != nil {
		log.Printf("push notification failed for user %s: %v", receiver.UserID, err)
	}
}

// GetMessages pages backwards through history. A non-zero cursor
// returns messages strictly older than that message ID, so pages
// already fetched never shift when new messages arrive.
func (s *chatService) GetMessages(conversationID, userID uuid.UUID, page, limit int, cursor uint) (*models.MessagePage, *apiError.Error) {
	isParticipant, err := s.chatRepo.IsParticipant(conversationID, userID)
	if err != nil {
		log.Printf("GetMessages error: %v", err)
		return nil, apiError.ErrInternalServerError
	}
	if !isParticipant {
		return nil, apiError.New("you do not have access to this conversation", http.StatusForbidden)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	offset := (page - 1) * limit

	messages, total, err := s.chatRepo.GetMessages(conversationID, limit, offset, cursor)
	if err != nil {
		log.Printf("GetMessages error: %v", err)
		return nil, apiError.ErrInternalServerError
	}

	var nextCursor uint
	if len(messages) > 0 {
		// messages are newest-first here, so the last one is oldest
		nextCursor = messages[len(messages)-1].ID
	}

	hasMore := false
	if cursor > 0 {
		hasMore = len(messages) == limit
	} else {
		hasMore = int64(offset+len(messages)) < total
	}

	// reverse to chronological order for the response
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &models.MessagePage{
		Data: messages,
		Pagination: models.Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
			HasMore:    hasMore,
			NextCursor: nextCursor,
		},
	}, nil
}

// MarkAsRead flips all unread messages addressed to the user and
// resets the unread counter, returning the read timestamp.
func (s *chatService) MarkAsRead(conversationID, userID uuid.UUID) (time.Time, *apiError.Error) {
	isParticipant, err := s.chatRepo.IsParticipant(conversationID, userID)
	if err != nil {
		log.Printf("MarkAsRead error: %v", err)
		return time.Time{}, apiError.ErrInternalServerError
	}
	if !isParticipant {
		return time.Time{}, apiError.New("you do not have access to this conversation", http.StatusForbidden)
	}

	readAt := time.Now().UTC()
	if err := s.chatRepo.MarkMessagesAsRead(conversationID, userID, readAt); err != nil {
		log.Printf("MarkAsRead error: %v", err)
		return time.Time{}, apiError.ErrInternalServerError
	}
	return readAt, nil
}

func (s *chatService) IsParticipant(conversationID, userID uuid.UUID) (bool, *apiError.Error) {
	isParticipant, err := s.chatRepo.IsParticipant(conversationID, userID)
	if err != nil {
		log.Printf("IsParticipant error: %v", err)
		return false, apiError.ErrInternalServerError
	}
	return isParticipant, nil
}

package db

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/servicelink/models"
	"gorm.io/gorm"
)

type ChatRepository interface {
	CreateConversation(conversation *models.Conversation, initial *models.Message) (*models.Conversation, error)
	FindConversationByID(conversationID uuid.UUID) (*models.Conversation, error)
	FindConversationByParticipants(userID, participantID uuid.UUID, bookingID *uuid.UUID) (*models.Conversation, error)
	GetUserConversations(userID uuid.UUID) ([]models.ConversationSummary, error)
	SaveMessage(message *models.Message) (*models.Message, error)
	GetMessages(conversationID uuid.UUID, limit, offset int, cursor uint) ([]models.Message, int64, error)
	MarkMessagesAsRead(conversationID, userID uuid.UUID, readAt time.Time) error
	IsParticipant(conversationID, userID uuid.UUID) (bool, error)
	GetOtherParticipant(conversationID, userID uuid.UUID) (*models.ConversationParticipant, error)
}

type chatRepo struct {
	DB *gorm.DB
}

func NewChatRepo(db *GormDB) ChatRepository {
	return &chatRepo{db.DB}
}

// CreateConversation inserts the conversation, both participant rows
// and, when given, the opening message plus the denormalized
// last-message fields, all inside one transaction.
func (r *chatRepo) CreateConversation(conversation *models.Conversation, initial *models.Message) (*models.Conversation, error) {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}

		if initial == nil {
			return nil
		}

		initial.ConversationID = conversation.ID
		if err := tx.Create(initial).Error; err != nil {
			return err
		}

		now := initial.CreatedAt
		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", conversation.ID).
			Updates(map[string]interface{}{
				"last_message":    initial.Content,
				"last_message_at": now,
			}).Error; err != nil {
			return err
		}

		// the opening message counts against the receiver like any other
		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversation.ID, initial.ReceiverID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	})
	if err != nil {
		log.Printf("CreateConversation error: %v", err)
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	return r.FindConversationByID(conversation.ID)
}

func (r *chatRepo) FindConversationByID(conversationID uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.DB.Preload("Participants.User").First(&conversation, "id = ?", conversationID).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindConversationByParticipants returns the conversation both users
// share. With a bookingID only the thread scoped to that booking
// matches; without one any thread between the pair matches, so a
// booking-scoped and a booking-less conversation can coexist.
func (r *chatRepo) FindConversationByParticipants(userID, participantID uuid.UUID, bookingID *uuid.UUID) (*models.Conversation, error) {
	query := r.DB.Model(&models.Conversation{}).
		Joins("JOIN conversation_participants cp1 ON cp1.conversation_id = conversations.id AND cp1.user_id = ?", userID).
		Joins("JOIN conversation_participants cp2 ON cp2.conversation_id = conversations.id AND cp2.user_id = ?", participantID)
	if bookingID != nil {
		query = query.Where("conversations.booking_id = ?", *bookingID)
	}

	var conversation models.Conversation
	err := query.Preload("Participants.User").First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *chatRepo) GetUserConversations(userID uuid.UUID) ([]models.ConversationSummary, error) {
	var conversations []models.Conversation
	err := r.DB.Model(&models.Conversation{}).
		Joins("JOIN conversation_participants me ON me.conversation_id = conversations.id AND me.user_id = ?", userID).
		Preload("Participants.User").
		Order("conversations.last_message_at DESC NULLS LAST").
		Find(&conversations).Error
	if err != nil {
		log.Printf("GetUserConversations error: %v", err)
		return nil, errors.Wrap(err, "failed to fetch conversations")
	}

	if len(conversations) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]uuid.UUID, 0, len(conversations))
	for _, conversation := range conversations {
		ids = append(ids, conversation.ID)
	}

	// latest surviving message per conversation in one query
	sub := r.DB.Model(&models.Message{}).
		Select("MAX(id)").
		Where("conversation_id IN ? AND is_deleted = ?", ids, false).
		Group("conversation_id")
	var lastMessages []models.Message
	if err := r.DB.Where("id IN (?)", sub).Find(&lastMessages).Error; err != nil {
		return nil, errors.Wrap(err, "failed to fetch last messages")
	}
	lastByConversation := make(map[uuid.UUID]models.Message, len(lastMessages))
	for _, message := range lastMessages {
		lastByConversation[message.ConversationID] = message
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		summary := models.ConversationSummary{
			ID:            conversation.ID,
			BookingID:     conversation.BookingID,
			LastMessageAt: conversation.LastMessageAt,
			CreatedAt:     conversation.CreatedAt,
			UpdatedAt:     conversation.UpdatedAt,
		}
		if last, ok := lastByConversation[conversation.ID]; ok {
			lastCopy := last
			summary.LastMessage = &lastCopy
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

	return summaries, nil
}

// SaveMessage executes the send as one atomic unit: insert the
// message, refresh the conversation's denormalized fields and bump
// the receiver's unread counter. A partial application of these
// writes would corrupt the unread bookkeeping, so they all share one
// transaction.
func (r *chatRepo) SaveMessage(message *models.Message) (*models.Message, error) {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Conversation{}).
			Where("id = ?", message.ConversationID).
			Updates(map[string]interface{}{
				"last_message":    message.Content,
				"last_message_at": message.CreatedAt,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", message.ConversationID, message.ReceiverID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
	})
	if err != nil {
		log.Printf("SaveMessage error: %v", err)
		return nil, errors.Wrap(err, "failed to save message")
	}

	var saved models.Message
	if err := r.DB.Preload("Sender").First(&saved, message.ID).Error; err != nil {
		return nil, errors.Wrap(err, "failed to reload message")
	}
	return &saved, nil
}

// GetMessages returns one page of history, newest first. A non-zero
// cursor is an exclusive upper bound on the message ID; otherwise the
// offset applies. Soft-deleted rows are excluded.
func (r *chatRepo) GetMessages(conversationID uuid.UUID, limit, offset int, cursor uint) ([]models.Message, int64, error) {
	query := r.DB.Where("conversation_id = ? AND is_deleted = ?", conversationID, false)
	if cursor > 0 {
		query = query.Where("id < ?", cursor)
	} else if offset > 0 {
		query = query.Offset(offset)
	}

	var messages []models.Message
	err := query.Order("created_at DESC, id DESC").
		Limit(limit).
		Preload("Sender").
		Find(&messages).Error
	if err != nil {
		log.Printf("GetMessages error: %v", err)
		return nil, 0, errors.Wrap(err, "failed to fetch messages")
	}

	var total int64
	err = r.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Count(&total).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count messages")
	}

	return messages, total, nil
}

// MarkMessagesAsRead flips every unread message addressed to the user
// and zeroes the unread counter in one transaction.
func (r *chatRepo) MarkMessagesAsRead(conversationID, userID uuid.UUID, readAt time.Time) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, userID, false).
			Updates(map[string]interface{}{
				"is_read": true,
				"read_at": readAt,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Updates(map[string]interface{}{
				"unread_count": 0,
				"last_read_at": readAt,
			}).Error
	})
	if err != nil {
		log.Printf("MarkMessagesAsRead error: %v", err)
		return errors.Wrap(err, "failed to mark messages as read")
	}
	return nil
}

func (r *chatRepo) IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check participant")
	}
	return count > 0, nil
}

func (r *chatRepo) GetOtherParticipant(conversationID, userID uuid.UUID) (*models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.DB.Preload("User").
		Where("conversation_id = ? AND user_id <> ?", conversationID, userID).
		First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

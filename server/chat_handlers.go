package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	errs "github.com/techagentng/servicelink/errors"
	"github.com/techagentng/servicelink/models"
	"github.com/techagentng/servicelink/server/response"
)

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, "ok", http.StatusOK, nil, nil)
	}
}

// currentUserID reads the caller identity set by Authorize
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := c.Value("userID").(uuid.UUID)
	return userID, ok
}

func conversationIDParam(c *gin.Context) (uuid.UUID, bool) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid conversation id", http.StatusBadRequest))
		return uuid.Nil, false
	}
	return conversationID, true
}

// GET /conversations
func (s *Server) handleGetConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		conversations, apiErr := s.ChatService.GetConversations(userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Conversations retrieved successfully", http.StatusOK, conversations, nil)
	}
}

// POST /conversations
func (s *Server) handleCreateConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}

		var req models.CreateConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid request body", http.StatusBadRequest))
			return
		}

		conversation, apiErr := s.ChatService.CreateConversation(userID, &req)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Conversation created successfully", http.StatusCreated, conversation, nil)
	}
}

// GET /conversations/:id
func (s *Server) handleGetConversation() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}
		conversationID, ok := conversationIDParam(c)
		if !ok {
			return
		}

		conversation, apiErr := s.ChatService.GetConversationByID(conversationID, userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Conversation retrieved successfully", http.StatusOK, conversation, nil)
	}
}

// GET /conversations/:id/messages?page&limit&cursor
func (s *Server) handleGetMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}
		conversationID, ok := conversationIDParam(c)
		if !ok {
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		cursor, _ := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)

		messages, apiErr := s.ChatService.GetMessages(conversationID, userID, page, limit, uint(cursor))
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Messages retrieved successfully", http.StatusOK, messages, nil)
	}
}

// POST /conversations/:id/messages
func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}
		conversationID, ok := conversationIDParam(c)
		if !ok {
			return
		}

		var req models.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid request body", http.StatusBadRequest))
			return
		}
		// the path parameter wins over whatever the body carries
		req.ConversationID = conversationID

		message, apiErr := s.ChatService.SendMessage(userID, &req)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Message sent successfully", http.StatusCreated, message, nil)
	}
}

// PUT /conversations/:id/read
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusUnauthorized, nil, errs.ErrUnauthorized)
			return
		}
		conversationID, ok := conversationIDParam(c)
		if !ok {
			return
		}

		readAt, apiErr := s.ChatService.MarkAsRead(conversationID, userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "Messages marked as read", http.StatusOK, gin.H{"read_at": readAt}, nil)
	}
}

// GET /users/:id/online
func (s *Server) handleGetUserOnline() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid user id", http.StatusBadRequest))
			return
		}

		online := s.Gateway.Hub().IsOnline(targetID)
		response.JSON(c, "User presence retrieved", http.StatusOK, gin.H{
			"user_id": targetID,
			"online":  online,
		}, nil)
	}
}

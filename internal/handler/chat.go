package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/IzzulGod/Sorachio-Chat-v2/internal/imageproc"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/model"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/service"
	"github.com/IzzulGod/Sorachio-Chat-v2/internal/storage"
	"github.com/IzzulGod/Sorachio-Chat-v2/pkg/logger"
)

type ChatHandler struct {
	chatService   *service.ChatService
	maxImageBytes int64
}

func NewChatHandler(chatService *service.ChatService, maxImageBytes int64) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		maxImageBytes: maxImageBytes,
	}
}

func (h *ChatHandler) Register(api *gin.RouterGroup) {
	chats := api.Group("/chats")
	{
		chats.POST("", h.CreateChat)
		chats.GET("", h.ListChats)
		chats.DELETE("", h.ClearChats)
		chats.GET("/:id", h.GetChat)
		chats.DELETE("/:id", h.DeleteChat)
		chats.PUT("/:id/select", h.SelectChat)
		chats.POST("/:id/messages", h.SendMessage)
	}
	api.GET("/selection", h.GetSelection)
	api.POST("/messages", h.SendMessage)
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req model.CreateChatRequest
	// An empty body is allowed; the default title applies.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	chat, err := h.chatService.CreateChat(req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chatService.ListChats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summaries := make([]model.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summaries = append(summaries, model.Summarize(chat))
	}

	c.JSON(http.StatusOK, gin.H{
		"chats": summaries,
	})
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chatService.GetChat(c.Param("id"))
	if err != nil {
		h.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	if err := h.chatService.DeleteChat(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) ClearChats(c *gin.Context) {
	if err := h.chatService.ClearChats(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) SelectChat(c *gin.Context) {
	if err := h.chatService.Select(c.Param("id")); err != nil {
		h.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.selection())
}

func (h *ChatHandler) GetSelection(c *gin.Context) {
	c.JSON(http.StatusOK, h.selection())
}

func (h *ChatHandler) selection() model.SelectionResponse {
	return model.SelectionResponse{
		SelectedChatID: h.chatService.Selected(),
		IsLoading:      h.chatService.IsLoading(),
	}
}

// SendMessage accepts JSON {text, image} with a base64 or data URL image, or a
// multipart form with a text field and an image file. Pipeline failures are
// still 200: the result carries the state and the notification to show.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	text, image, err := h.readSend(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), c.Param("id"), text, image)
	if err != nil {
		if errors.Is(err, service.ErrNoChatSelected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ChatHandler) readSend(c *gin.Context) (string, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		text := c.PostForm("text")
		file, err := c.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return text, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("read image: %w", err)
		}
		if h.maxImageBytes > 0 && file.Size > h.maxImageBytes {
			return "", nil, fmt.Errorf("image exceeds %d bytes", h.maxImageBytes)
		}
		f, err := file.Open()
		if err != nil {
			return "", nil, fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, fmt.Errorf("read image: %w", err)
		}
		return text, data, nil
	}

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", nil, err
	}
	if req.Image == "" {
		return req.Text, nil, nil
	}
	data, err := imageproc.DecodeDataURL(req.Image)
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}
	return req.Text, data, nil
}

func (h *ChatHandler) storageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.WithError(err).Error("chat request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

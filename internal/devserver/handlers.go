package devserver

import (
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token, "nickname": req.Username}})
}

func (s *Server) handleHistory(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	nickname := c.GetString(ctxNickname)

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	var before int64
	if v, err := strconv.ParseInt(c.Query("beforeChatId"), 10, 64); err == nil {
		before = v
	}

	messages, hasNext, err := s.repo.ListBefore(c.Request.Context(), roomID, before, limit)
	if err != nil {
		s.log.Errorf("devserver: listing history for room %d failed: %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}

	marks, err := s.reads.Marks(c.Request.Context(), roomID)
	if err != nil {
		s.log.Warnf("devserver: reading marks for room %d failed: %v", roomID, err)
		marks = map[string]int64{}
	}
	readers := s.knownOthers(roomID, marks)

	content := make([]historyMessageDTO, 0, len(messages))
	for _, m := range messages {
		content = append(content, historyMessageDTO{
			ChatID:            m.ChatID,
			RoomID:            m.RoomID,
			Message:           m.Content,
			SenderNickname:    m.Sender,
			TimeLabel:         timeLabel(m.CreatedAt),
			Mine:              m.Sender == nickname,
			MessageType:       m.MessageType,
			CreatedAt:         m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			OthersUnreadUsers: unreadViewers(m, readers, marks),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": historyPageDTO{Content: content, HasNext: hasNext}})
}

// knownOthers is everyone the server has seen in the room, from live
// subscriptions and stored watermarks.
func (s *Server) knownOthers(roomID int64, marks map[string]int64) []string {
	seen := make(map[string]struct{}, len(marks))
	for user := range marks {
		seen[user] = struct{}{}
	}
	for _, user := range s.broker.Subscribers(roomID) {
		seen[user] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for user := range seen {
		out = append(out, user)
	}
	return out
}

// unreadViewers counts participants other than the sender whose watermark
// is below the message.
func unreadViewers(m StoredMessage, participants []string, marks map[string]int64) int {
	count := 0
	for _, user := range participants {
		if user == m.Sender {
			continue
		}
		if marks[user] < m.ChatID {
			count++
		}
	}
	return count
}

func (s *Server) handleReadStatus(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req struct {
		LastReadChatID int64 `json:"lastReadChatId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lastReadChatId is required"})
		return
	}

	nickname := c.GetString(ctxNickname)
	if err := s.reads.SetMark(c.Request.Context(), roomID, nickname, req.LastReadChatID); err != nil {
		s.log.Errorf("devserver: storing read mark failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read mark not stored"})
		return
	}
	s.broker.PublishReceipt(roomID, nickname, req.LastReadChatID)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"lastReadChatId": req.LastReadChatID}})
}

func (s *Server) handleReadLatest(c *gin.Context) {
	if !s.readLatest {
		// Deployments may ship without this route; clients tolerate the 404.
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	newest, err := s.repo.Newest(c.Request.Context(), roomID)
	if err != nil {
		s.log.Errorf("devserver: finding newest message failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read mark not stored"})
		return
	}
	if newest == 0 {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"lastReadChatId": 0}})
		return
	}

	nickname := c.GetString(ctxNickname)
	if err := s.reads.SetMark(c.Request.Context(), roomID, nickname, newest); err != nil {
		s.log.Errorf("devserver: storing read mark failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read mark not stored"})
		return
	}
	s.broker.PublishReceipt(roomID, nickname, newest)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"lastReadChatId": newest}})
}

func (s *Server) handleMute(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "muted is required"})
		return
	}

	nickname := c.GetString(ctxNickname)
	if err := s.reads.SetMuted(c.Request.Context(), roomID, nickname, *req.Muted); err != nil {
		s.log.Errorf("devserver: storing mute flag failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mute not stored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"muted": *req.Muted}})
}

func (s *Server) handleParticipants(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	nickname := c.GetString(ctxNickname)

	marks, err := s.reads.Marks(c.Request.Context(), roomID)
	if err != nil {
		marks = map[string]int64{}
	}

	roster := make([]participantDTO, 0)
	for _, user := range s.knownOthers(roomID, marks) {
		roster = append(roster, participantDTO{
			UserID:   s.auth.UserID(user),
			Nickname: user,
			Me:       user == nickname,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": roster})
}

// In-memory image fallback used when no S3 bucket is configured.
type localImages struct {
	mu     sync.RWMutex
	images map[string][]byte
	types  map[string]string
}

func newLocalImages() *localImages {
	return &localImages{images: make(map[string][]byte), types: make(map[string]string)}
}

func (s *Server) handleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()

	id := uuid.New().String()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var imageURL string
	if s.uploader != nil {
		key := "images/" + id + filepath.Ext(header.Filename)
		imageURL, err = s.uploader.Upload(c.Request.Context(), key, contentType, file)
		if err != nil {
			s.log.Errorf("devserver: s3 upload failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}
	} else {
		data := make([]byte, 0, header.Size)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := file.Read(buf)
			data = append(data, buf[:n]...)
			if readErr != nil {
				break
			}
		}
		s.images.mu.Lock()
		s.images.images[id] = data
		s.images.types[id] = contentType
		s.images.mu.Unlock()
		imageURL = "/api/images/" + id
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"imageId":          id,
		"originalFileName": header.Filename,
		"imageUrl":         imageURL,
	}})
}

func (s *Server) handleImage(c *gin.Context) {
	id := c.Param("imageId")
	s.images.mu.RLock()
	data, ok := s.images.images[id]
	contentType := s.images.types[id]
	s.images.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func roomParam(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	return roomID, true
}

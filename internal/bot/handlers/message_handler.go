package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/detect"
	"github.com/groupwarden/groupwarden/internal/flatten"
	"github.com/groupwarden/groupwarden/internal/pool"
)

const (
	photoDownloadTimeout = 30 * time.Second
	visionTimeout        = 45 * time.Second
)

type messageHandler struct {
	deps HandlerDeps
}

// NewMessageHandler creates the ingestion handler: every group message is
// flattened, buffered into the conversation pool, and queued for detection.
// It never blocks on classification.
func NewMessageHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return messageHandler{deps}.Handle
}

func (h messageHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		return
	}
	if msg.From.IsBot || msg.From.ID == deps.Config.Telegram.BotInfo.ID {
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	chatID := msg.Chat.ID
	senderID := msg.From.ID

	if senderID == deps.Config.Telegram.AdminUserID {
		return
	}
	if !chatWatchable(deps.Config.Lists, chatID) {
		return
	}

	ignored, err := deps.Store.IsChatIgnored(ctx, chatID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to check chat watch state, processing anyway", "chat_id", chatID, "error", err)
	}
	if ignored {
		return
	}

	allowed, err := deps.Store.IsSenderAllowed(ctx, senderID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to check allowlist, processing anyway", "sender_id", senderID, "error", err)
	}
	if allowed {
		log.DebugContext(ctx, "Sender allowlisted, skipping", "chat_id", chatID, "sender_id", senderID)
		return
	}

	nodes := h.buildNodes(ctx, b, msg)
	if len(nodes) == 0 {
		return
	}

	limits := flatten.Limits{
		MaxDepth: deps.Config.Flatten.MaxDepth,
		MaxText:  deps.Config.Flatten.MaxText,
		MaxMedia: deps.Config.Flatten.MaxMedia,
	}
	text, media := flatten.Flatten(nodes, limits)
	if text == "" && len(media) == 0 {
		return
	}

	now := time.Unix(int64(msg.Date), 0)
	senderName := displayName(msg.From)

	deps.Pool.Append(pool.Record{
		ChatID:    chatID,
		SenderID:  senderID,
		MessageID: msg.ID,
		Time:      now,
		Text:      text,
		Media:     media,
	})

	deps.Detector.Enqueue(detect.Task{
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: senderName,
		MessageID:  msg.ID,
		Time:       now,
		Text:       text,
		Media:      media,
	})

	log.DebugContext(ctx, "Message ingested",
		"chat_id", chatID, "sender_id", senderID, "message_id", msg.ID,
		"text_len", len(text), "media", len(media))
}

// buildNodes converts one Telegram message into flattener input. Forwarded
// content is wrapped in a forward node so the depth bound applies to it.
func (h messageHandler) buildNodes(ctx context.Context, b *tgbot.Bot, msg *models.Message) []flatten.Node {
	var content []flatten.Node

	text := msg.Text
	if msg.Caption != "" {
		if text != "" {
			text += "\n" + msg.Caption
		} else {
			text = msg.Caption
		}
	}
	if strings.TrimSpace(text) != "" {
		content = append(content, flatten.TextNode(text))
	}

	if len(msg.Photo) > 0 {
		if desc := h.describePhoto(ctx, b, msg.Photo); desc != "" {
			content = append(content, flatten.MediaNode(desc))
		}
	}

	if msg.Quote != nil && strings.TrimSpace(msg.Quote.Text) != "" {
		content = append(content, flatten.ForwardNode(flatten.TextNode(msg.Quote.Text)))
	}

	if len(content) == 0 {
		return nil
	}

	if msg.ForwardOrigin != nil {
		return []flatten.Node{flatten.ForwardNode(content...)}
	}
	return content
}

// describePhoto turns the best-quality photo into a text description via the
// vision model. With vision disabled the photo is ignored.
func (h messageHandler) describePhoto(ctx context.Context, b *tgbot.Bot, photos []models.PhotoSize) string {
	deps := h.deps
	if !deps.Config.Gemini.VisionEnabled {
		return ""
	}
	log := deps.Logger.With("handler", "message")

	var best models.PhotoSize
	bestQuality := 0
	for _, photo := range photos {
		if q := photo.Width * photo.Height; q > bestQuality {
			bestQuality = q
			best = photo
		}
	}

	data, mimeType, err := DownloadPhoto(ctx, b, deps.Config.Telegram.Token, best.FileID)
	if err != nil {
		log.WarnContext(ctx, "Photo download failed, skipping media", "file_id", best.FileID, "error", err)
		return ""
	}

	visionCtx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()
	desc, err := deps.GeminiClient.DescribeMedia(visionCtx, mimeType, data)
	if err != nil {
		log.WarnContext(ctx, "Media description failed, skipping media", "error", err)
		return ""
	}
	return desc
}

// chatWatchable applies the static chat lists: blocked chats are never
// processed, and a non-empty allowed list restricts processing to its members.
func chatWatchable(lists config.ListsConfig, chatID int64) bool {
	for _, id := range lists.BlockedChats {
		if id == chatID {
			return false
		}
	}
	if len(lists.AllowedChats) == 0 {
		return true
	}
	for _, id := range lists.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func displayName(u *models.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = fmt.Sprintf("user %d", u.ID)
	}
	return name
}

// DownloadPhoto downloads a photo from Telegram's API using the provided
// file ID. It returns the photo data, detected MIME type, and any error.
func DownloadPhoto(ctx context.Context, b *tgbot.Bot, token, fileID string) (data []byte, mimeType string, err error) {
	if token == "" {
		return nil, "", fmt.Errorf("empty token provided for photo download")
	}
	if fileID == "" {
		return nil, "", fmt.Errorf("empty fileID provided for photo download")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, photoDownloadTimeout)
	defer cancel()

	fileObj, err := b.GetFile(downloadCtx, &tgbot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path returned from Telegram for file ID %s", fileID)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	const maxDownloadSize = 10 * 1024 * 1024
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("received empty file data")
	}

	mimeType = http.DetectContentType(data)
	return data, mimeType, nil
}

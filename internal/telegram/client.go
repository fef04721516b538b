// Package telegram delivers spread notifications and the daily summary via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkrylov/spreadwatch/internal/engine"
	"github.com/dkrylov/spreadwatch/internal/logger"
	"github.com/dkrylov/spreadwatch/internal/models"
)

// Linker produces a venue trade-page link for a symbol. Both exchange
// clients satisfy it; the links go into the inline keyboard under each
// spread notification.
type Linker interface {
	Name() string
	TradeURL(symbol string) string
}

// Controller exposes the monitor operations reachable from bot commands.
type Controller interface {
	Status() engine.Status
	BannedSymbols() []string
	Ban(symbol string) bool
	Unban(symbol string) bool
}

// Client handles Telegram notifications for a single channel.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	messageDelay   time.Duration
	linkA          Linker
	linkB          Linker

	mu       sync.Mutex
	lastSend time.Time
	pins     []pinnedRecord
}

// pinnedRecord remembers a message this client pinned, so housekeeping
// does not have to read update history back from the API.
type pinnedRecord struct {
	handle int
	at     time.Time
}

// NewClient creates a new Telegram client. linkA and linkB may be nil,
// in which case notifications carry no inline keyboard.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase, messageDelay time.Duration, linkA, linkB Linker) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if messageDelay <= 0 {
		messageDelay = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		messageDelay:   messageDelay,
		linkA:          linkA,
		linkB:          linkB,
	}, nil
}

// throttle spaces out sends so the channel does not hit Bot API flood limits.
func (c *Client) throttle() {
	c.mu.Lock()
	wait := c.messageDelay - time.Since(c.lastSend)
	if wait > 0 {
		time.Sleep(wait)
	}
	c.lastSend = time.Now()
	c.mu.Unlock()
}

func (c *Client) sendWithRetry(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		sent, err := c.bot.Send(msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return tgbotapi.Message{}, fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// keyboard builds the MEXC/GATE trade-link row for a symbol.
func (c *Client) keyboard(symbol string) *tgbotapi.InlineKeyboardMarkup {
	if c.linkA == nil || c.linkB == nil {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(c.linkA.Name(), c.linkA.TradeURL(symbol)),
			tgbotapi.NewInlineKeyboardButtonURL(c.linkB.Name(), c.linkB.TradeURL(symbol)),
		),
	)
	return &markup
}

// Create posts a new spread notification and returns its message ID.
func (c *Client) Create(text, symbol string) (int, error) {
	c.throttle()

	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb := c.keyboard(symbol); kb != nil {
		msg.ReplyMarkup = *kb
	}

	sent, err := c.sendWithRetry(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to create notification for %s: %w", symbol, err)
	}
	return sent.MessageID, nil
}

// Update edits an existing spread notification in place. Failures are
// classified so the caller can tell a user-deleted message from a
// transient API error.
func (c *Client) Update(handle int, text, symbol string) models.UpdateResult {
	edit := tgbotapi.NewEditMessageText(c.chatID, handle, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = c.keyboard(symbol)

	_, err := c.bot.Send(edit)
	result := ClassifyEditError(err)
	if result == models.UpdateFailed {
		logger.Warn("Failed to update notification %d for %s: %v", handle, symbol, err)
	}
	return result
}

// Delete removes a spread notification. A message that is already gone
// counts as deleted.
func (c *Client) Delete(handle int) bool {
	_, err := c.bot.Request(tgbotapi.NewDeleteMessage(c.chatID, handle))
	if err == nil {
		return true
	}
	if isGoneError(err) {
		return true
	}
	logger.Warn("Failed to delete message %d: %v", handle, err)
	return false
}

// Send posts a plain HTML message (no keyboard) and returns its message ID.
// The daily summary is created through this path.
func (c *Client) Send(text string) (int, error) {
	c.throttle()

	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := c.sendWithRetry(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit replaces the text of a plain message, classifying the outcome.
func (c *Client) Edit(handle int, text string) models.UpdateResult {
	edit := tgbotapi.NewEditMessageText(c.chatID, handle, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	_, err := c.bot.Send(edit)
	result := ClassifyEditError(err)
	if result == models.UpdateFailed {
		logger.Warn("Failed to edit message %d: %v", handle, err)
	}
	return result
}

// Pin pins a message without notifying channel subscribers and records
// it for later housekeeping.
func (c *Client) Pin(handle int) error {
	_, err := c.bot.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              c.chatID,
		MessageID:           handle,
		DisableNotification: true,
	})
	if err != nil {
		return fmt.Errorf("failed to pin message %d: %w", handle, err)
	}
	c.mu.Lock()
	c.pins = append(c.pins, pinnedRecord{handle: handle, at: time.Now()})
	c.mu.Unlock()
	return nil
}

// FindPinned reports the chat's pinned message if its text satisfies
// match. Only the getChat endpoint is used; reading raw updates here
// would conflict with the command poller's long poll.
func (c *Client) FindPinned(match func(string) bool) (int, string, bool) {
	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: c.chatID},
	})
	if err != nil {
		logger.Warn("Failed to fetch chat info: %v", err)
		return 0, "", false
	}
	if chat.PinnedMessage != nil && match(chat.PinnedMessage.Text) {
		c.mu.Lock()
		c.pins = append(c.pins, pinnedRecord{handle: chat.PinnedMessage.MessageID, at: time.Now()})
		c.mu.Unlock()
		return chat.PinnedMessage.MessageID, chat.PinnedMessage.Text, true
	}
	return 0, "", false
}

// TrimPins unpins the oldest messages this client pinned once more than
// maxPins are tracked. The newest pins survive, so the current summary
// stays at the top of the channel.
func (c *Client) TrimPins(maxPins int) int {
	c.mu.Lock()
	excess := trimExcess(c.pins, maxPins)
	c.mu.Unlock()
	if len(excess) == 0 {
		return 0
	}

	dropped := make(map[int]bool, len(excess))
	for _, p := range excess {
		if _, err := c.bot.Request(tgbotapi.UnpinChatMessageConfig{ChatID: c.chatID, MessageID: p.handle}); err != nil {
			logger.Warn("Failed to unpin message %d: %v", p.handle, err)
			continue
		}
		dropped[p.handle] = true
	}
	if len(dropped) == 0 {
		return 0
	}

	c.mu.Lock()
	kept := c.pins[:0]
	for _, p := range c.pins {
		if !dropped[p.handle] {
			kept = append(kept, p)
		}
	}
	c.pins = kept
	c.mu.Unlock()

	logger.Info("Unpinned %d old summary message(s)", len(dropped))
	return len(dropped)
}

// trimExcess returns the oldest records beyond the maxPins newest.
func trimExcess(pins []pinnedRecord, maxPins int) []pinnedRecord {
	if maxPins < 0 {
		maxPins = 0
	}
	if len(pins) <= maxPins {
		return nil
	}
	ordered := make([]pinnedRecord, len(pins))
	copy(ordered, pins)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })
	return ordered[:len(ordered)-maxPins]
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, ctrl Controller) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, ctrl)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, ctrl Controller) {
	switch msg.Command() {
	case "status":
		st := ctrl.Status()
		text := fmt.Sprintf("Активных спредов: %d\nОжидают подтверждения: %d\nВ бан-листе: %d\nНовых листингов: %d",
			len(st.ActiveSymbols), len(st.PendingSymbols), st.BannedCount, st.NewListings)
		if len(st.ActiveSymbols) > 0 {
			text += "\n\nАктивные: " + strings.Join(st.ActiveSymbols, ", ")
		}
		c.reply(msg.Chat.ID, text)
	case "list":
		banned := ctrl.BannedSymbols()
		if len(banned) == 0 {
			c.reply(msg.Chat.ID, "Бан-лист пуст")
			return
		}
		c.reply(msg.Chat.ID, "Бан-лист: "+strings.Join(banned, ", "))
	case "ban":
		symbol := NormalizeSymbol(msg.CommandArguments())
		if symbol == "" {
			c.reply(msg.Chat.ID, "Использование: /ban SYMBOL")
			return
		}
		if ctrl.Ban(symbol) {
			c.reply(msg.Chat.ID, symbol+" добавлен в бан-лист")
		} else {
			c.reply(msg.Chat.ID, symbol+" уже в бан-листе")
		}
	case "unban":
		symbol := NormalizeSymbol(msg.CommandArguments())
		if symbol == "" {
			c.reply(msg.Chat.ID, "Использование: /unban SYMBOL")
			return
		}
		if ctrl.Unban(symbol) {
			c.reply(msg.Chat.ID, symbol+" удалён из бан-листа")
		} else {
			c.reply(msg.Chat.ID, symbol+" не найден в бан-листе")
		}
	}
}

func (c *Client) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("Failed to reply to command: %v", err)
	}
}

// NormalizeSymbol uppercases a user-supplied symbol and strips the common
// quote-currency suffix, so "/ban btc_usdt" and "/ban BTC" hit the same key.
func NormalizeSymbol(arg string) string {
	symbol := strings.ToUpper(strings.TrimSpace(arg))
	symbol = strings.TrimSuffix(symbol, "_USDT")
	symbol = strings.TrimSuffix(symbol, "USDT")
	return strings.TrimSuffix(symbol, "_")
}

// ClassifyEditError maps a Bot API edit failure to an update outcome.
// "not found" style errors mean the channel owner removed the message.
func ClassifyEditError(err error) models.UpdateResult {
	if err == nil {
		return models.UpdateOK
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "message to edit not found"),
		strings.Contains(text, "message_id_invalid"):
		return models.UpdateDeleted
	case strings.Contains(text, "message is not modified"):
		return models.UpdateUnmodified
	default:
		return models.UpdateFailed
	}
}

func isGoneError(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "message to delete not found") ||
		strings.Contains(text, "message_id_invalid")
}

package service

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Notifier pushes operational events to the admin channel. Best-effort: a
// delivery failure is logged and never propagated into the withdrawal result.
type Notifier interface {
	NotifyWithdrawalCompleted(userID, dest string, amountNano int64, txHash string)
	NotifyAlert(message string)
}

type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *logrus.Entry
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		log:    logrus.WithField("component", "notifier"),
	}, nil
}

func (n *TelegramNotifier) NotifyWithdrawalCompleted(userID, dest string, amountNano int64, txHash string) {
	text := fmt.Sprintf("Withdrawal completed\nuser: %s\namount: %s BOLT\nto: %s\ntx: %s",
		userID, FormatTokens(amountNano), dest, txHash)
	n.send(text)
}

func (n *TelegramNotifier) NotifyAlert(message string) {
	n.send("⚠️ " + message)
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.WithError(err).Warn("admin notification failed")
	}
}

// NoopNotifier is used when no admin bot is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyWithdrawalCompleted(string, string, int64, string) {}
func (NoopNotifier) NotifyAlert(string)                                      {}

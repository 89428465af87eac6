package emomint

import (
	"errors"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emomint/backend/internal/telegram"
)

// Now is swapped out in tests to pin the clock.
var Now = time.Now

// Today returns the current UTC calendar day. Every quota and bonus gate in
// the system compares against this value.
func Today() string {
	return Now().UTC().Format("2006-01-02")
}

func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

func UsdToEmo(usdPrice float64, precision uint) (emoPrice float64) {
	emoPrice = RoundFloat(usdPrice/CurrentAppConfig.EmoUsdRate, precision)
	return
}

func EscapeMarkdownV2(text string) string {
	specialChars := []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// SendTelegramMessage pushes an ops notification to the chat configured for
// the given channel ("signup" or "finance").
func SendTelegramMessage(msg string, chat string) error {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return errors.New("TELEGRAM_TOKEN is not set")
	}
	chatId := os.Getenv("DEFAULT_CHAT_ID")
	switch chat {
	case "signup":
		chatId = os.Getenv("SIGNUP_CHAT_ID")
	case "finance":
		chatId = os.Getenv("FINANCE_CHAT_ID")
	}
	if chatId == "" {
		chatId = os.Getenv("DEFAULT_CHAT_ID")
	}
	if chatId == "" {
		return errors.New("CHAT_ID is not set")
	}
	chatIdInt, err := strconv.Atoi(chatId)
	if err != nil {
		return err
	}
	id := int64(chatIdInt)
	bot, err := telegram.NewBot(token)
	if err != nil {
		return err
	}
	return bot.Send(id, msg)
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatwarden/internal/analytics"
	"chatwarden/internal/moderation"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"

	"go.uber.org/zap"
)

const (
	groupOnlyPrivateText = "🤖 Я работаю только в личных сообщениях!\n\nНапишите мне в лс для настройки модерации ваших групп."
	failedText           = "❌ Не удалось выполнить команду, попробуйте позже"
	notOwnedText         = "❌ Чат не найден среди ваших групп"
	logRetentionDays     = 30
)

func startText(firstName string) string {
	return fmt.Sprintf("👋 Привет, %s!\n\n"+
		"🤖 Я бот-модератор для ваших групп.\n\n"+
		"📋 Что я умею:\n"+
		"• Автоматически модерировать сообщения\n"+
		"• Проверять профили на каналы\n"+
		"• Блокировать спамеров\n\n"+
		"💡 Чтобы начать:\n"+
		"1. Добавьте меня в группу как администратора\n"+
		"2. Назначьте права на удаление сообщений и бан\n"+
		"3. Используйте команду /register в группе\n\n"+
		"⚙️ Команды:\n"+
		"+слово1, слово2 - добавить стоп-слова\n"+
		"/words - список стоп-слов\n"+
		"/delword слово - удалить стоп-слово\n"+
		"/action ban|delete|warn - действие при нарушении\n"+
		"/toggle automod|profiles|media|notify - переключить проверку\n"+
		"/chats - мои чаты, /chat ID on|off - модерация чата\n"+
		"/exceptions - исключения\n"+
		"/addexception USER CHAT, /delexception USER CHAT - управление исключениями\n"+
		"/bans - забаненные, /unban USER CHAT - разбанить\n"+
		"/notifications - необработанные уведомления\n"+
		"/report day|week - отчет о нарушениях", firstName)
}

// register binds a group to the sender after checking that both the bot and
// the sender administer it.
func (b *Bot) register(ctx context.Context, chatID int64, title string, user transport.User) string {
	log := b.logger.With(zap.Int64("chat_id", chatID), zap.Int64("user_id", user.ID))

	botStatus, err := b.transport.ChatMemberStatus(ctx, chatID, b.botID)
	if err != nil {
		log.Warn("bot status lookup failed", zap.Error(err))
		return "❌ Ошибка регистрации: не удалось проверить права бота"
	}
	if !botStatus.IsAdmin() {
		return "❌ Бот не является администратором этой группы!\n\n" +
			"Добавьте бота как администратора с правами:\n" +
			"• Удаление сообщений\n" +
			"• Блокировка пользователей"
	}
	userStatus, err := b.transport.ChatMemberStatus(ctx, chatID, user.ID)
	if err != nil {
		log.Warn("user status lookup failed", zap.Error(err))
		return "❌ Ошибка регистрации: не удалось проверить ваши права"
	}
	if !userStatus.IsAdmin() {
		return "❌ Вы не являетесь администратором этой группы!"
	}

	owner, found, err := b.store.OwnerForChat(ctx, chatID)
	if err != nil {
		log.Warn("owner lookup failed", zap.Error(err))
		return failedText
	}
	if found {
		if owner == user.ID {
			return fmt.Sprintf("ℹ️ Группа '%s' уже зарегистрирована!\n\nНастройте параметры через /start в личных сообщениях бота.", title)
		}
		return "⚠️ Эта группа уже зарегистрирована другим администратором!\n\n" +
			"Только один пользователь может управлять настройками модерации для группы."
	}

	if err := b.store.AddChat(ctx, chatID, title, user.ID); err != nil {
		log.Warn("chat registration failed", zap.Error(err))
		return failedText
	}
	log.Info("chat registered")
	b.dm(ctx, user.ID, fmt.Sprintf("✅ Группа зарегистрирована!\n\n💬 %s\n\nТеперь вы можете управлять настройками модерации для этой группы.", title))
	return fmt.Sprintf("✅ Группа '%s' зарегистрирована!\n\nТеперь бот будет модерировать эту группу с вашими настройками.", title)
}

// botPromoted registers the chat to whoever made the bot an administrator.
func (b *Bot) botPromoted(ctx context.Context, chatID int64, title string, inviter transport.User) {
	if inviter.ID == 0 {
		return
	}
	log := b.logger.With(zap.Int64("chat_id", chatID), zap.Int64("owner_id", inviter.ID))
	if err := b.store.AddChat(ctx, chatID, title, inviter.ID); err != nil {
		log.Warn("chat registration failed", zap.Error(err))
		return
	}
	log.Info("bot added to chat", zap.String("title", title))
	b.dm(ctx, inviter.ID, fmt.Sprintf("✅ Бот добавлен в группу: %s\n\nАвтоматическая модерация активирована!\nНастройте параметры через /start", title))
}

func (b *Bot) botRemoved(ctx context.Context, chatID int64) {
	owner, found, err := b.store.OwnerForChat(ctx, chatID)
	if err != nil || !found {
		return
	}
	if err := b.store.RemoveChat(ctx, chatID, owner); err != nil {
		b.logger.Warn("chat removal failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	b.logger.Info("bot removed from chat", zap.Int64("chat_id", chatID), zap.Int64("owner_id", owner))
}

func (b *Bot) dm(ctx context.Context, userID int64, text string) {
	if _, err := b.transport.SendMessage(ctx, userID, text, nil); err != nil {
		b.logger.Debug("direct message failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// addWords handles the "+word1, word2" quick add.
func (b *Bot) addWords(ctx context.Context, ownerID int64, raw string) string {
	var added, skipped []string
	for _, word := range strings.Split(raw, ",") {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		ok, err := b.store.AddStopWord(ctx, ownerID, word)
		if err != nil {
			b.logger.Warn("stop word not added", zap.Int64("owner_id", ownerID), zap.Error(err))
			return failedText
		}
		if ok {
			added = append(added, word)
		} else {
			skipped = append(skipped, word)
		}
	}
	if len(added) == 0 && len(skipped) == 0 {
		return "❌ Укажите слова через запятую: +слово1, слово2"
	}
	var sb strings.Builder
	if len(added) > 0 {
		fmt.Fprintf(&sb, "✅ Добавлено стоп-слов: %d\n%s", len(added), strings.Join(added, ", "))
	}
	if len(skipped) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "ℹ️ Уже в списке: %s", strings.Join(skipped, ", "))
	}
	return sb.String()
}

func (b *Bot) listWords(ctx context.Context, ownerID int64) string {
	words, err := b.store.StopWords(ctx, ownerID)
	if err != nil {
		b.logger.Warn("stop words lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if len(words) == 0 {
		return "📝 Список стоп-слов пуст\n\nДобавьте слова сообщением: +слово1, слово2"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📝 Стоп-слова (%d):\n", len(words))
	for i, word := range words {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, word)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) deleteWords(ctx context.Context, ownerID int64, args []string) string {
	if len(args) == 0 {
		return "❌ Использование: /delword слово"
	}
	if len(args) == 1 && args[0] == "all" {
		if err := b.store.ClearStopWords(ctx, ownerID); err != nil {
			b.logger.Warn("stop words not cleared", zap.Int64("owner_id", ownerID), zap.Error(err))
			return failedText
		}
		return "🗑 Все стоп-слова удалены"
	}
	word := strings.Join(args, " ")
	removed, err := b.store.RemoveStopWord(ctx, ownerID, word)
	if err != nil {
		b.logger.Warn("stop word not removed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if !removed {
		return fmt.Sprintf("ℹ️ Слова «%s» нет в списке", strings.ToLower(word))
	}
	return fmt.Sprintf("🗑 Стоп-слово «%s» удалено", strings.ToLower(word))
}

func (b *Bot) setAction(ctx context.Context, ownerID int64, args []string) string {
	if len(args) != 1 {
		return "❌ Использование: /action ban|delete|warn"
	}
	action, ok := storage.ParseAction(args[0])
	if !ok {
		return "❌ Использование: /action ban|delete|warn"
	}
	settings, err := b.store.OwnerSettings(ctx, ownerID)
	if err != nil {
		b.logger.Warn("owner settings lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	settings.Action = action
	if err := b.store.UpsertOwnerSettings(ctx, settings); err != nil {
		b.logger.Warn("owner settings not saved", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	return fmt.Sprintf("✅ Действие при нарушении: %s", actionLabel(action))
}

func actionLabel(action storage.Action) string {
	switch action {
	case storage.ActionDelete:
		return "удаление сообщения"
	case storage.ActionWarn:
		return "предупреждение"
	default:
		return "бан"
	}
}

func (b *Bot) toggle(ctx context.Context, ownerID int64, args []string) string {
	const usage = "❌ Использование: /toggle automod|profiles|media|notify"
	if len(args) != 1 {
		return usage
	}
	settings, err := b.store.OwnerSettings(ctx, ownerID)
	if err != nil {
		b.logger.Warn("owner settings lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}

	var label string
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "automod":
		settings.AutomodEnabled = !settings.AutomodEnabled
		label, enabled = "Автомодерация", settings.AutomodEnabled
	case "profiles":
		settings.CheckProfiles = !settings.CheckProfiles
		label, enabled = "Проверка профилей", settings.CheckProfiles
	case "media":
		settings.CheckMedia = !settings.CheckMedia
		label, enabled = "Проверка медиа", settings.CheckMedia
	case "notify":
		settings.NotifyAdmin = !settings.NotifyAdmin
		label, enabled = "Уведомления", settings.NotifyAdmin
	default:
		return usage
	}
	if err := b.store.UpsertOwnerSettings(ctx, settings); err != nil {
		b.logger.Warn("owner settings not saved", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	return fmt.Sprintf("%s: %s", label, onOff(enabled))
}

func onOff(enabled bool) string {
	if enabled {
		return "✅ включено"
	}
	return "❌ выключено"
}

func (b *Bot) report(ctx context.Context, ownerID int64, args []string) string {
	period, title := 24*time.Hour, "за сутки"
	if len(args) > 0 && strings.ToLower(args[0]) == "week" {
		period, title = 7*24*time.Hour, "за неделю"
	}
	report, err := b.analytics.Report(ctx, ownerID, b.clock.Now().Add(-period))
	if err != nil {
		b.logger.Warn("report failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Отчет %s\n\nВсего нарушений: %d\n", title, report.Total)
	if report.Total == 0 {
		return strings.TrimRight(sb.String(), "\n")
	}
	for _, kind := range []struct{ key, label string }{
		{analytics.KindStopWords, "Стоп-слова"},
		{analytics.KindEdit, "Редактирование"},
		{analytics.KindProfile, "Каналы в профиле"},
		{analytics.KindCaptcha, "Капча"},
		{analytics.KindOther, "Прочее"},
	} {
		if n := report.ByKind[kind.key]; n > 0 {
			fmt.Fprintf(&sb, "• %s: %d\n", kind.label, n)
		}
	}
	if len(report.TopOffenders) > 0 {
		sb.WriteString("\n👤 Нарушители:\n")
		for _, offender := range report.TopOffenders {
			name := offender.Name
			if name == "" {
				name = strconv.FormatInt(offender.UserID, 10)
			}
			fmt.Fprintf(&sb, "• %s: %d\n", name, offender.Count)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) listChats(ctx context.Context, ownerID int64) string {
	chats, err := b.store.ListChats(ctx, ownerID)
	if err != nil {
		b.logger.Warn("chats lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if len(chats) == 0 {
		return "💬 У вас нет зарегистрированных групп\n\nДобавьте бота в группу администратором или используйте /register"
	}
	var sb strings.Builder
	sb.WriteString("💬 Мои чаты:\n")
	for _, chat := range chats {
		fmt.Fprintf(&sb, "• %s (%d): %s\n", chat.Title, chat.ChatID, onOff(chat.Enabled))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) setChat(ctx context.Context, ownerID int64, args []string) string {
	const usage = "❌ Использование: /chat ID on|off"
	if len(args) != 2 {
		return usage
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usage
	}
	var enabled bool
	switch strings.ToLower(args[1]) {
	case "on":
		enabled = true
	case "off":
	default:
		return usage
	}

	if reply, ok := b.ownsChat(ctx, ownerID, chatID); !ok {
		return reply
	}
	if err := b.store.SetChatModeration(ctx, chatID, enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notOwnedText
		}
		b.logger.Warn("chat moderation not saved", zap.Int64("chat_id", chatID), zap.Error(err))
		return failedText
	}
	return fmt.Sprintf("Модерация чата %d: %s", chatID, onOff(enabled))
}

func (b *Bot) listExceptions(ctx context.Context, ownerID int64) string {
	exceptions, err := b.store.ListExceptions(ctx, ownerID)
	if err != nil {
		b.logger.Warn("exceptions lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if len(exceptions) == 0 {
		return "👥 Список исключений пуст"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 Исключения (%d):\n", len(exceptions))
	for _, exception := range exceptions {
		fmt.Fprintf(&sb, "• %s (%d) в чате %d\n", exception.Username, exception.UserID, exception.ChatID)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ownsChat reports whether chatID is registered to ownerID. On false it also
// returns the reply to send.
func (b *Bot) ownsChat(ctx context.Context, ownerID, chatID int64) (string, bool) {
	owner, found, err := b.store.OwnerForChat(ctx, chatID)
	if err != nil {
		b.logger.Warn("owner lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return failedText, false
	}
	if !found || owner != ownerID {
		return notOwnedText, false
	}
	return "", true
}

// memberArgs parses "USER CHAT".
func memberArgs(args []string) (userID, chatID int64, ok bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	chatID, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return userID, chatID, true
}

func (b *Bot) addException(ctx context.Context, ownerID int64, args []string) string {
	userID, chatID, ok := memberArgs(args)
	if !ok {
		return "❌ Использование: /addexception USER_ID CHAT_ID"
	}
	if reply, ok := b.ownsChat(ctx, ownerID, chatID); !ok {
		return reply
	}
	added, err := b.store.AddException(ctx, storage.Exception{
		UserID:   userID,
		Username: strconv.FormatInt(userID, 10),
		ChatID:   chatID,
		OwnerID:  ownerID,
		Reason:   "Добавлено вручную",
	})
	if err != nil {
		b.logger.Warn("exception not added", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return failedText
	}
	if !added {
		return "⚠️ Пользователь уже в исключениях"
	}
	return fmt.Sprintf("✅ Пользователь %d добавлен в исключения чата %d", userID, chatID)
}

func (b *Bot) removeException(ctx context.Context, ownerID int64, args []string) string {
	userID, chatID, ok := memberArgs(args)
	if !ok {
		return "❌ Использование: /delexception USER_ID CHAT_ID"
	}
	if reply, ok := b.ownsChat(ctx, ownerID, chatID); !ok {
		return reply
	}
	if err := b.store.RemoveException(ctx, userID, chatID); err != nil {
		b.logger.Warn("exception not removed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return failedText
	}
	return fmt.Sprintf("✅ Пользователь %d удален из исключений чата %d", userID, chatID)
}

func (b *Bot) listBans(ctx context.Context, ownerID int64) string {
	bans, err := b.store.ListBans(ctx, ownerID)
	if err != nil {
		b.logger.Warn("bans lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if len(bans) == 0 {
		return "🚫 Список забаненных пуст"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚫 Забаненные (%d):\n", len(bans))
	for _, ban := range bans {
		fmt.Fprintf(&sb, "• %s (%d) в %s (%d): %s\n", ban.Username, ban.UserID, ban.ChatTitle, ban.ChatID, ban.Reason)
	}
	sb.WriteString("\nРазбанить: /unban USER_ID CHAT_ID")
	return sb.String()
}

// unban goes through the same path as the notification button.
func (b *Bot) unban(ctx context.Context, ownerID int64, args []string) string {
	userID, chatID, ok := memberArgs(args)
	if !ok {
		return "❌ Использование: /unban USER_ID CHAT_ID"
	}
	text, err := b.service.HandleCallback(ctx, ownerID, moderation.Callback{
		Action: moderation.ActionUnban,
		ChatID: chatID,
		UserID: userID,
	})
	switch {
	case errors.Is(err, moderation.ErrNotOwner):
		return notOwnedText
	case err != nil:
		b.logger.Warn("unban failed", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return failedText
	}
	return text
}

func (b *Bot) listNotifications(ctx context.Context, ownerID int64) string {
	pending, err := b.store.PendingNotifications(ctx, ownerID)
	if err != nil {
		b.logger.Warn("notifications lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return failedText
	}
	if len(pending) == 0 {
		return "🔔 Нет необработанных уведомлений"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 Необработанные уведомления (%d):\n", len(pending))
	for _, n := range pending {
		fmt.Fprintf(&sb, "• %s: %s (%d) - %s\n", n.ChatTitle, n.Username, n.UserID, n.Reason)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) setCaptcha(args []string) string {
	if len(args) != 1 {
		return fmt.Sprintf("Капча: %s\n\nИспользование: /captcha on|off", onOff(b.runtime.CaptchaEnabled()))
	}
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
	case "off":
	default:
		return "❌ Использование: /captcha on|off"
	}
	previous := b.runtime.SetCaptchaEnabled(enabled)
	if previous != enabled {
		b.logger.Info("captcha toggled", zap.Bool("enabled", enabled))
	}
	return fmt.Sprintf("Капча: %s", onOff(enabled))
}

func (b *Bot) stats() string {
	tracking := b.tracker.Stats()
	captcha := b.engine.Stats()

	efficiency := 0.0
	if tracking.TotalChecked > 0 {
		efficiency = float64(tracking.ViolationsFound) / float64(tracking.TotalChecked) * 100
	}

	var sb strings.Builder
	sb.WriteString("🔍 Мониторинг сообщений\n\n")
	fmt.Fprintf(&sb, "• Сейчас отслеживается: %d сообщений\n", tracking.Active)
	fmt.Fprintf(&sb, "• Самое старое сообщение: %d минут назад\n", int(tracking.OldestAge.Minutes()))
	fmt.Fprintf(&sb, "• Всего отслежено: %d\n", tracking.TotalTracked)
	fmt.Fprintf(&sb, "• Проверок выполнено: %d\n", tracking.TotalChecked)
	fmt.Fprintf(&sb, "• Нарушений найдено: %d\n", tracking.ViolationsFound)
	fmt.Fprintf(&sb, "• Редакций обнаружено: %d\n", tracking.EditsDetected)
	fmt.Fprintf(&sb, "• Эффективность: %.1f%%\n", efficiency)
	fmt.Fprintf(&sb, "• Попадания в кэш: %d, промахи: %d\n\n", tracking.CacheHits, tracking.CacheMisses)
	sb.WriteString("🧩 Капча\n\n")
	fmt.Fprintf(&sb, "• Статус: %s\n", onOff(b.runtime.CaptchaEnabled()))
	fmt.Fprintf(&sb, "• Отправлено: %d\n", captcha.Sent)
	fmt.Fprintf(&sb, "• Решено: %d\n", captcha.Passed)
	fmt.Fprintf(&sb, "• Ошибок: %d\n", captcha.Failed)
	fmt.Fprintf(&sb, "• Таймаутов: %d\n", captcha.TimedOut)
	fmt.Fprintf(&sb, "• Активных: %d", captcha.Active)
	return sb.String()
}

func (b *Bot) clearCache() string {
	removed := b.tracker.Clear()
	return fmt.Sprintf("✅ Кэш мониторинга очищен (%d записей)", removed)
}

func (b *Bot) cleanupLogs(ctx context.Context) string {
	removed, err := b.store.CleanupLogs(ctx, logRetentionDays)
	if err != nil {
		b.logger.Warn("log cleanup failed", zap.Error(err))
		return failedText
	}
	return fmt.Sprintf("✅ Очищено %d старых логов (старше %d дней)", removed, logRetentionDays)
}

// forwardLog mirrors a moderation log entry into the operators' log chat.
func (b *Bot) forwardLog(ctx context.Context, entry storage.LogEntry) {
	text := fmt.Sprintf("📝 Нарушение\n\n👤 %s (%d)\n💬 Чат: %d\n📋 %s",
		entry.OffenderName, entry.OffenderID, entry.ChatID, entry.Reason)
	if _, err := b.transport.SendMessage(ctx, b.cfg.LogChatID, text, nil); err != nil {
		b.logger.Debug("log forward failed", zap.Int64("chat_id", b.cfg.LogChatID), zap.Error(err))
	}
}

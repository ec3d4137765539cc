package compose

import "fmt"

// fallbackTemplate keys static content by (type, motivation_type).
// Used whenever the LLM provider is unavailable.
func fallbackTemplate(req Request, motivation string) Message {
	title, body := templateText(req.Type, motivation)

	if streak, ok := req.Payload["streak_days"]; ok {
		body = fmt.Sprintf("%s Серия: %v дней подряд!", body, streak)
	}

	return Message{
		Title:       title,
		Body:        body,
		ChannelHint: "chat",
	}
}

// warmTone is the "warm" experiment variant: a friendlier opener on top
// of the same template body.
func warmTone(body string) string {
	return "Привет! " + body
}

func templateText(notifType, motivation string) (string, string) {
	switch notifType {
	case "water_reminder":
		if motivation == "data_driven" {
			return "Вода", "До дневной нормы ещё есть запас — стакан воды сейчас поможет закрыть цель."
		}
		return "Вода", "Время выпить стакан воды. Маленький шаг — большое дело!"
	case "exercise_reminder":
		switch motivation {
		case "goal_oriented":
			return "Тренировка", "Запланированная тренировка приближает цель. Начни с 10 минут."
		case "emotional_support":
			return "Тренировка", "Небольшая разминка поднимет настроение. Ты справишься!"
		default:
			return "Тренировка", "Сегодня по плану активность. Даже короткая сессия засчитывается."
		}
	case "meal_reminder":
		return "Питание", "Время записать приём пищи — так прогресс будет виден."
	case "sleep_reminder":
		return "Сон", "Пора готовиться ко сну: 7-9 часов — лучшая инвестиция в завтра."
	case "weekly_report":
		if motivation == "data_driven" {
			return "Недельный отчёт", "Ваша недельная сводка готова: записи, динамика веса и активность внутри."
		}
		return "Итоги недели", "Неделя позади — загляни, сколько всего получилось!"
	case "achievement_unlocked":
		return "Достижение", "Новое достижение разблокировано. Так держать!"
	case "streak_celebration":
		return "Серия", "Отличная серия! Продолжай в том же духе."
	case "goal_progress":
		return "Прогресс", "Ты продвигаешься к цели. Посмотри, что изменилось."
	case "encouragement":
		return "Поддержка", "Давно не виделись! Одна небольшая запись — и ты снова в ритме."
	default:
		return "Напоминание", "Загляни в приложение — есть что отметить."
	}
}

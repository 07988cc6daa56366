package kpata

import "fmt"

// User-facing message catalog. The bot front-ends serve Uzbek and Russian
// audiences; uz is the fallback locale.
var messageCatalog = map[string]map[string]string{
	"uz": {
		"moderation_warning":  "Yuborilgan rasm qoidalarimizga mos kelmaydi. Bu birinchi ogohlantirish.",
		"moderation_cooldown": "Qoidabuzarlik takrorlandi. Hisobingiz %d soatga vaqtincha bloklandi.",
		"moderation_ban":      "Qoidabuzarliklar soni oshib ketdi. Hisobingiz bloklandi.",
		"admission_cooldown":  "Hisobingiz vaqtincha bloklangan. %d soatdan keyin qayta urinib ko'ring.",
		"admission_banned":    "Hisobingiz bloklangan. Administratsiyaga murojaat qiling.",
		"job_completed":       "Rasmlaringiz tayyor!",
		"job_failed_refund":   "Afsuski, rasmni yaratib bo'lmadi. Krediting qaytarildi.",
	},
	"ru": {
		"moderation_warning":  "Отправленное изображение нарушает наши правила. Это первое предупреждение.",
		"moderation_cooldown": "Повторное нарушение. Ваш аккаунт временно заблокирован на %d ч.",
		"moderation_ban":      "Слишком много нарушений. Ваш аккаунт заблокирован.",
		"admission_cooldown":  "Ваш аккаунт временно заблокирован. Попробуйте снова через %d ч.",
		"admission_banned":    "Ваш аккаунт заблокирован. Обратитесь к администрации.",
		"job_completed":       "Ваши изображения готовы!",
		"job_failed_refund":   "К сожалению, не удалось создать изображение. Кредит возвращён.",
	},
}

// localizedMessage resolves a catalog key for the given locale, formatting
// any arguments into the template. Unknown locales fall back to uz.
func localizedMessage(locale, key string, args ...interface{}) string {
	catalog, ok := messageCatalog[locale]
	if !ok {
		catalog = messageCatalog["uz"]
	}
	template, ok := catalog[key]
	if !ok {
		template = messageCatalog["uz"][key]
	}
	if len(args) == 0 {
		return template
	}
	return fmt.Sprintf(template, args...)
}

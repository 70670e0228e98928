// Package filter classifies message text as archivable or filtered.
package filter

import "strings"

// Config toggles the individual filter classes.
type Config struct {
	FilterAds   bool
	FilterPromo bool
}

// DefaultConfig enables every filter class.
func DefaultConfig() Config {
	return Config{FilterAds: true, FilterPromo: true}
}

// ContentFilter drops advertising and edu-promo posts before they reach the
// sinks. The predicate is a flat keyword match over the lowercased text.
type ContentFilter struct {
	cfg Config

	adMarkers      []string
	schoolKeywords []string
	eventKeywords  []string
	promoKeywords  []string
}

// New creates a content filter with the built-in keyword sets.
func New(cfg Config) *ContentFilter {
	return &ContentFilter{
		cfg: cfg,
		adMarkers: []string{
			"erid", "ерид", "реклама", "#реклама", "#ad", "#ads", "advertisement", "sponsored",
			"спонсор", "партнерский материал", "на правах рекламы",
			"промокод", "промо код", "купон", "скидка", "акция", "спецпредложение",
			"только сегодня", "успей купить", "не упусти",
			"#спецпроект", "спецпроект", "#промо",
		},
		schoolKeywords: []string{
			"skillbox", "скиллбокс", "нетология", "netology",
			"geekbrains", "гикбрейнс", "яндекс практикум", "yandex practicum",
			"otus", "отус", "hexlet", "хекслет", "skypro", "skyeng",
			"skillfactory", "skill factory", "productstar", "contented",
			"tetrika", "skysmart", "stepik", "coursera", "udemy",
			"умскул", "foxford", "фоксфорд", "elbrus bootcamp", "эльбрус буткемп",
		},
		eventKeywords: []string{
			"митап", "meetup", "конференция", "вебинар",
			"воркшоп", "мастер-класс", "мастер класс", "семинар", "хакатон",
			"день открытых дверей", "открытый урок", "демо-день",
			"регистрация", "зарегистрируйся", "записаться", "приглашаем",
		},
		promoKeywords: []string{
			"курс", "курсы", "обучение", "профессия", "интенсив", "марафон",
			"набор", "старт потока", "старт курса", "стань разработчиком",
			"гарантия трудоустройства", "трудоустройство", "ментор",
		},
	}
}

// Classify reports whether the text should be excluded from the archive,
// with a human-readable reason.
func (f *ContentFilter) Classify(text string) (bool, string) {
	if text == "" {
		return false, ""
	}

	lower := strings.ToLower(text)

	if f.cfg.FilterAds {
		for _, marker := range f.adMarkers {
			if strings.Contains(lower, marker) {
				return true, "advertisement"
			}
		}
	}

	if f.cfg.FilterPromo {
		school := containsAny(lower, f.schoolKeywords)
		event := containsAny(lower, f.eventKeywords)
		promo := containsAny(lower, f.promoKeywords)

		// a school mention alone is fine; filter only promo-shaped posts
		if school && (event || promo) {
			return true, "edu promo"
		}
	}

	return false, ""
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

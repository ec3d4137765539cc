package detect

// Keyword lists per event kind. Users write in whatever language they
// chat in, so the lists mix Chinese, Russian and English terms.
var keywordSets = map[string][]string{
	KindIllness: {
		"感冒", "发烧", "不舒服", "生病", "头疼", "咳嗽", "嗓子疼",
		"заболел", "заболела", "простыл", "простыла", "температура", "болит голова", "плохо себя чувствую",
		"sick", "fever", "flu", "caught a cold", "not feeling well", "sore throat",
	},
	KindTravel: {
		"出差", "旅行", "旅游", "机场", "航班", "出发去",
		"командировка", "уезжаю", "улетаю", "в поездке", "аэропорт",
		"travel", "business trip", "flight to", "flying to", "on the road", "vacation",
	},
	KindSocialEngagement: {
		"聚餐", "聚会", "应酬", "饭局", "婚礼", "请客",
		"банкет", "застолье", "день рождения", "свадьба", "корпоратив", "гости",
		"dinner party", "banquet", "wedding", "birthday party", "eating out with",
	},
	KindHighStress: {
		"加班", "压力大", "焦虑", "忙死了", "赶项目", "deadline",
		"аврал", "дедлайн", "переработк", "стресс", "не успеваю", "завал на работе",
		"overtime", "stressed", "under pressure", "crunch", "overwhelmed",
	},
}

package achievements

// Predicate kinds. Each achievement carries exactly one tagged predicate;
// the evaluator switches on Kind.
const (
	PredStreak             = "streak"
	PredTotalRecords       = "total_records"
	PredTotalOfKind        = "total_of_kind"
	PredFirstRecord        = "first_record"
	PredGoalReached        = "goal_reached"
	PredWaterStreak        = "water_streak"
	PredCalorieStreak      = "calorie_streak"
	PredSleepStreak        = "sleep_streak"
	PredEarlyMorningStreak = "early_morning_streak"
	PredPerfectWeek        = "perfect_week"
	PredSocialShares       = "social_shares"
)

// Predicate — условие разблокировки достижения.
type Predicate struct {
	Kind       string
	Days       int    // streak-style predicates
	Count      int    // total-style predicates
	RecordKind string // total_of_kind
}

// Achievement — элемент статического каталога.
type Achievement struct {
	ID        string
	Name      string
	Category  string
	Icon      string
	Points    int
	Rarity    string // common | rare | epic | legendary
	Reason    string // ledger reason for the reward
	Predicate Predicate
}

// Catalog is fixed at build time. IDs never change: they live in user
// achievement sets forever.
var Catalog = []Achievement{
	{
		ID: "first_step", Name: "Первый шаг", Category: "start", Icon: "👣",
		Points: 10, Rarity: "common", Reason: "first_record",
		Predicate: Predicate{Kind: PredFirstRecord},
	},
	{
		ID: "streak_7", Name: "Неделя подряд", Category: "streak", Icon: "🔥",
		Points: 50, Rarity: "common", Reason: "streak_7_bonus",
		Predicate: Predicate{Kind: PredStreak, Days: 7},
	},
	{
		ID: "streak_30", Name: "Месяц дисциплины", Category: "streak", Icon: "🔥",
		Points: 200, Rarity: "rare", Reason: "streak_30_bonus",
		Predicate: Predicate{Kind: PredStreak, Days: 30},
	},
	{
		ID: "streak_100", Name: "Сто дней", Category: "streak", Icon: "💯",
		Points: 1000, Rarity: "legendary", Reason: "streak_100_bonus",
		Predicate: Predicate{Kind: PredStreak, Days: 100},
	},
	{
		ID: "records_100", Name: "Сто записей", Category: "volume", Icon: "📚",
		Points: 100, Rarity: "rare", Reason: "records_100_reward",
		Predicate: Predicate{Kind: PredTotalRecords, Count: 100},
	},
	{
		ID: "weigh_30", Name: "30 взвешиваний", Category: "volume", Icon: "⚖️",
		Points: 60, Rarity: "common", Reason: "weigh_30_reward",
		Predicate: Predicate{Kind: PredTotalOfKind, Count: 30, RecordKind: "weight"},
	},
	{
		ID: "water_streak_7", Name: "Водный баланс", Category: "habit", Icon: "💧",
		Points: 40, Rarity: "common", Reason: "water_streak_7_bonus",
		Predicate: Predicate{Kind: PredWaterStreak, Days: 7},
	},
	{
		ID: "calorie_streak_7", Name: "В пределах нормы", Category: "habit", Icon: "🥗",
		Points: 60, Rarity: "rare", Reason: "calorie_streak_7_bonus",
		Predicate: Predicate{Kind: PredCalorieStreak, Days: 7},
	},
	{
		ID: "sleep_streak_7", Name: "Здоровый сон", Category: "habit", Icon: "😴",
		Points: 60, Rarity: "rare", Reason: "sleep_streak_7_bonus",
		Predicate: Predicate{Kind: PredSleepStreak, Days: 7},
	},
	{
		ID: "early_bird_7", Name: "Ранняя пташка", Category: "habit", Icon: "🌅",
		Points: 40, Rarity: "rare", Reason: "early_bird_7_bonus",
		Predicate: Predicate{Kind: PredEarlyMorningStreak, Days: 7},
	},
	{
		ID: "perfect_week", Name: "Идеальная неделя", Category: "habit", Icon: "🏆",
		Points: 150, Rarity: "epic", Reason: "perfect_week_reward",
		Predicate: Predicate{Kind: PredPerfectWeek},
	},
	{
		ID: "goal_reached", Name: "Цель достигнута", Category: "goal", Icon: "🎯",
		Points: 300, Rarity: "epic", Reason: "goal_reached_reward",
		Predicate: Predicate{Kind: PredGoalReached},
	},
	{
		ID: "social_10", Name: "Делишься успехом", Category: "social", Icon: "📣",
		Points: 30, Rarity: "common", Reason: "social_10_reward",
		Predicate: Predicate{Kind: PredSocialShares, Count: 10},
	},
}

// RecordPoints — базовые баллы за запись по виду (раз в день на вид).
var RecordPoints = map[string]int{
	"weight":   10,
	"meal":     5,
	"exercise": 10,
	"water":    2,
	"sleep":    5,
}

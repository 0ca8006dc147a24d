package buttons

const (
	//user menu
	BuySpins     = "🎰 Купить спины"
	Balance      = "💰 Баланс"
	History      = "📃 История"
	InviteFriend = "🧑‍💼 Пригласить друга"
)

package buttons

const (
	// buy flow, suffixed with ":<packageId>" and ":<packageId>:<rail>"
	SelectPackageId = "SELECT_PACKAGE"
	PayRailId       = "PAY_RAIL"
	PayStars        = "⭐ Оплатить Stars"
	PayTon          = "💎 Оплатить TON"
	OpenTonLink     = "Открыть кошелек"

	// checkout status, suffixed with ":<intentId>"
	CheckPaymentId = "CHECK_PAYMENT"
	CheckPayment   = "🔁 Проверить оплату"

	// history pages, suffixed with ":<page>"
	NextPageHistory = "NEXT_PAGE_HISTORY"
	BackPageHistory = "BACK_PAGE_HISTORY"

	//default button
	DefCloseId   = "DEF_CLOSE_ID"
	DefCloseText = "Закрыть ❌"
)

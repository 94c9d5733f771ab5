package models

// All lists every persisted model, in dependency order, for sqlite auto-migration.
func All() []any {
	return []any{
		&Account{},
		&CreditGrant{},
		&CreditTransaction{},
		&ProcessedEvent{},
		&RetentionHistory{},
		&SubscriptionTransition{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

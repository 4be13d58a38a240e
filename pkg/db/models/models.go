package models

// All lists every persisted record, in dependency order, for schema bootstrapping
// on SQLite where the Postgres goose migrations do not apply.
func All() []any {
	return []any{
		&Part{},
		&BomTemplate{},
		&BomRequest{},
		&RequestItem{},
		&InventoryTransaction{},
		&OutboxEvent{},
		&OutboxDLQ{},
		&Notification{},
	}
}

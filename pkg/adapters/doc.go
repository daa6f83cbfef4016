/*
Package adapters описывает подключение к SQL Server и интерфейсы чтения
восстановленной из бэкапа БД.

# Уровни

	┌─────────────────────────────────────────┐
	│  pkg/pipeline, pkg/export               │
	│  - работают только с adapters.Source    │
	└─────────────────┬───────────────────────┘
	                  │
	┌─────────────────▼───────────────────────┐
	│  pkg/adapters (этот пакет)              │
	│  - Config, SSLConfig                    │
	│  - SchemaReader, RowReader, Source      │
	└─────────────────┬───────────────────────┘
	                  │
	        ┌─────────┴─────────┐
	┌───────▼────┐        ┌─────▼──────┐
	│ mssql      │        │ sqlite     │
	│ источник:  │        │ приемник:  │
	│ wait,      │        │ :memory:,  │
	│ restore,   │        │ serialize  │
	│ introspect │        │            │
	└────────────┘        └────────────┘

Экранирование идентификаторов для обоих диалектов находится в пакете base.
*/
package adapters

package pipeline

import (
	"context"
	"fmt"

	"github.com/joseanu/mssql-converter/pkg/adapters"
	"github.com/joseanu/mssql-converter/pkg/adapters/mssql"
)

// MSSQLConnector открывает для каждого запроса собственный пул SQL Server
// (через mssql.Waiter) и закрепляет в нем сессию
type MSSQLConnector struct {
	waiter  *mssql.Waiter
	restore mssql.RestoreConfig
}

// NewMSSQLConnector создает connector
func NewMSSQLConnector(cfg adapters.Config, wait mssql.WaitConfig, restore mssql.RestoreConfig, opts ...mssql.WaiterOption) *MSSQLConnector {
	return &MSSQLConnector{
		waiter:  mssql.NewWaiter(cfg, wait, opts...),
		restore: restore,
	}
}

// Connect ждет сервер и открывает сессию. Пул принадлежит сессии.
func (c *MSSQLConnector) Connect(ctx context.Context) (Session, error) {
	db, err := c.waiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	session, err := mssql.NewSession(ctx, db, c.restore)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

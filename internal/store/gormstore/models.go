package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const sqliteDialectName = "sqlite"

// Amount is a money column. Postgres keeps numeric(20,8); sqlite gets text
// because its numeric affinity stores REAL and keeps only 15 significant digits.
type Amount struct {
	decimal.Decimal
}

func newAmount(value decimal.Decimal) Amount {
	return Amount{Decimal: value}
}

// GormDBDataType picks the column type per dialect.
func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == sqliteDialectName {
		return "text"
	}
	return "numeric(20,8)"
}

// MCP represents the mcps table; the wallet balance lives on the row.
type MCP struct {
	ID        uint64    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Balance   Amount    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

func (MCP) TableName() string { return "mcps" }

// Partner represents the partners table.
type Partner struct {
	ID        uint64    `gorm:"primaryKey"`
	MCPID     uint64    `gorm:"column:mcp_id;not null;index:idx_partners_mcp"`
	Name      string    `gorm:"not null"`
	Phone     string    `gorm:"not null;default:''"`
	Active    bool      `gorm:"not null;default:true"`
	Balance   Amount    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Partner) TableName() string { return "partners" }

// Order represents the orders table.
type Order struct {
	ID          uint64    `gorm:"primaryKey"`
	MCPID       uint64    `gorm:"column:mcp_id;not null;index:idx_orders_mcp_status,priority:1"`
	PartnerID   *uint64   `gorm:"index"`
	Amount      Amount    `gorm:"not null"`
	Description string    `gorm:"not null;default:''"`
	Status      string    `gorm:"not null;index:idx_orders_mcp_status,priority:2"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Transaction mirrors the transactions table. Rows are never updated.
type Transaction struct {
	ID          uint64         `gorm:"primaryKey"`
	MCPID       uint64         `gorm:"column:mcp_id;not null;index:idx_transactions_mcp_created,priority:1"`
	Kind        string         `gorm:"not null;index"`
	Amount      Amount         `gorm:"not null"`
	Description string         `gorm:"not null;default:''"`
	SourceKind  *string        `gorm:""`
	SourceID    *uint64        `gorm:""`
	TargetKind  *string        `gorm:""`
	TargetID    *uint64        `gorm:""`
	OrderID     *uint64        `gorm:"index"`
	Status      string         `gorm:"not null"`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_transactions_mcp_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

// Notification mirrors the notifications table.
type Notification struct {
	ID        uint64    `gorm:"primaryKey"`
	MCPID     uint64    `gorm:"column:mcp_id;not null;index:idx_notifications_mcp_read,priority:1"`
	Kind      string    `gorm:"not null"`
	Message   string    `gorm:"not null"`
	Read      bool      `gorm:"column:is_read;not null;default:false;index:idx_notifications_mcp_read,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

// Models lists every table the store owns, in migration order.
func Models() []interface{} {
	return []interface{}{&MCP{}, &Partner{}, &Order{}, &Transaction{}, &Notification{}}
}

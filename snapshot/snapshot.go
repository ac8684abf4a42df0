// Package snapshot stores point-in-time copies of exchange positions in MySQL.
package snapshot

import (
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
	"go.uber.org/zap"
)

type Position struct {
	ID               uint      `gorm:"primary_key"`
	Label            string    `gorm:"Column:label;index"`
	Account          int64     `gorm:"Column:account"`
	Symbol           string    `gorm:"Column:symbol"`
	Currency         string    `gorm:"Column:currency"`
	CurrentQty       int64     `gorm:"Column:current_qty"`
	AvgEntryPrice    float64   `gorm:"Column:avg_entry_price"`
	MarkPrice        float64   `gorm:"Column:mark_price"`
	LiquidationPrice float64   `gorm:"Column:liquidation_price"`
	UnrealisedPnl    int64     `gorm:"Column:unrealised_pnl"`
	RealisedPnl      int64     `gorm:"Column:realised_pnl"`
	IsOpen           bool      `gorm:"Column:is_open"`
	Time             time.Time `gorm:"Column:time;index"`
}

func (Position) TableName() string {
	return "bitmex_position_snapshots"
}

// FromBitmex converts positions taken at now, one row each.
func FromBitmex(label string, positions []bitmex.Position, now time.Time) []Position {
	rows := make([]Position, 0, len(positions))
	for _, p := range positions {
		row := Position{
			Label:         label,
			Account:       p.Account,
			Symbol:        p.Symbol,
			Currency:      p.Currency,
			CurrentQty:    p.CurrentQty,
			UnrealisedPnl: p.UnrealisedPnl,
			RealisedPnl:   p.RealisedPnl,
			IsOpen:        p.IsOpen,
			Time:          now,
		}
		row.AvgEntryPrice, _ = p.AvgEntryPrice.Float64()
		row.MarkPrice, _ = p.MarkPrice.Float64()
		row.LiquidationPrice, _ = p.LiquidationPrice.Float64()
		rows = append(rows, row)
	}
	return rows
}

// Open connects with the given gorm dialect, "mysql" in production.
func Open(dialect, uri string) (*gorm.DB, error) {
	db, err := gorm.Open(dialect, uri)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect)
	}
	return db, nil
}

type Store struct {
	Sugar *zap.SugaredLogger
	db    *gorm.DB
}

func NewStore(db *gorm.DB, sugar *zap.SugaredLogger) *Store {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Store{Sugar: sugar, db: db}
}

// Save writes rows in one transaction, creating the table on first use.
func (s *Store) Save(rows []Position) error {
	if !s.db.HasTable(&Position{}) {
		if err := s.db.CreateTable(&Position{}).Error; err != nil {
			return errors.Wrap(err, "create snapshot table")
		}
		s.Sugar.Infow("snapshot table created", "table", Position{}.TableName())
	}
	tx := s.db.Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "begin")
	}
	for i := range rows {
		if err := tx.Create(&rows[i]).Error; err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert %s", rows[i].Symbol)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "commit")
	}
	s.Sugar.Infow("positions saved", "count", len(rows))
	return nil
}

// Latest returns the most recent snapshot of label, one row per symbol.
func (s *Store) Latest(label string) ([]Position, error) {
	if !s.db.HasTable(&Position{}) {
		return nil, nil
	}
	var last Position
	if err := s.db.Where("label = ?", label).Order("time desc").First(&last).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "latest snapshot")
	}
	var rows []Position
	if err := s.db.Where("label = ? AND time = ?", label, last.Time).Order("symbol").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	return rows, nil
}

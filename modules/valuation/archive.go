package valuation

import (
	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/pkg/parquetutils"
	"github.com/samber/lo"
)

// archiveRow is one snapshot in the parquet archive. Decimals are kept as
// strings so no precision is lost.
type archiveRow struct {
	Timestamp          int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Workers            int32  `parquet:"name=total_workers, type=INT32"`
	Websites           int32  `parquet:"name=total_websites, type=INT32"`
	ChainHeight        int64  `parquet:"name=total_transactions, type=INT64"`
	StakedBalance      string `parquet:"name=total_staked_sok, type=BYTE_ARRAY, convertedtype=UTF8"`
	OpenEscrowTotal    string `parquet:"name=total_p2p_escrow_sok, type=BYTE_ARRAY, convertedtype=UTF8"`
	FloorPriceUSD      string `parquet:"name=floor_price_usd, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketPriceUSD     string `parquet:"name=market_price_usd, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActivityMultiplier string `parquet:"name=activity_multiplier, type=BYTE_ARRAY, convertedtype=UTF8"`
	TreasuryValueUSD   string `parquet:"name=treasury_value_usd, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EncodeArchive renders history as a parquet file.
func EncodeArchive(history []entity.EconSnapshot) ([]byte, error) {
	rows := lo.Map(history, func(s entity.EconSnapshot, _ int) archiveRow {
		return archiveRow{
			Timestamp:          s.Timestamp.UnixMilli(),
			Workers:            int32(s.WorkerCount),
			Websites:           int32(s.WebsiteCount),
			ChainHeight:        s.ChainHeight,
			StakedBalance:      s.StakedBalance.String(),
			OpenEscrowTotal:    s.OpenEscrowTotal.String(),
			FloorPriceUSD:      s.FloorPriceUSD.String(),
			MarketPriceUSD:     s.MarketPriceUSD.String(),
			ActivityMultiplier: s.ActivityMultiplier.String(),
			TreasuryValueUSD:   s.TreasuryValueUSD.String(),
		}
	})
	data, err := parquetutils.WriteAll(rows)
	if err != nil {
		return nil, errors.Wrap(err, "encode econ archive")
	}
	return data, nil
}

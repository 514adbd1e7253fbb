// Package document builds and validates compliance report XML documents.
package document

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/models"
	"github.com/feedworks/crypto-reports/internal/normalize"
)

// Logical field names resolved through the caller-supplied mapping.
const (
	fieldTicker     = "ticker"
	fieldCategory   = "categoria"
	fieldPrice      = "preco_atual_usd"
	fieldVolume     = "total_volume_24h_usd"
	fieldChangePct  = "variacao_24h_pct"
	fieldChangeUSD  = "variacao_24h_usd"
	fieldName       = "nome"
	fieldRank       = "rank"
	fieldMarketCap  = "market_cap_usd"
	fieldSupply     = "circulating_supply"
	fieldObservedAt = "data_observacao_utc"
)

const defaultAssetType = "Cryptocurrency"

type Builder struct {
	log *zap.Logger
	now func() time.Time
}

func NewBuilder(log *zap.Logger) *Builder {
	return &Builder{log: log, now: time.Now}
}

// Build maps normalized records into the fixed report shape. Every record
// yields exactly one Asset, no matter how many of its fields are missing
// or malformed.
func (b *Builder) Build(records []models.Record, mapping models.FieldMapping, requestID string) (string, error) {
	if len(records) == 0 {
		return "", &models.InputError{Reason: "no records to build document from"}
	}
	if len(mapping) == 0 {
		return "", &models.InputError{Reason: "field mapping is empty"}
	}

	today := b.now().UTC().Format("2006-01-02")

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ComplianceReport")
	root.CreateAttr("GeneratedAt", today)
	root.CreateAttr("Version", "1.0")

	config := root.CreateElement("Configuration")
	config.CreateAttr("ValidatedBy", "XMLService_"+shortID(requestID))
	config.CreateAttr("RequestedBy", "Processor_"+shortID(requestID))

	regulator := config.CreateElement("Regulator")
	regulator.CreateAttr("Name", "SEC")
	regulator.CreateAttr("LastUpdated", today)

	assets := root.CreateElement("Assets")

	for idx, record := range records {
		field := func(logical string) string {
			key, ok := mapping[logical]
			if !ok || key == "" {
				key = logical
			}
			return record[key]
		}

		asset := assets.CreateElement("Asset")
		asset.CreateAttr("InternalID", internalID(idx))
		asset.CreateAttr("Ticker", normalize.Text(field(fieldTicker), ""))
		asset.CreateAttr("Type", normalize.Text(field(fieldCategory), defaultAssetType))

		detail := asset.CreateElement("TradeDetail")

		price := detail.CreateElement("CurrentPrice")
		price.CreateAttr("Source", "CSV")
		price.CreateAttr("Currency", "USD")
		price.SetText(normalize.Decimal(field(fieldPrice), "0"))

		traded := normalize.Decimal(field(fieldVolume), "0")
		volume := detail.CreateElement("Volume")
		volume.CreateAttr("Traded", traded)
		volume.CreateAttr("Unit", "USD")
		volume.SetText(traded)

		// Attribute-only element, no text content.
		change := detail.CreateElement("Change24h")
		change.CreateAttr("Pct", normalize.Decimal(field(fieldChangePct), "0"))
		change.CreateAttr("USD", normalize.Decimal(field(fieldChangeUSD), "0"))

		history := asset.CreateElement("History")

		name := normalize.Text(field(fieldName), "")
		if name == "" {
			name = normalize.Text(field(fieldTicker), "")
		}
		history.CreateElement("Name").SetText(name)
		history.CreateElement("Rank").SetText(normalize.Integer(field(fieldRank), "0"))

		marketCap := history.CreateElement("MarketCap")
		marketCap.CreateAttr("Currency", "USD")
		marketCap.SetText(normalize.Decimal(field(fieldMarketCap), "0"))

		history.CreateElement("Supply").SetText(normalize.Decimal(field(fieldSupply), "0"))
		history.CreateElement("ObservedAt").SetText(normalize.Text(field(fieldObservedAt), ""))
	}

	doc.Indent(2)
	xml, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize document: %w", err)
	}

	b.log.Info("document built",
		zap.String("request_id", requestID),
		zap.Int("assets", len(records)))
	return xml, nil
}

// internalID derives a deterministic per-row id from the row position
// alone: a cycling letter plus a zero-padded 1-based ordinal, e.g.
// CSV_A001, CSV_B002.
func internalID(idx int) string {
	return fmt.Sprintf("CSV_%c%03d", 'A'+rune(idx%26), idx+1)
}

func shortID(requestID string) string {
	if len(requestID) > 8 {
		return requestID[:8]
	}
	return requestID
}

// MapperVersion encodes the mapping cardinality as the stored version
// string.
func MapperVersion(mapping models.FieldMapping) string {
	return fmt.Sprintf("v1.0-%dfields", len(mapping))
}

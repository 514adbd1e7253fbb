// Package analytics derives read-side views from the latest valid
// document. The views traverse the parsed document per Asset node rather
// than going through the path-query engine, because they correlate several
// sibling fields of each asset — something a flat match list cannot
// express.
package analytics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/feedworks/crypto-reports/internal/database"
	"github.com/feedworks/crypto-reports/internal/models"
)

const assetPath = "/ComplianceReport/Assets/Asset"

const defaultAssetType = "Cryptocurrency"

// Directions accepted by Movers.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Views is the analytics contract exposed to the transport adapters.
type Views interface {
	TopByMarketCap(limit int, typeFilter string) ([]models.TopAssetResult, error)
	GroupedStats() ([]models.GroupStatResult, error)
	Movers(limit int, direction string) ([]models.MoverResult, error)
	ListAssets() ([]models.AssetDetail, error)
}

type Service struct {
	db  database.DBManager
	log *zap.Logger
}

func NewService(db database.DBManager, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// latestAssets parses the latest OK document and returns its Asset nodes
// plus the stored metadata. A store without any valid document yields nil
// nodes and no error.
func (s *Service) latestAssets() ([]*xmlquery.Node, *models.StoredDocument, error) {
	latest, err := s.db.GetLatestOK()
	if err != nil {
		return nil, nil, &models.QueryError{Err: err}
	}
	if latest == nil {
		return nil, nil, nil
	}

	doc, err := xmlquery.Parse(strings.NewReader(latest.XMLContent))
	if err != nil {
		return nil, nil, &models.QueryError{Err: fmt.Errorf("stored document is not parsable: %w", err)}
	}
	return xmlquery.Find(doc, assetPath), latest, nil
}

// TopByMarketCap ranks assets of the latest valid document by market cap
// descending. Assets without a ticker or without a parsable market cap are
// skipped; ties keep document order.
func (s *Service) TopByMarketCap(limit int, typeFilter string) ([]models.TopAssetResult, error) {
	nodes, _, err := s.latestAssets()
	if err != nil {
		return nil, err
	}

	results := make([]models.TopAssetResult, 0, len(nodes))
	for _, node := range nodes {
		ticker := strings.TrimSpace(node.SelectAttr("Ticker"))
		if ticker == "" {
			continue
		}
		assetType := typeOf(node)
		if typeFilter != "" && assetType != typeFilter {
			continue
		}

		capText := elementText(node, "History/MarketCap")
		if capText == "" {
			continue
		}
		marketCap, err := strconv.ParseFloat(capText, 64)
		if err != nil {
			continue
		}

		results = append(results, models.TopAssetResult{
			Ticker:    ticker,
			Name:      elementText(node, "History/Name"),
			Type:      assetType,
			MarketCap: marketCap,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].MarketCap > results[j].MarketCap
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GroupedStats aggregates assets of the latest valid document by type:
// count, mean price, total traded volume and mean 24h percent change.
// A group metric without any parsable contributor reports 0.0.
func (s *Service) GroupedStats() ([]models.GroupStatResult, error) {
	nodes, _, err := s.latestAssets()
	if err != nil {
		return nil, err
	}

	type groupAccum struct {
		count     int
		prices    []float64
		volumes   []float64
		changePct []float64
	}

	groups := make(map[string]*groupAccum)
	var order []string

	for _, node := range nodes {
		assetType := typeOf(node)
		acc, ok := groups[assetType]
		if !ok {
			acc = &groupAccum{}
			groups[assetType] = acc
			order = append(order, assetType)
		}
		acc.count++

		if v, err := strconv.ParseFloat(elementText(node, "TradeDetail/CurrentPrice"), 64); err == nil {
			acc.prices = append(acc.prices, v)
		}
		if traded, ok := relativeAttr(node, "TradeDetail/Volume", "Traded"); ok {
			if v, err := strconv.ParseFloat(traded, 64); err == nil {
				acc.volumes = append(acc.volumes, v)
			}
		}
		if pct, ok := relativeAttr(node, "TradeDetail/Change24h", "Pct"); ok {
			if v, err := strconv.ParseFloat(pct, 64); err == nil {
				acc.changePct = append(acc.changePct, v)
			}
		}
	}

	results := make([]models.GroupStatResult, 0, len(groups))
	for _, assetType := range order {
		acc := groups[assetType]
		results = append(results, models.GroupStatResult{
			Type:         assetType,
			TotalAssets:  acc.count,
			AvgPrice:     mean(acc.prices),
			TotalVolume:  sum(acc.volumes),
			AvgChangePct: mean(acc.changePct),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalAssets > results[j].TotalAssets
	})
	return results, nil
}

// Movers ranks assets by 24h percent change: gainers for DirectionUp,
// losers for DirectionDown. Only assets exposing a parsable percent change
// participate; an unparsable price degrades to 0.0 but keeps the asset.
func (s *Service) Movers(limit int, direction string) ([]models.MoverResult, error) {
	if direction != DirectionUp && direction != DirectionDown {
		direction = DirectionUp
	}

	nodes, _, err := s.latestAssets()
	if err != nil {
		return nil, err
	}

	results := make([]models.MoverResult, 0, len(nodes))
	for _, node := range nodes {
		ticker := strings.TrimSpace(node.SelectAttr("Ticker"))
		if ticker == "" {
			continue
		}

		pctText, ok := relativeAttr(node, "TradeDetail/Change24h", "Pct")
		if !ok {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(pctText), 64)
		if err != nil {
			continue
		}

		price, err := strconv.ParseFloat(elementText(node, "TradeDetail/CurrentPrice"), 64)
		if err != nil {
			price = 0.0
		}

		results = append(results, models.MoverResult{
			Ticker:       ticker,
			Name:         elementText(node, "History/Name"),
			CurrentPrice: price,
			ChangePct:    pct,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if direction == DirectionUp {
			return results[i].ChangePct > results[j].ChangePct
		}
		return results[i].ChangePct < results[j].ChangePct
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListAssets expands every asset of the latest valid document, excluding
// assets without a usable ticker.
func (s *Service) ListAssets() ([]models.AssetDetail, error) {
	nodes, latest, err := s.latestAssets()
	if err != nil {
		return nil, err
	}

	var results []models.AssetDetail
	for _, node := range nodes {
		ticker := strings.TrimSpace(node.SelectAttr("Ticker"))
		if ticker == "" {
			continue
		}

		changePct, _ := relativeAttr(node, "TradeDetail/Change24h", "Pct")
		changeUSD, _ := relativeAttr(node, "TradeDetail/Change24h", "USD")
		volume, _ := relativeAttr(node, "TradeDetail/Volume", "Traded")

		results = append(results, models.AssetDetail{
			Ticker:       ticker,
			Type:         typeOf(node),
			CurrentPrice: textOr(node, "TradeDetail/CurrentPrice", "0"),
			Volume:       defaultIfEmpty(volume, "0"),
			ChangePct:    defaultIfEmpty(changePct, "0"),
			ChangeUSD:    defaultIfEmpty(changeUSD, "0"),
			Name:         elementText(node, "History/Name"),
			Rank:         textOr(node, "History/Rank", "0"),
			MarketCap:    textOr(node, "History/MarketCap", "0"),
			Supply:       textOr(node, "History/Supply", "0"),
			ObservedAt:   elementText(node, "History/ObservedAt"),
			RequestID:    latest.RequestID,
			CreatedAt:    latest.CreatedAt.Format(time.RFC3339),
		})
	}
	return results, nil
}

func typeOf(node *xmlquery.Node) string {
	assetType := strings.TrimSpace(node.SelectAttr("Type"))
	if assetType == "" {
		return defaultAssetType
	}
	return assetType
}

func elementText(node *xmlquery.Node, path string) string {
	child := xmlquery.FindOne(node, path)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func textOr(node *xmlquery.Node, path, def string) string {
	if text := elementText(node, path); text != "" {
		return text
	}
	return def
}

// relativeAttr reports the attribute value and whether the attribute is
// actually present, so an absent Change24h can be told apart from an empty
// one.
func relativeAttr(node *xmlquery.Node, path, attr string) (string, bool) {
	child := xmlquery.FindOne(node, path)
	if child == nil {
		return "", false
	}
	for _, a := range child.Attr {
		if a.Name.Local == attr {
			return a.Value, true
		}
	}
	return "", false
}

func defaultIfEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	return sum(values) / float64(len(values))
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

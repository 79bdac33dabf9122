// Package demo generates a deterministic sample ecommerce dataset: daily ad
// metrics, daily total sales and ad eligibility checks per item.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type AdSalesRow struct {
	Date        string  `parquet:"date"`
	ItemID      int64   `parquet:"item_id"`
	AdSales     float64 `parquet:"ad_sales"`
	Impressions int64   `parquet:"impressions"`
	AdSpend     float64 `parquet:"ad_spend"`
	Clicks      int64   `parquet:"clicks"`
	UnitsSold   int64   `parquet:"units_sold"`
}

type TotalSalesRow struct {
	Date              string  `parquet:"date"`
	ItemID            int64   `parquet:"item_id"`
	TotalSales        float64 `parquet:"total_sales"`
	TotalUnitsOrdered int64   `parquet:"total_units_ordered"`
}

type EligibilityRow struct {
	EligibilityDatetimeUTC string `parquet:"eligibility_datetime_utc"`
	ItemID                 int64  `parquet:"item_id"`
	Eligibility            bool   `parquet:"eligibility"`
	Message                string `parquet:"message"`
}

type Data struct {
	AdSales     []AdSalesRow
	TotalSales  []TotalSalesRow
	Eligibility []EligibilityRow
}

type Generator struct {
	rnd   *rand.Rand
	items int
	start time.Time
}

func NewGenerator(seed int64, items int, start time.Time) *Generator {
	if items <= 0 {
		items = 1
	}
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		items: items,
		start: start.UTC().Truncate(24 * time.Hour),
	}
}

// Generate returns days of metrics for every item plus one eligibility
// check per item on the first day.
func (g *Generator) Generate(days int) Data {
	var data Data
	prices := make([]float64, g.items)
	for i := range prices {
		prices[i] = round2(5 + g.rnd.Float64()*95)
	}

	for i := 0; i < g.items; i++ {
		eligible := g.rnd.Intn(100) < 80
		message := "Item is eligible for advertising"
		if !eligible {
			message = pickOne(g.rnd, []string{
				"Item is out of stock",
				"Listing is missing required images",
				"Item price exceeds category limit",
			})
		}
		data.Eligibility = append(data.Eligibility, EligibilityRow{
			EligibilityDatetimeUTC: g.start.Add(time.Duration(g.rnd.Intn(86400)) * time.Second).Format("2006-01-02 15:04:05"),
			ItemID:                 int64(i + 1),
			Eligibility:            eligible,
			Message:                message,
		})
	}

	for day := 0; day < days; day++ {
		date := g.start.AddDate(0, 0, day).Format("2006-01-02")
		for i := 0; i < g.items; i++ {
			itemID := int64(i + 1)
			impressions := int64(100 + g.rnd.Intn(4900))
			clicks := int64(math.Round(float64(impressions) * (0.005 + g.rnd.Float64()*0.045)))
			adSpend := 0.0
			if clicks > 0 {
				adSpend = round2(float64(clicks) * (0.2 + g.rnd.Float64()*1.8))
			}
			unitsSold := int64(math.Round(adSpend * (0.5 + g.rnd.Float64()*5.5) / prices[i]))
			adSales := round2(float64(unitsSold) * prices[i])
			organicUnits := int64(g.rnd.Intn(20))

			data.AdSales = append(data.AdSales, AdSalesRow{
				Date:        date,
				ItemID:      itemID,
				AdSales:     adSales,
				Impressions: impressions,
				AdSpend:     adSpend,
				Clicks:      clicks,
				UnitsSold:   unitsSold,
			})
			data.TotalSales = append(data.TotalSales, TotalSalesRow{
				Date:              date,
				ItemID:            itemID,
				TotalSales:        round2(adSales + float64(organicUnits)*prices[i]),
				TotalUnitsOrdered: unitsSold + organicUnits,
			})
		}
	}
	return data
}

func (r AdSalesRow) record() []string {
	return []string{r.Date, itoa(r.ItemID), ftoa(r.AdSales), itoa(r.Impressions), ftoa(r.AdSpend), itoa(r.Clicks), itoa(r.UnitsSold)}
}

func (r TotalSalesRow) record() []string {
	return []string{r.Date, itoa(r.ItemID), ftoa(r.TotalSales), itoa(r.TotalUnitsOrdered)}
}

func (r EligibilityRow) record() []string {
	eligibility := "FALSE"
	if r.Eligibility {
		eligibility = "TRUE"
	}
	return []string{r.EligibilityDatetimeUTC, itoa(r.ItemID), eligibility, r.Message}
}

func itoa(v int64) string {
	return fmt.Sprintf("%d", v)
}

func ftoa(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

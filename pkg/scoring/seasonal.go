package scoring

import (
	"time"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

// seasonalCalendar holds the per-month seasonal weight, January first.
var seasonalCalendar = map[models.Category][12]float64{
	models.CategorySpirits: {55, 50, 45, 45, 50, 50, 50, 50, 55, 65, 80, 90},
	models.CategoryWine:    {55, 65, 50, 50, 55, 55, 50, 50, 55, 60, 80, 85},
	models.CategoryRTD:     {25, 30, 40, 55, 75, 90, 95, 90, 65, 45, 30, 30},
	models.CategoryBeer:    {40, 45, 55, 60, 75, 85, 90, 85, 70, 65, 55, 50},
}

// SeasonalScore is the calendar weight for a category in the month of asOf (UTC).
// Unknown categories score a neutral 50.
func SeasonalScore(category models.Category, asOf time.Time) float64 {
	row, ok := seasonalCalendar[category]
	if !ok {
		return 50
	}
	return row[asOf.UTC().Month()-1]
}

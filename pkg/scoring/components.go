package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

// Components are the six sub-scores of a trend score, each in [0,100].
type Components struct {
	Media    float64 `json:"media"`
	Social   float64 `json:"social"`
	Retailer float64 `json:"retailer"`
	Price    float64 `json:"price"`
	Search   float64 `json:"search"`
	Seasonal float64 `json:"seasonal"`
}

// Composite is the weighted sum of the components, clamped to [0,100] and rounded
// to two decimals.
func Composite(c Components, w Weights) float64 {
	sum := w.Media*c.Media + w.Social*c.Social + w.Retailer*c.Retailer +
		w.Price*c.Price + w.Search*c.Search + w.Seasonal*c.Seasonal
	return round2(clamp(sum, 0, 100))
}

// Inputs are the observations the components are computed from.
type Inputs struct {
	Category models.Category
	AsOf     time.Time
	// Signals covers the signal window; Prices covers the longer price window.
	Signals []models.Observation
	Prices  []models.Observation
}

// SignalCount is the number of distinct observations feeding any data-bearing
// component. Prices inside the signal window are counted once.
func (in Inputs) SignalCount() int {
	n := len(in.Prices)
	for _, o := range in.Signals {
		if o.SignalType != models.SignalPrice {
			n++
		}
	}
	return n
}

// ComputeComponents derives all six components from in. It is pure.
func ComputeComponents(in Inputs, cfg Config) Components {
	cfg = cfg.withDefaults()

	var media, social, retail, search []models.Observation
	for _, o := range in.Signals {
		switch o.SignalType {
		case models.SignalMedia:
			media = append(media, o)
		case models.SignalSocial:
			social = append(social, o)
		case models.SignalSearch:
			search = append(search, o)
		case models.SignalRetailListing, models.SignalPrice, models.SignalInventory:
			retail = append(retail, o)
		}
	}

	return Components{
		Media:    round2(mediaScore(media, in.AsOf, cfg)),
		Social:   round2(socialScore(social, in.AsOf, cfg)),
		Retailer: round2(retailerScore(retail, in.AsOf, cfg)),
		Price:    round2(priceScore(in.Prices, cfg)),
		Search:   round2(searchScore(search, in.AsOf, cfg)),
		Seasonal: SeasonalScore(in.Category, in.AsOf),
	}
}

// decay is the exponential weight of an observation age under halfLife.
func decay(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// logScale maps x onto [0,100] so that saturation scores exactly 100.
func logScale(x, saturation float64) float64 {
	if x <= 0 {
		return 0
	}
	return clamp(100*math.Log1p(x)/math.Log1p(saturation), 0, 100)
}

func mediaScore(obs []models.Observation, asOf time.Time, cfg Config) float64 {
	d := 0.0
	for _, o := range obs {
		d += decay(asOf.Sub(o.RecordedAt), cfg.MediaHalfLife)
	}
	return logScale(d, cfg.MediaSaturation)
}

// socialScore log-scales decayed engagement per day across the window.
func socialScore(obs []models.Observation, asOf time.Time, cfg Config) float64 {
	total := 0.0
	for _, o := range obs {
		engagement := math.Max(o.Value, 1)
		total += engagement * decay(asOf.Sub(o.RecordedAt), cfg.SocialHalfLife)
	}
	days := cfg.SignalWindow.Hours() / 24
	if days <= 0 {
		days = 1
	}
	return logScale(total/days, cfg.SocialSaturation)
}

// retailerScore gives up to 80 points for distribution breadth and up to 20 for
// how recently a listing was seen.
func retailerScore(obs []models.Observation, asOf time.Time, cfg Config) float64 {
	if len(obs) == 0 {
		return 0
	}
	distributors := make(map[string]struct{})
	var last time.Time
	for _, o := range obs {
		distributors[o.DistributorID] = struct{}{}
		if o.RecordedAt.After(last) {
			last = o.RecordedAt
		}
	}
	breadth := 80 * math.Min(float64(len(distributors))/cfg.RetailerSaturation, 1)
	recency := 20 * decay(asOf.Sub(last), cfg.RetailerHalfLife)
	return clamp(breadth+recency, 0, 100)
}

// priceScore rewards price drops and volatility and penalizes rises. Without any
// price data it is 0.
func priceScore(obs []models.Observation, cfg Config) float64 {
	if len(obs) == 0 {
		return 0
	}

	byDistributor := make(map[string][]models.Observation)
	for _, o := range obs {
		if o.Value <= 0 {
			continue
		}
		byDistributor[o.DistributorID] = append(byDistributor[o.DistributorID], o)
	}
	if len(byDistributor) == 0 {
		return 0
	}

	var changeSum, cvSum float64
	for _, series := range byDistributor {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].RecordedAt.Before(series[j].RecordedAt)
		})
		first, last := series[0].Value, series[len(series)-1].Value
		changeSum += (last - first) / first
		cvSum += coefficientOfVariation(series)
	}
	n := float64(len(byDistributor))
	change, cv := changeSum/n, cvSum/n

	score := 20.0
	if change < 0 {
		score += 60 * math.Min(-change/cfg.PriceDropSaturation, 1)
	} else if change > 0 {
		score -= 20 * math.Min(change/cfg.PriceRiseSaturation, 1)
	}
	score += 20 * math.Min(cv/cfg.PriceCVSaturation, 1)
	return clamp(score, 0, 100)
}

func coefficientOfVariation(series []models.Observation) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := 0.0
	for _, o := range series {
		mean += o.Value
	}
	mean /= float64(len(series))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, o := range series {
		variance += (o.Value - mean) * (o.Value - mean)
	}
	variance /= float64(len(series))
	return math.Sqrt(variance) / mean
}

// searchScore is the decay-weighted mean of search interest values.
func searchScore(obs []models.Observation, asOf time.Time, cfg Config) float64 {
	var weighted, weights float64
	for _, o := range obs {
		w := decay(asOf.Sub(o.RecordedAt), cfg.SearchHalfLife)
		weighted += w * clamp(o.Value, 0, 100)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return clamp(weighted/weights, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

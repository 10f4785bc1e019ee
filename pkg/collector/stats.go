package collector

import (
	"math"

	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
)

// Stats is the content of stats.json.
type Stats struct {
	RunWon       bool   `json:"run_won"`
	RunCompleted bool   `json:"run_completed"`
	FinalAnte    int    `json:"final_ante"`
	FinalRound   int    `json:"final_round"`
	Outcome      string `json:"outcome"`

	Providers map[string]int `json:"providers"`

	CallsTotal   int `json:"calls_total"`
	CallsSuccess int `json:"calls_success"`
	CallsError   int `json:"calls_error"`
	CallsFailed  int `json:"calls_failed"`

	TokensInTotal  int     `json:"tokens_in_total"`
	TokensOutTotal int     `json:"tokens_out_total"`
	TokensInAvg    float64 `json:"tokens_in_avg"`
	TokensOutAvg   float64 `json:"tokens_out_avg"`
	TokensInStd    float64 `json:"tokens_in_std"`
	TokensOutStd   float64 `json:"tokens_out_std"`

	TimeTotalMs int64   `json:"time_total_ms"`
	TimeAvgMs   float64 `json:"time_avg_ms"`
	TimeStdMs   float64 `json:"time_std_ms"`

	CostTotal float64 `json:"cost_total"`
	CostAvg   float64 `json:"cost_avg"`
	CostStd   float64 `json:"cost_std"`
}

type callCounts struct {
	success int
	error   int
	failed  int
}

type accumulator struct {
	calls     callCounts
	providers map[string]int
	tokensIn  []float64
	tokensOut []float64
	timesMs   []float64
	costs     []float64
}

func newAccumulator() accumulator {
	return accumulator{providers: make(map[string]int)}
}

func (a *accumulator) addResponse(resp *llm.Response, elapsedMs int64) {
	if resp.Provider != "" {
		a.providers[resp.Provider]++
	}
	a.tokensIn = append(a.tokensIn, float64(resp.Usage.InputTokens))
	a.tokensOut = append(a.tokensOut, float64(resp.Usage.OutputTokens))
	a.costs = append(a.costs, resp.Usage.Cost)
	a.timesMs = append(a.timesMs, float64(elapsedMs))
}

func (a *accumulator) stats(final *game.Gamestate, outcome string) *Stats {
	s := &Stats{
		Outcome:      outcome,
		Providers:    a.providers,
		CallsSuccess: a.calls.success,
		CallsError:   a.calls.error,
		CallsFailed:  a.calls.failed,
		CallsTotal:   a.calls.success + a.calls.error + a.calls.failed,
	}
	if final != nil {
		s.RunWon = final.Won
		s.RunCompleted = final.Won || final.Phase.Terminal()
		s.FinalAnte = final.Ante
		s.FinalRound = final.Round
	}

	var total float64
	total, s.TokensInAvg, s.TokensInStd = summarize(a.tokensIn)
	s.TokensInTotal = int(total)
	total, s.TokensOutAvg, s.TokensOutStd = summarize(a.tokensOut)
	s.TokensOutTotal = int(total)
	total, s.TimeAvgMs, s.TimeStdMs = summarize(a.timesMs)
	s.TimeTotalMs = int64(total)
	s.CostTotal, s.CostAvg, s.CostStd = summarize(a.costs)
	return s
}

// summarize returns the sum, mean and sample standard deviation of xs.
// The deviation is zero for fewer than two values.
func summarize(xs []float64) (sum, mean, std float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return sum, mean, 0
	}
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return sum, mean, math.Sqrt(sq / float64(len(xs)-1))
}

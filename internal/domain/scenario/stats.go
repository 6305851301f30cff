package scenario

import (
	"context"
	"time"
)

// Stats aggregates the run log of one template. Nothing here is stored;
// every call recomputes from the runs.
type Stats struct {
	Runs        int            `json:"runs"`
	Success     int            `json:"success"`
	Partial     int            `json:"partial"`
	Errors      int            `json:"errors"`
	Cancelled   int            `json:"cancelled"`
	SuccessRate float64        `json:"success_rate"`
	// ACKDistribution counts step outcomes by the peer's answer class.
	ACKDistribution map[string]int `json:"ack_distribution"`
	MeanDuration    time.Duration  `json:"mean_duration"`
}

// Stats computes the aggregations over the runs of a template since the
// given time (nil = all time).
func (s *Service) Stats(ctx context.Context, key string, since *time.Time) (*Stats, error) {
	runs, err := s.repo.RunsForTemplate(ctx, key, since)
	if err != nil {
		return nil, err
	}

	st := &Stats{ACKDistribution: map[string]int{}}
	var totalDuration time.Duration
	finished := 0

	for _, r := range runs {
		st.Runs++
		switch r.Status {
		case RunSuccess:
			st.Success++
		case RunPartial:
			st.Partial++
		case RunError:
			st.Errors++
		case RunCancelled:
			st.Cancelled++
		}
		if r.FinishedAt != nil {
			totalDuration += r.Duration()
			finished++
		}
		for _, rs := range r.Steps {
			switch rs.Status {
			case StepSuccess:
				st.ACKDistribution["AA"]++
			case StepError:
				if rs.ErrorKind != "" {
					st.ACKDistribution[rs.ErrorKind]++
				} else {
					st.ACKDistribution["AE"]++
				}
			case StepSkipped:
				st.ACKDistribution["skipped"]++
			}
		}
	}

	if st.Runs > 0 {
		st.SuccessRate = float64(st.Success) / float64(st.Runs)
	}
	if finished > 0 {
		st.MeanDuration = totalDuration / time.Duration(finished)
	}
	return st, nil
}

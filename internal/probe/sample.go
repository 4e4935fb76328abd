package probe

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"edgemetrics/internal/model"
)

// Sample runs Measure sequentially and folds the passes into one record.
// Any unreachable pass abandons the endpoint for this cycle.
func (p *Prober) Sample(ctx context.Context, rawURL string) (model.MetricRecord, error) {
	samples := make([]model.TimingSample, 0, p.samples)
	for i := 0; i < p.samples; i++ {
		m, err := p.Measure(ctx, rawURL)
		if err != nil {
			return model.MetricRecord{}, err
		}
		if m.Timing.Status == TimingMalformed {
			log.Printf("[probe] %s: ignoring server timing: %v", rawURL, m.Timing.Err)
		}
		samples = append(samples, m.TimingSample)
	}
	return Fold(samples)
}

// Fold collapses samples into a MetricRecord.
//
// Duration fields are averaged in milliseconds. Compute time is averaged in
// microseconds first and only then converted. The status code comes from
// the most recent sample.
func Fold(samples []model.TimingSample) (model.MetricRecord, error) {
	if len(samples) == 0 {
		return model.MetricRecord{}, errors.New("no samples to fold")
	}

	n := float64(len(samples))
	var tfb, rwl, tcp, tls, cptMicros float64
	for _, s := range samples {
		tfb += millis(s.TimeToFirstByte)
		rwl += millis(s.RoundTrip)
		tcp += millis(s.TCPConnect)
		tls += millis(s.TLSHandshake)
		cptMicros += float64(s.ComputeMicros)
	}

	cptMean := math.RoundToEven(cptMicros / n)
	return model.MetricRecord{
		TFB: round(tfb / n),
		RWL: round(rwl / n),
		CPT: round(cptMean / 1000),
		TCP: round(tcp / n),
		TLS: round(tls / n),
		HTC: int64(samples[len(samples)-1].HTTPStatus),
	}, nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round(v float64) int64 {
	return int64(math.RoundToEven(v))
}

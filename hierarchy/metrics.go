package hierarchy

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// recordTx counts a committed or aborted coordinator transaction.
func recordTx(op string, err error) {
	result := "committed"
	if err != nil {
		result = "aborted"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`arbor_tx_total{op=%q,result=%q}`, op, result)).Inc()
}

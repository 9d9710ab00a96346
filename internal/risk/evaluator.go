// Package risk scores a network origin into a flagged/confidence verdict.
// Evaluation is a pure function of its inputs and configuration so it stays
// independently testable and can be swapped for a stronger provider without
// touching the pipeline.
package risk

import (
	"net/netip"

	"github.com/mssola/useragent"
)

// Named signals callers may attach to a submission. Each contributes a fixed
// weight to the confidence score.
const (
	SignalBrowserAnomaly = "browser_anomaly"
	SignalBotUserAgent   = "bot_user_agent"
	SignalDatacenterASN  = "datacenter_asn"
	SignalTorExit        = "tor_exit"
)

const (
	reservedRangeWeight = 0.9
	unparsableWeight    = 0.9
)

// Config holds the scoring policy.
type Config struct {
	// Threshold above which a verdict is flagged.
	Threshold float64
	// SignalWeights maps signal names to their fixed contribution. Unknown
	// signals contribute nothing but are echoed in the reasons.
	SignalWeights map[string]float64
}

// DefaultConfig returns the baseline policy with a 0.5 threshold.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.5,
		SignalWeights: map[string]float64{
			SignalBrowserAnomaly: 0.3,
			SignalBotUserAgent:   0.3,
			SignalDatacenterASN:  0.4,
			SignalTorExit:        0.6,
		},
	}
}

// Verdict is the evaluator's output.
type Verdict struct {
	Flagged    bool
	Confidence float64
	Reasons    []string
}

// Evaluate scores an address plus caller-supplied signals. A private or
// otherwise reserved address should never reach a public-facing verifier, so
// it scores high on its own; an unparsable address scores the same rather
// than failing, since a client that cannot report a routable address is
// itself a strong anomaly.
func Evaluate(cfg Config, ip string, signals []string) Verdict {
	v := Verdict{Reasons: []string{}}

	addr, err := netip.ParseAddr(ip)
	switch {
	case err != nil:
		v.Confidence += unparsableWeight
		v.Reasons = append(v.Reasons, "unparsable address")
	case isReserved(addr):
		v.Confidence += reservedRangeWeight
		v.Reasons = append(v.Reasons, "private or reserved address range")
	}

	for _, signal := range signals {
		if weight, ok := cfg.SignalWeights[signal]; ok {
			v.Confidence += weight
		}
		v.Reasons = append(v.Reasons, "signal: "+signal)
	}

	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.Flagged = v.Confidence > cfg.Threshold
	return v
}

// SignalsFromUserAgent derives risk signals from a submitted user agent
// string. Headless and bot agents are a common trait of verification farms.
func SignalsFromUserAgent(ua string) []string {
	if ua == "" {
		return nil
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return []string{SignalBotUserAgent}
	}
	if name, _ := parsed.Browser(); name == "" {
		return []string{SignalBrowserAnomaly}
	}
	return nil
}

func isReserved(addr netip.Addr) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

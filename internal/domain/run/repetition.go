package run

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// RepetitionRule stops when the same command has produced identical output
// Threshold times in a row. Denied steps break the sequence.
type RepetitionRule struct {
	Threshold int
}

func (r RepetitionRule) Name() string { return RuleRepetition }
func (r RepetitionRule) Window() int  { return r.Threshold }

func (r RepetitionRule) Check(tail []Step) StopSignal {
	if r.Threshold <= 1 || len(tail) < r.Threshold {
		return StopSignal{}
	}
	window := tail[len(tail)-r.Threshold:]
	first := fingerprint(window[0])
	if first == 0 {
		return StopSignal{}
	}
	for _, s := range window[1:] {
		if fingerprint(s) != first {
			return StopSignal{}
		}
	}
	return StopSignal{
		Stop:   true,
		Reason: fmt.Sprintf("%q returned identical results %d times in a row", strings.TrimSpace(window[0].Command), r.Threshold),
	}
}

// fingerprint hashes command, exit status and output of an executed step.
// Denied steps hash to 0.
func fingerprint(s Step) uint64 {
	if s.Denied() || s.Outcome == nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(s.Command)))
	_, _ = h.Write([]byte{0})
	if code, ok := s.Outcome.ExitCode(); ok {
		_, _ = h.Write([]byte(strconv.Itoa(code)))
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s.Outcome.Stdout))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s.Outcome.Stderr))
	return h.Sum64()
}
